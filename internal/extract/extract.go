// Package extract reads plain text out of files for content indexing.
//
// Only the text MIME family is extracted. Anything else, and anything that
// cannot be read or decoded, is reported as unextractable so the caller falls
// back to a filename-only document.
package extract

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultMaxBytes is the largest file whose content is extracted.
const DefaultMaxBytes = 10 * 1024 * 1024

// Content is the result of a successful extraction.
type Content struct {
	// Text is the decoded document text.
	Text string
	// Metadata is extra searchable text such as a declared title. Often empty.
	Metadata string
	// FileType is a short type tag such as "txt" or "md".
	FileType string
	// MIME is the detected media type without parameters.
	MIME string
	// Charset is the encoding the text was decoded from.
	Charset string
}

// Options configures a TextExtractor.
type Options struct {
	MaxBytes int64
}

// TextExtractor extracts text files, retrying charsets until one decodes.
type TextExtractor struct {
	maxBytes int64
}

// NewTextExtractor creates a TextExtractor.
func NewTextExtractor(opts Options) *TextExtractor {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &TextExtractor{maxBytes: opts.MaxBytes}
}

// Extract returns the text of path, or false when the file is binary,
// unsupported, too large or unreadable.
func (e *TextExtractor) Extract(ctx context.Context, path string) (Content, bool) {
	if ctx.Err() != nil {
		return Content{}, false
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Debug("extract_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		return Content{}, false
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, e.maxBytes+1))
	if err != nil {
		slog.Debug("extract_read_failed", slog.String("path", path), slog.String("error", err.Error()))
		return Content{}, false
	}
	if int64(len(data)) > e.maxBytes {
		slog.Debug("extract_too_large", slog.String("path", path), slog.Int64("max_bytes", e.maxBytes))
		return Content{}, false
	}

	mt := mimetype.Detect(data)
	if !isText(mt) {
		return Content{}, false
	}
	mediaType, params, err := mime.ParseMediaType(mt.String())
	if err != nil {
		mediaType = mt.String()
	}

	text, charset, ok := decode(data, params["charset"])
	if !ok {
		return Content{}, false
	}

	return Content{
		Text:     text,
		FileType: TypeTag(path, mt),
		MIME:     mediaType,
		Charset:  charset,
	}, true
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decode tries UTF-8, then a UTF-16 byte order mark, then the declared
// charset, then Windows-1252, which accepts any input.
func decode(data []byte, declared string) (string, string, bool) {
	if trimmed, ok := bytes.CutPrefix(data, bomUTF8); ok {
		data = trimmed
	}
	if utf8.Valid(data) {
		return string(data), "utf-8", true
	}

	if bytes.HasPrefix(data, bomUTF16LE) || bytes.HasPrefix(data, bomUTF16BE) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		if text, ok := decodeWith(dec, data); ok {
			return text, "utf-16", true
		}
	}

	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != "utf-8" {
		if enc, err := htmlindex.Get(declared); err == nil {
			if text, ok := decodeWith(enc.NewDecoder(), data); ok {
				return text, declared, true
			}
		}
	}

	if text, ok := decodeWith(charmap.Windows1252.NewDecoder(), data); ok {
		return text, "windows-1252", true
	}
	return "", "", false
}

func decodeWith(dec *encoding.Decoder, data []byte) (string, bool) {
	out, err := dec.Bytes(data)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

// TypeTag derives a short type tag from the file extension, falling back to
// the detected MIME type. mt may be nil.
func TypeTag(path string, mt *mimetype.MIME) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext != "" {
		return ext
	}
	if mt != nil {
		if ext := strings.TrimPrefix(mt.Extension(), "."); ext != "" {
			return ext
		}
	}
	return "file"
}

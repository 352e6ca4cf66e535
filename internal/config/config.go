package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
)

// ProjectConfigName is the per-directory configuration file.
const ProjectConfigName = ".amanfind.yaml"

// DefaultIgnoreFile is the ignore file read in indexed folders by default.
const DefaultIgnoreFile = ".amanfindignore"

// Config represents the complete amanfind configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// IndexConfig configures where the index lives and what goes into it.
type IndexConfig struct {
	// Directory holds the index segments, manifest and telemetry database.
	Directory string `yaml:"directory" json:"directory"`

	// RootFolders are indexed by "amanfind index" when no folders are given.
	RootFolders []string `yaml:"root_folders" json:"root_folders"`

	// SkipFolderNames prune directories by base name at any depth.
	SkipFolderNames []string `yaml:"skip_folder_names" json:"skip_folder_names"`

	// IgnoreFiles are read in every indexed directory; their gitignore-style
	// patterns exclude files and folders below it.
	IgnoreFiles []string `yaml:"ignore_files" json:"ignore_files"`

	// IncludeHidden also indexes dot-directories (default: false).
	IncludeHidden bool `yaml:"include_hidden" json:"include_hidden"`

	// Workers is the number of extraction goroutines (default: NumCPU-1, min 1).
	Workers int `yaml:"workers" json:"workers"`

	// QueueSize bounds the path queue between traversal and workers.
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// FlushDocs is the number of buffered documents per segment.
	FlushDocs int `yaml:"flush_docs" json:"flush_docs"`

	// MaxContentBytes skips content extraction for larger files.
	MaxContentBytes int64 `yaml:"max_content_bytes" json:"max_content_bytes"`

	// MaxContentTokens caps the tokens indexed per document body.
	MaxContentTokens int `yaml:"max_content_tokens" json:"max_content_tokens"`
}

// SearchConfig configures ranking and result limits.
type SearchConfig struct {
	MaxResults int     `yaml:"max_results" json:"max_results"`
	K1         float64 `yaml:"bm25_k1" json:"bm25_k1"`
	B          float64 `yaml:"bm25_b" json:"bm25_b"`
	CacheSize  int     `yaml:"cache_size" json:"cache_size"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// defaultSkipFolderNames are pruned unless the configuration says otherwise.
var defaultSkipFolderNames = []string{
	".git", ".hg", ".svn",
	"node_modules", "__pycache__", ".venv",
	".Trash", "$RECYCLE.BIN", "System Volume Information",
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Directory:        DefaultIndexDirectory(),
			RootFolders:      []string{},
			SkipFolderNames:  append([]string(nil), defaultSkipFolderNames...),
			IgnoreFiles:      []string{DefaultIgnoreFile},
			Workers:          max(runtime.NumCPU()-1, 1),
			QueueSize:        1000,
			FlushDocs:        5000,
			MaxContentBytes:  10 * 1024 * 1024,
			MaxContentTokens: 100000,
		},
		Search: SearchConfig{
			MaxResults: 100,
			K1:         1.2,
			B:          0.75,
			CacheSize:  256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultIndexDirectory returns $XDG_DATA_HOME/amanfind/index, falling back
// to ~/.local/share/amanfind/index.
func DefaultIndexDirectory() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanfind", "index")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "amanfind", "index")
	}
	return filepath.Join(home, ".local", "share", "amanfind", "index")
}

// GetUserConfigPath returns the path to the user configuration file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/amanfind/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanfind", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanfind", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanfind", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := readYAML(configPath, &parsed); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &parsed, nil
}

// Load builds the configuration for dir. Precedence, lowest first: defaults,
// user config, project config (.amanfind.yaml in dir), AMANFIND_* env vars.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := LoadUserConfig()
	if err != nil {
		return nil, amerrors.ConfigError("failed to load user config", err)
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, amerrors.ConfigError("failed to load project config", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single explicit file, then env vars.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	var parsed Config
	if err := readYAML(path, &parsed); err != nil {
		return nil, amerrors.ConfigError("failed to load config", err)
	}
	cfg.mergeWith(&parsed)
	cfg.applyEnvOverrides()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectConfigName, ".amanfind.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith overlays the non-zero values of other.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Index.Directory != "" {
		c.Index.Directory = other.Index.Directory
	}
	if len(other.Index.RootFolders) > 0 {
		c.Index.RootFolders = other.Index.RootFolders
	}
	if len(other.Index.SkipFolderNames) > 0 {
		c.Index.SkipFolderNames = other.Index.SkipFolderNames
	}
	if other.Index.IgnoreFiles != nil {
		c.Index.IgnoreFiles = other.Index.IgnoreFiles
	}
	if other.Index.IncludeHidden {
		c.Index.IncludeHidden = true
	}
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if other.Index.QueueSize != 0 {
		c.Index.QueueSize = other.Index.QueueSize
	}
	if other.Index.FlushDocs != 0 {
		c.Index.FlushDocs = other.Index.FlushDocs
	}
	if other.Index.MaxContentBytes != 0 {
		c.Index.MaxContentBytes = other.Index.MaxContentBytes
	}
	if other.Index.MaxContentTokens != 0 {
		c.Index.MaxContentTokens = other.Index.MaxContentTokens
	}

	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.K1 != 0 {
		c.Search.K1 = other.Search.K1
	}
	if other.Search.B != 0 {
		c.Search.B = other.Search.B
	}
	if other.Search.CacheSize != 0 {
		c.Search.CacheSize = other.Search.CacheSize
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
}

// applyEnvOverrides applies AMANFIND_* environment variables. Invalid numbers
// are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANFIND_INDEX_DIR"); v != "" {
		c.Index.Directory = v
	}
	if v := os.Getenv("AMANFIND_ROOT_FOLDERS"); v != "" {
		c.Index.RootFolders = splitList(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("AMANFIND_SKIP_FOLDERS"); v != "" {
		c.Index.SkipFolderNames = splitList(v, ",")
	}
	if v := os.Getenv("AMANFIND_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.Workers = n
		}
	}
	if v := os.Getenv("AMANFIND_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if v := os.Getenv("AMANFIND_BM25_K1"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			c.Search.K1 = f
		}
	}
	if v := os.Getenv("AMANFIND_BM25_B"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 && f <= 1 {
			c.Search.B = f
		}
	}
	if v := os.Getenv("AMANFIND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// expandPaths resolves a leading ~ in configured paths.
func (c *Config) expandPaths() {
	c.Index.Directory = expandHome(c.Index.Directory)
	for i, f := range c.Index.RootFolders {
		c.Index.RootFolders[i] = expandHome(f)
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return amerrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	if strings.TrimSpace(c.Index.Directory) == "" {
		return invalid("index.directory must not be empty")
	}
	for _, name := range c.Index.IgnoreFiles {
		if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
			return invalid("index.ignore_files must be file names, got %s", name)
		}
	}
	if c.Index.Workers < 0 {
		return invalid("index.workers must be non-negative, got %d", c.Index.Workers)
	}
	if c.Index.QueueSize < 1 {
		return invalid("index.queue_size must be at least 1, got %d", c.Index.QueueSize)
	}
	if c.Index.FlushDocs < 1 {
		return invalid("index.flush_docs must be at least 1, got %d", c.Index.FlushDocs)
	}
	if c.Index.MaxContentBytes < 1 {
		return invalid("index.max_content_bytes must be positive, got %d", c.Index.MaxContentBytes)
	}
	if c.Index.MaxContentTokens < 1 {
		return invalid("index.max_content_tokens must be positive, got %d", c.Index.MaxContentTokens)
	}

	if c.Search.MaxResults < 1 {
		return invalid("search.max_results must be at least 1, got %d", c.Search.MaxResults)
	}
	if c.Search.K1 < 0 {
		return invalid("search.bm25_k1 must be non-negative, got %f", c.Search.K1)
	}
	if c.Search.B < 0 || c.Search.B > 1 {
		return invalid("search.bm25_b must be between 0 and 1, got %f", c.Search.B)
	}
	if c.Search.CacheSize < 0 {
		return invalid("search.cache_size must be non-negative, got %d", c.Search.CacheSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return invalid("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MergeNewDefaults fills fields missing from an older config file with their
// defaults. Returns the names of the fields that were added.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Version == 0 {
		c.Version = defaults.Version
		added = append(added, "version")
	}
	if c.Index.Directory == "" {
		c.Index.Directory = defaults.Index.Directory
		added = append(added, "index.directory")
	}
	if len(c.Index.SkipFolderNames) == 0 {
		c.Index.SkipFolderNames = defaults.Index.SkipFolderNames
		added = append(added, "index.skip_folder_names")
	}
	if c.Index.IgnoreFiles == nil {
		c.Index.IgnoreFiles = defaults.Index.IgnoreFiles
		added = append(added, "index.ignore_files")
	}
	if c.Index.QueueSize == 0 {
		c.Index.QueueSize = defaults.Index.QueueSize
		added = append(added, "index.queue_size")
	}
	if c.Index.FlushDocs == 0 {
		c.Index.FlushDocs = defaults.Index.FlushDocs
		added = append(added, "index.flush_docs")
	}
	if c.Index.MaxContentBytes == 0 {
		c.Index.MaxContentBytes = defaults.Index.MaxContentBytes
		added = append(added, "index.max_content_bytes")
	}
	if c.Index.MaxContentTokens == 0 {
		c.Index.MaxContentTokens = defaults.Index.MaxContentTokens
		added = append(added, "index.max_content_tokens")
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = defaults.Search.MaxResults
		added = append(added, "search.max_results")
	}
	if c.Search.K1 == 0 {
		c.Search.K1 = defaults.Search.K1
		added = append(added, "search.bm25_k1")
	}
	if c.Search.B == 0 {
		c.Search.B = defaults.Search.B
		added = append(added, "search.bm25_b")
	}
	if c.Search.CacheSize == 0 {
		c.Search.CacheSize = defaults.Search.CacheSize
		added = append(added, "search.cache_size")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
		added = append(added, "logging.level")
	}
	// workers: 0 means "auto", so it is never added.

	return added
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

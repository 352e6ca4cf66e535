// Package logging configures slog for amanfind. Without --debug, warnings and
// errors go to stderr as text. With --debug, JSON logs at debug level are also
// written to a rotating file under ~/.amanfind/logs/, which "amanfind logs"
// can tail and follow.
package logging

package observability

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Defaults to "info".
	Level string

	// Format specifies the output format (json, text).
	// Defaults to "json".
	Format string

	// Output is the destination for logs. Defaults to os.Stderr so log
	// lines never interleave with query results written to stdout.
	Output io.Writer

	// AddSource includes the file:line of the logging call.
	AddSource bool
}

// NewLogger creates a structured logger with the given configuration.
//
// Example:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "debug",
//	    Format: "text",
//	})
//	logger.Info("collection opened", "backend", "sqlite")
func NewLogger(config LogConfig) *slog.Logger {
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}

// LogLevelFromString converts a string level to slog.Level.
// Unknown or empty strings default to info.
func LogLevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactDSN masks the password component of a database URL so connection
// targets can be logged safely. Strings that do not parse as URLs, or that
// carry no userinfo, are returned unchanged.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); !has {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}

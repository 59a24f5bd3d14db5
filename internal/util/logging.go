package util

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ConfigureLogging installs a JSON slog handler as the default logger. The
// returned closer releases the log file, if one was opened.
func ConfigureLogging(cfg Configuration) (io.Closer, error) {
	writer, closer, err := configureLogWriter(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	loggerOptions := &slog.HandlerOptions{
		AddSource: false,
		Level:     LogLevelFromString(cfg.LogLevel),
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(writer, loggerOptions)))
	return closer, nil
}

func configureLogWriter(logFile string) (io.Writer, io.Closer, error) {
	if logFile == "" {
		return os.Stderr, io.NopCloser(os.Stderr), nil
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory for '%s': %w", logFile, err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file '%s': %w", logFile, err)
	}
	return f, f, nil
}

func LogLevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

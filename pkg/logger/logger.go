// Package logger configures the process-wide slog logger.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds a text-handler logger at the requested level and installs it
// as the slog default. logFile is either "stdout" or a path opened in append
// mode; open failures fall back to stdout with an error logged.
func Setup(logLevel string, logFile string) *slog.Logger {
	var logWriter = os.Stdout
	var handlerOptions = &slog.HandlerOptions{Level: getLogLevel(logLevel)}

	if logFile != "" && logFile != "stdout" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			slog.Error("failed to open log file, using stdout", "file", logFile, "error", err)
		} else {
			logWriter = f
		}
	}

	logger := slog.New(slog.NewTextHandler(logWriter, handlerOptions))
	slog.SetDefault(logger)
	return logger
}

func getLogLevel(logLevel string) slog.Level {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return level
}

package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger(t *testing.T) {
	testCases := []struct {
		level    string
		message  string
		toFile   bool
		wantText string
	}{
		{"debug", "debug message", false, "debug message"},
		{"info", "info message", false, "info message"},
		{"debug", "debug to file", true, "debug to file"},
		{"info", "info to file", true, "info to file"},
		{"warn", "warn to file", true, "warn to file"},
		{"error", "error to file", true, "error to file"},
	}

	for _, tc := range testCases {
		name := tc.level
		if tc.toFile {
			name += "-file"
		}
		t.Run(name, func(t *testing.T) {
			logFile := "stdout"
			if tc.toFile {
				logFile = filepath.Join(t.TempDir(), "test.log")
			}

			Setup(tc.level, logFile)

			slog.Debug(tc.message)
			slog.Info(tc.message)
			slog.Warn(tc.message)
			slog.Error(tc.message)

			if !tc.toFile {
				// For stdout we can only verify setup completed.
				return
			}

			content, err := os.ReadFile(logFile)
			if err != nil {
				t.Fatalf("Failed to read log file: %v", err)
			}

			logContent := string(content)
			if !strings.Contains(logContent, tc.wantText) {
				t.Errorf("Log file does not contain expected text %q", tc.wantText)
			}

			switch tc.level {
			case "error":
				if strings.Contains(logContent, "level=INFO") {
					t.Error("Error level log contains INFO messages")
				}
			case "warn", "info":
				if strings.Contains(logContent, "level=DEBUG") {
					t.Error("Log contains DEBUG messages above debug level")
				}
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateLogLevel(t *testing.T) {
	validLevels := []string{"debug", "info", "warn", "error", "DEBUG", "INFO", "WARN", "ERROR"}
	for _, level := range validLevels {
		if err := ValidateLogLevel(level); err != nil {
			t.Errorf("ValidateLogLevel(%s) returned error: %v", level, err)
		}
	}

	invalidLevels := []string{"", "trace", "fatal", "invalid", "debugging"}
	for _, level := range invalidLevels {
		if err := ValidateLogLevel(level); err == nil {
			t.Errorf("ValidateLogLevel(%s) should return error", level)
		}
	}
}

func TestValidateSourceURL(t *testing.T) {
	validURLs := []string{
		"https://example.com/rules.json",
		"http://example.com/list.txt",
		"https://example.com/path/rules.yaml?raw=1",
	}
	for _, u := range validURLs {
		if err := ValidateSourceURL(u); err != nil {
			t.Errorf("ValidateSourceURL(%s) returned error: %v", u, err)
		}
	}

	invalidURLs := []string{
		"",
		"ftp://example.com/rules.json",
		"file:///etc/passwd",
		"/relative/path.json",
		"https://",
	}
	for _, u := range invalidURLs {
		if err := ValidateSourceURL(u); err == nil {
			t.Errorf("ValidateSourceURL(%s) should return error", u)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"rulesets": {
			"ads": ["https://example.com/ads.json"]
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Download.Concurrency != 5 {
		t.Errorf("Concurrency = %d, want 5", cfg.Download.Concurrency)
	}
	if cfg.Download.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Download.MaxRetries)
	}
	if cfg.Download.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Download.Timeout)
	}
	if cfg.Download.CacheTTL != 24*time.Hour {
		t.Errorf("CacheTTL = %s, want 24h", cfg.Download.CacheTTL)
	}
	if len(cfg.Filter.Keywords) != 1 || cfg.Filter.Keywords[0] != "ruleset.skk.moe" {
		t.Errorf("Filter.Keywords = %v", cfg.Filter.Keywords)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"version": 2,
		"rulesets": {
			"ads": ["https://example.com/ads.json", "https://example.com/ads.txt"]
		},
		"download": {
			"concurrency": 10,
			"timeout": "5s",
			"cache_ttl": "1h"
		},
		"compile": {
			"enabled": true,
			"binary": "./sing-box"
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != 2 {
		t.Errorf("Version = %d, want 2", cfg.Version)
	}
	if cfg.Download.Concurrency != 10 {
		t.Errorf("Concurrency = %d, want 10", cfg.Download.Concurrency)
	}
	if cfg.Download.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s, want 5s", cfg.Download.Timeout)
	}
	if cfg.Download.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %s, want 1h", cfg.Download.CacheTTL)
	}
	if !cfg.Compile.Enabled || cfg.Compile.Binary != "./sing-box" {
		t.Errorf("Compile = %+v", cfg.Compile)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no rulesets",
			content: `{"rulesets": {}}`,
			wantErr: "at least one",
		},
		{
			name:    "ruleset without urls",
			content: `{"rulesets": {"ads": []}}`,
			wantErr: "no source urls",
		},
		{
			name:    "bad url scheme",
			content: `{"rulesets": {"ads": ["ftp://example.com/x"]}}`,
			wantErr: "scheme",
		},
		{
			name:    "bad concurrency",
			content: `{"rulesets": {"ads": ["https://example.com/x.json"]}, "download": {"concurrency": 0}}`,
			wantErr: "concurrency",
		},
		{
			name:    "bad timeout",
			content: `{"rulesets": {"ads": ["https://example.com/x.json"]}, "download": {"timeout": "soon"}}`,
			wantErr: "timeout",
		},
		{
			name:    "compile without binary",
			content: `{"rulesets": {"ads": ["https://example.com/x.json"]}, "compile": {"enabled": true, "binary": " "}}`,
			wantErr: "compile.binary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetupHonorsEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"rulesets": {"ads": ["https://example.com/x.json"]}}`)
	t.Setenv("SRSBOX_CONFIG", path)

	cfg, err := Setup()
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if len(cfg.Rulesets) != 1 {
		t.Errorf("Rulesets = %v", cfg.Rulesets)
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Sentsuki/srs-box/pkg/config"
)

func testConfig(t *testing.T, rulesets map[string][]string) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		Version:  7,
		Rulesets: rulesets,
		Output: config.OutputConfig{
			JSONDir: filepath.Join(base, "json"),
			SRSDir:  filepath.Join(base, "srs"),
		},
		Download: config.DownloadConfig{
			Concurrency: 2,
			MaxRetries:  0,
			UseCache:    false,
			CacheDir:    filepath.Join(base, "cache"),
			WorkDir:     filepath.Join(base, "downloads"),
			Timeout:     5 * time.Second,
			BaseDelay:   time.Millisecond,
		},
		Filter: config.FilterConfig{
			Keywords: []string{"skk.moe"},
		},
		Logging: config.LoggingConfig{Level: "error", File: "stdout"},
	}
}

func TestRunMergesSourcesEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ads.json":
			fmt.Fprint(w, `{"rules":[{"domain_suffix":["b.com","a.com"]}]}`)
		case "/ads.txt":
			fmt.Fprint(w, "# comment\nDOMAIN-SUFFIX,b.com\nDOMAIN,block.skk.moe\nDOMAIN,keep.com\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t, map[string][]string{
		"ads": {
			srv.URL + "/ads.json",
			srv.URL + "/ads.txt",
			srv.URL + "/missing.json",
		},
	})

	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Artifacts != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 artifact", summary)
	}

	res := summary.Results[0]
	if res.Download.SuccessfulFiles != 2 || res.Download.FailedFiles != 1 {
		t.Errorf("download stats = %+v, want 2 ok / 1 failed", res.Download)
	}
	if res.FilteredCount != 1 {
		t.Errorf("FilteredCount = %d, want 1", res.FilteredCount)
	}
	if res.RuleCount != 3 {
		t.Errorf("RuleCount = %d, want 3", res.RuleCount)
	}

	data, err := os.ReadFile(res.JSONPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var doc struct {
		Version int                   `json:"version"`
		Rules   []map[string][]string `json:"rules"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal artifact: %v", err)
	}
	if doc.Version != 7 {
		t.Errorf("version = %d, want 7", doc.Version)
	}
	if len(doc.Rules) != 2 {
		t.Fatalf("got %d rule groups, want 2: %s", len(doc.Rules), data)
	}
	if !reflect.DeepEqual(doc.Rules[0]["domain"], []string{"keep.com"}) {
		t.Errorf("domain group = %v, want [keep.com] first", doc.Rules[0])
	}
	if !reflect.DeepEqual(doc.Rules[1]["domain_suffix"], []string{"a.com", "b.com"}) {
		t.Errorf("domain_suffix group = %v", doc.Rules[1])
	}
}

func TestRunIsDeterministicAcrossRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "DOMAIN-SUFFIX,b.com\nDOMAIN-SUFFIX,a.com\nIP-CIDR,10.0.0.0/8\n")
	}))
	defer srv.Close()

	run := func() []byte {
		cfg := testConfig(t, map[string][]string{"mix": {srv.URL + "/rules.txt"}})
		p, err := New(cfg, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		summary, err := p.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		data, err := os.ReadFile(summary.Results[0].JSONPath)
		if err != nil {
			t.Fatalf("read artifact: %v", err)
		}
		return data
	}

	first := run()
	second := run()
	if string(first) != string(second) {
		t.Errorf("runs produced different artifacts:\n%s\n---\n%s", first, second)
	}
}

func TestRunFailsWhenNoArtifactProduced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	cfg := testConfig(t, map[string][]string{"ads": {srv.URL + "/gone.json"}})
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := p.Run(context.Background())
	if !errors.Is(err, ErrNoArtifacts) {
		t.Fatalf("Run error = %v, want ErrNoArtifacts", err)
	}
	if summary.Failed != 1 || summary.Artifacts != 0 {
		t.Errorf("summary = %+v, want 1 failed / 0 artifacts", summary)
	}
}

func TestRunToleratesUnparsableSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken.json":
			fmt.Fprint(w, "{not json")
		default:
			fmt.Fprint(w, `{"rules":[{"domain":["good.com"]}]}`)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t, map[string][]string{
		"ads": {srv.URL + "/broken.json", srv.URL + "/good.json"},
	})
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Artifacts != 1 {
		t.Fatalf("summary = %+v, want 1 artifact", summary)
	}
	if summary.Results[0].RuleCount != 1 {
		t.Errorf("RuleCount = %d, want 1", summary.Results[0].RuleCount)
	}
}

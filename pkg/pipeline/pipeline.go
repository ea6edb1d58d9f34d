// Package pipeline drives a full run: classify configured sources, download
// them concurrently, merge and filter per ruleset, write the JSON document
// and optionally hand it to the rule-set compiler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Sentsuki/srs-box/pkg/compiler"
	"github.com/Sentsuki/srs-box/pkg/config"
	"github.com/Sentsuki/srs-box/pkg/fetch"
	"github.com/Sentsuki/srs-box/pkg/metrics"
	"github.com/Sentsuki/srs-box/pkg/output"
	"github.com/Sentsuki/srs-box/pkg/rules"
	"github.com/Sentsuki/srs-box/pkg/sources"
)

// ErrNoArtifacts is returned when no ruleset produced an output document.
var ErrNoArtifacts = errors.New("no ruleset produced an artifact")

// RulesetResult summarizes one ruleset's run.
type RulesetResult struct {
	Name          string
	JSONPath      string
	SRSPath       string
	RuleCount     int
	FilteredCount int
	SizeBytes     int64
	Download      fetch.Stats
	Err           error
}

// Summary aggregates a whole run.
type Summary struct {
	Results     []RulesetResult
	Artifacts   int
	Failed      int
	ElapsedTime time.Duration
}

// Pipeline wires the download, merge and compile stages together.
type Pipeline struct {
	cfg      *config.Config
	coord    *fetch.Coordinator
	cache    *fetch.Cache
	compiler *compiler.Compiler
	log      *slog.Logger
}

// New builds a pipeline from configuration.
func New(cfg *config.Config, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}

	var cache *fetch.Cache
	if cfg.Download.UseCache {
		var err error
		cache, err = fetch.NewCache(cfg.Download.CacheDir, cfg.Download.CacheTTL, log)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
	}

	client := fetch.NewHTTPClient(cfg.Download.Timeout)
	fetcher := fetch.NewFetcher(client, cache, cfg.Download.UserAgent, log)
	coord := fetch.NewCoordinator(fetcher, cfg.Download.Concurrency, log)

	p := &Pipeline{cfg: cfg, coord: coord, cache: cache, log: log}
	if cfg.Compile.Enabled {
		p.compiler = compiler.New(cfg.Compile.Binary, cfg.Output.SRSDir, log)
	}
	return p, nil
}

// Run processes every configured ruleset. Rulesets are independent: one
// failing never stops the others. Run returns ErrNoArtifacts when the whole
// run produced nothing.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	names := make([]string, 0, len(p.cfg.Rulesets))
	for name := range p.cfg.Rulesets {
		names = append(names, name)
	}
	sort.Strings(names)

	summary := Summary{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			summary.Results = append(summary.Results, RulesetResult{Name: name, Err: err})
			summary.Failed++
			continue
		}
		result := p.processRuleset(ctx, name, p.cfg.Rulesets[name])
		if result.Err != nil {
			summary.Failed++
			p.log.Error("ruleset failed", "ruleset", name, "error", result.Err)
		} else {
			summary.Artifacts++
		}
		summary.Results = append(summary.Results, result)
	}
	summary.ElapsedTime = time.Since(start)

	p.log.Info("run finished",
		"rulesets", len(names),
		"artifacts", summary.Artifacts,
		"failed", summary.Failed,
		"elapsed", summary.ElapsedTime.Round(time.Millisecond))

	if summary.Artifacts == 0 {
		return summary, ErrNoArtifacts
	}
	return summary, nil
}

// processRuleset runs the download, merge, filter, write and compile stages
// for one ruleset.
func (p *Pipeline) processRuleset(ctx context.Context, name string, urls []string) RulesetResult {
	result := RulesetResult{Name: name}

	srcs := sources.BuildSources(name, urls)
	if len(srcs) == 0 {
		result.Err = errors.New("no usable source urls")
		return result
	}

	workDir := filepath.Join(p.cfg.Download.WorkDir, name)
	tasks := make([]fetch.Task, len(srcs))
	for i, src := range srcs {
		tasks[i] = fetch.Task{
			URL:  src.URL,
			Dest: filepath.Join(workDir, sources.FileName(src.URL, i)),
		}
	}

	opts := fetch.Options{
		MaxRetries: p.cfg.Download.MaxRetries,
		BaseDelay:  p.cfg.Download.BaseDelay,
		UseCache:   p.cfg.Download.UseCache,
		Resume:     p.cfg.Download.Resume,
	}
	results, stats := p.coord.FetchAll(ctx, tasks, opts, func(bp fetch.BatchProgress) {
		p.log.Info("download progress",
			"ruleset", name,
			"completed", bp.CompletedFiles,
			"total", bp.TotalFiles,
			"speed_mbps", fmt.Sprintf("%.2f", bp.SpeedMBps))
	})
	result.Download = stats

	if stats.SuccessfulFiles == 0 {
		result.Err = fmt.Errorf("all %d sources failed", stats.TotalFiles)
		return result
	}

	// Fold downloads in configured source order so the merged document is
	// independent of download completion order.
	acc := rules.NewAccumulator(p.cfg.Filter.Strict, p.log)
	for i, dl := range results {
		if !dl.Success {
			continue
		}
		if err := p.foldSource(acc, srcs[i], dl.Path); err != nil {
			// Parse failures exclude the source, never the ruleset.
			p.log.Warn("excluding unparsable source", "ruleset", name, "url", srcs[i].URL, "error", err)
		}
	}
	if acc.Empty() {
		result.Err = errors.New("no valid rule data in any source")
		return result
	}

	doc := acc.Finalize(p.cfg.Version)
	result.FilteredCount = rules.Filter(doc, p.cfg.Filter.Keywords)
	result.RuleCount = rules.CountValues(doc)
	metrics.RulesMerged(result.RuleCount)
	metrics.RuleValuesFiltered(result.FilteredCount)

	jsonPath := filepath.Join(p.cfg.Output.JSONDir, name+".json")
	size, err := output.Write(doc, jsonPath)
	if err != nil {
		result.Err = fmt.Errorf("write document: %w", err)
		return result
	}
	result.JSONPath = jsonPath
	result.SizeBytes = size

	p.log.Info("ruleset merged",
		"ruleset", name,
		"rules", result.RuleCount,
		"filtered", result.FilteredCount,
		"path", jsonPath,
		"size_bytes", size)

	if p.compiler != nil {
		srsPath, err := p.compiler.Compile(ctx, jsonPath)
		if err != nil {
			result.Err = err
			return result
		}
		result.SRSPath = srsPath
	}
	return result
}

// foldSource parses one downloaded payload into the accumulator.
func (p *Pipeline) foldSource(acc *rules.Accumulator, src sources.Source, path string) error {
	file, err := os.Open(path) // #nosec G304 -- path is built by this pipeline.
	if err != nil {
		return fmt.Errorf("open download: %w", err)
	}
	defer func() { _ = file.Close() }()

	switch src.Kind {
	case sources.StructuredFragment:
		return acc.AddFragment(file)
	default:
		return acc.AddLineList(file, filepath.Base(path))
	}
}

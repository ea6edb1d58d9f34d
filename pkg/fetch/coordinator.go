package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultConcurrency = 5

// Task is one URL scheduled for download within a batch.
type Task struct {
	URL  string
	Dest string
}

// Stats aggregates a finished batch.
type Stats struct {
	TotalFiles         int      `json:"total_files"`
	SuccessfulFiles    int      `json:"successful_files"`
	FailedFiles        int      `json:"failed_files"`
	SuccessRatePercent float64  `json:"success_rate"`
	TotalSizeMB        float64  `json:"total_size_mb"`
	TotalTimeSeconds   float64  `json:"total_time_seconds"`
	AverageSpeedMBps   float64  `json:"average_speed_mbps"`
	FailedURLs         []string `json:"failed_urls,omitempty"`
}

// BatchProgress is a snapshot of a running batch.
type BatchProgress struct {
	CompletedFiles int
	TotalFiles     int
	SpeedMBps      float64
	ElapsedSeconds float64
}

// BatchProgressFunc receives throttled progress snapshots while FetchAll runs.
type BatchProgressFunc func(BatchProgress)

// Coordinator fans a batch of downloads out over a bounded worker pool.
type Coordinator struct {
	fetcher     *Fetcher
	concurrency int
	log         *slog.Logger
}

// NewCoordinator builds a coordinator over fetcher with the given pool size.
func NewCoordinator(fetcher *Fetcher, concurrency int, log *slog.Logger) *Coordinator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{fetcher: fetcher, concurrency: concurrency, log: log}
}

// FetchAll downloads every task and returns one Result per task plus batch
// statistics. Per-task failures never abort the batch. Workers forward both
// per-chunk byte counts and completions to a single aggregator, so snapshots
// cover in-flight transfers, throttled to at most two per second, with a
// final unthrottled snapshot when the batch ends.
func (c *Coordinator) FetchAll(ctx context.Context, tasks []Task, opts Options, progress BatchProgressFunc) ([]Result, Stats) {
	start := time.Now()
	results := make([]Result, len(tasks))

	// A nil result carries an in-flight byte count for the task.
	type event struct {
		index      int
		downloaded int64
		result     *Result
	}

	taskCh := make(chan int)
	eventCh := make(chan event)

	var workers sync.WaitGroup
	for w := 0; w < c.concurrency; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for i := range taskCh {
				t := tasks[i]
				var onChunk ProgressFunc
				if progress != nil {
					onChunk = func(downloaded, _ int64) {
						eventCh <- event{index: i, downloaded: downloaded}
					}
				}
				r := c.fetcher.Fetch(ctx, t.URL, t.Dest, opts, onChunk)
				eventCh <- event{index: i, result: &r}
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for i := range tasks {
			taskCh <- i
		}
	}()

	go func() {
		workers.Wait()
		close(eventCh)
	}()

	limiter := rate.NewLimiter(rate.Every(500*time.Millisecond), 1)
	completed := 0
	var completedBytes int64
	inflight := make(map[int]int64)
	for ev := range eventCh {
		if ev.result == nil {
			inflight[ev.index] = ev.downloaded
			if progress != nil && limiter.Allow() {
				progress(snapshot(completed, len(tasks), completedBytes+sumBytes(inflight), time.Since(start)))
			}
			continue
		}
		results[ev.index] = *ev.result
		delete(inflight, ev.index)
		completed++
		if ev.result.Success {
			completedBytes += ev.result.SizeBytes
		}
		if progress != nil && (limiter.Allow() || completed == len(tasks)) {
			progress(snapshot(completed, len(tasks), completedBytes+sumBytes(inflight), time.Since(start)))
		}
	}

	stats := computeStats(results, time.Since(start))
	c.log.Info("batch finished",
		"total", stats.TotalFiles,
		"successful", stats.SuccessfulFiles,
		"failed", stats.FailedFiles,
		"size_mb", stats.TotalSizeMB,
		"avg_speed_mbps", stats.AverageSpeedMBps)
	return results, stats
}

func sumBytes(inflight map[int]int64) int64 {
	var n int64
	for _, b := range inflight {
		n += b
	}
	return n
}

func snapshot(completed, total int, bytes int64, elapsed time.Duration) BatchProgress {
	p := BatchProgress{
		CompletedFiles: completed,
		TotalFiles:     total,
		ElapsedSeconds: elapsed.Seconds(),
	}
	if elapsed > 0 {
		p.SpeedMBps = float64(bytes) / (1024 * 1024) / elapsed.Seconds()
	}
	return p
}

func computeStats(results []Result, elapsed time.Duration) Stats {
	stats := Stats{
		TotalFiles:       len(results),
		TotalTimeSeconds: elapsed.Seconds(),
	}
	var totalBytes int64
	for _, r := range results {
		if r.Success {
			stats.SuccessfulFiles++
			totalBytes += r.SizeBytes
		} else {
			stats.FailedFiles++
			stats.FailedURLs = append(stats.FailedURLs, r.URL)
		}
	}
	stats.TotalSizeMB = float64(totalBytes) / (1024 * 1024)
	if stats.TotalFiles > 0 {
		stats.SuccessRatePercent = float64(stats.SuccessfulFiles) / float64(stats.TotalFiles) * 100
	}
	if elapsed > 0 {
		stats.AverageSpeedMBps = stats.TotalSizeMB / elapsed.Seconds()
	}
	return stats
}

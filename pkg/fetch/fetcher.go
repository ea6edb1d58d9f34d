package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Sentsuki/srs-box/pkg/metrics"
)

const downloadChunkSize = 8 * 1024

// Options controls a single fetch.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	UseCache   bool
	Resume     bool
}

// Result records the outcome of one URL retrieval. Exactly one Result is
// produced per URL per batch; it is never mutated afterwards.
type Result struct {
	URL       string
	Success   bool
	Path      string
	Error     string
	SizeBytes int64
	Duration  time.Duration
}

// SpeedMBps derives the effective transfer speed of this download.
func (r Result) SpeedMBps() float64 {
	if r.Duration <= 0 || r.SizeBytes <= 0 {
		return 0
	}
	return float64(r.SizeBytes) / (1024 * 1024) / r.Duration.Seconds()
}

// ProgressFunc receives (downloadedBytes, totalBytes) after each chunk.
// totalBytes is 0 when the server did not advertise a content length.
type ProgressFunc func(downloaded, total int64)

// Fetcher performs single-URL retrievals with retry, backoff, optional
// resumable transfer and cache read/write-through.
type Fetcher struct {
	client    *http.Client
	cache     *Cache
	userAgent string
	log       *slog.Logger
}

// NewFetcher wires a fetcher to an HTTP client and an optional cache.
func NewFetcher(client *http.Client, cache *Cache, userAgent string, log *slog.Logger) *Fetcher {
	if client == nil {
		client = NewHTTPClient(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{client: client, cache: cache, userAgent: userAgent, log: log}
}

// Fetch retrieves url into dest. A readable, non-empty dest is trusted as
// already downloaded so pipeline re-runs stay incremental. Cache hits are
// served without a network call. Network attempts run up to MaxRetries+1
// times with exponential backoff; fatal HTTP codes short-circuit.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, opts Options, progress ProgressFunc) Result {
	start := time.Now()

	if size, ok := completedFileSize(dest); ok {
		f.log.Debug("destination already downloaded", "url", url, "path", dest)
		return Result{URL: url, Success: true, Path: dest, SizeBytes: size, Duration: time.Since(start)}
	}

	if opts.UseCache && f.cache != nil {
		if entry, ok := f.cache.Get(url); ok {
			size, err := f.cache.CopyTo(entry, dest)
			if err == nil {
				metrics.CacheHit()
				f.log.Debug("served from cache", "url", url)
				return Result{URL: url, Success: true, Path: dest, SizeBytes: size, Duration: time.Since(start)}
			}
			f.log.Warn("cache copy failed, falling back to network", "url", url, "error", err)
		}
		metrics.CacheMiss()
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if attempt > 0 {
			metrics.DownloadRetried()
			delay := opts.BaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			if err := ctx.Err(); err != nil {
				lastErr = err
				break
			}
		}

		size, err := f.download(ctx, url, dest, opts.Resume, progress)
		if err == nil {
			if opts.UseCache && f.cache != nil {
				if cerr := f.cache.Put(url, dest); cerr != nil {
					f.log.Warn("failed to write cache entry", "url", url, "error", cerr)
				}
			}
			duration := time.Since(start)
			metrics.DownloadFinished(true, size, duration)
			return Result{URL: url, Success: true, Path: dest, SizeBytes: size, Duration: duration}
		}

		lastErr = err
		if !IsRetryable(err) {
			f.log.Debug("fatal download error, not retrying", "url", url, "error", err)
			break
		}
		f.log.Debug("retryable download error", "url", url, "attempt", attempt+1, "error", err)
	}

	// Leave partial content in place only when resume could use it.
	if !opts.Resume {
		_ = os.Remove(partPath(dest))
	}
	duration := time.Since(start)
	metrics.DownloadFinished(false, 0, duration)
	return Result{URL: url, Error: errString(lastErr), Duration: duration}
}

func errString(err error) string {
	if err == nil {
		return "download failed"
	}
	return err.Error()
}

// partPath names the in-progress spill file for dest. The payload is only
// renamed to dest once fully received, so an existing dest is always a
// complete artifact and an existing .part is always resumable.
func partPath(dest string) string { return dest + ".part" }

// completedFileSize reports dest as already downloaded when it exists, is
// non-empty, and its first byte is readable.
func completedFileSize(dest string) (int64, bool) {
	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		return 0, false
	}
	file, err := os.Open(dest) // #nosec G304 -- dest chosen by the caller.
	if err != nil {
		_ = os.Remove(dest)
		return 0, false
	}
	defer func() { _ = file.Close() }()
	buf := make([]byte, 1)
	if _, err := file.Read(buf); err != nil {
		_ = os.Remove(dest)
		return 0, false
	}
	return info.Size(), true
}

// supportsRange probes the server with a HEAD request for byte-range support.
func (f *Fetcher) supportsRange(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	f.setHeaders(req)
	resp, err := f.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")
}

func (f *Fetcher) setHeaders(req *http.Request) {
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
}

// download performs one network attempt, streaming the body into dest in
// fixed-size chunks. It returns the final on-disk size.
func (f *Fetcher) download(ctx context.Context, url, dest string, resume bool, progress ProgressFunc) (int64, error) {
	part := partPath(dest)
	var resumePos int64
	if resume {
		if info, err := os.Stat(part); err == nil && info.Size() > 0 && f.supportsRange(ctx, url) {
			resumePos = info.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, newError(fmt.Sprintf("build request: %v", err), false)
	}
	f.setHeaders(req)
	if resumePos > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumePos))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Resuming; keep resumePos.
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && resumePos > 0:
		// Our offset is at or past the end: the spill file is complete.
		if err := os.Rename(part, dest); err != nil {
			return 0, newError(fmt.Sprintf("finalize dest: %v", err), false)
		}
		return resumePos, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Server sent the full body even though a range was requested.
		resumePos = 0
	default:
		return 0, statusError(resp.StatusCode, resp.Status)
	}

	total := contentTotal(resp, resumePos)

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, newError(fmt.Sprintf("create dest dir: %v", err), false)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumePos > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(part, flags, 0o640) // #nosec G304 -- dest chosen by the caller.
	if err != nil {
		return 0, newError(fmt.Sprintf("open dest: %v", err), false)
	}

	downloaded := resumePos
	buf := make([]byte, downloadChunkSize)
	var copyErr error
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				copyErr = newError(fmt.Sprintf("write dest: %v", werr), false)
				break
			}
			downloaded += int64(n)
			if progress != nil {
				progress(downloaded, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			copyErr = fmt.Errorf("read body: %w", rerr)
			break
		}
	}
	if cerr := out.Close(); copyErr == nil && cerr != nil {
		copyErr = newError(fmt.Sprintf("close dest: %v", cerr), false)
	}
	if copyErr != nil {
		return 0, copyErr
	}

	if downloaded == 0 {
		_ = os.Remove(part)
		return 0, errEmptyBody
	}
	if err := os.Rename(part, dest); err != nil {
		return 0, newError(fmt.Sprintf("finalize dest: %v", err), false)
	}
	return downloaded, nil
}

// contentTotal derives the full remote size from Content-Range when resuming,
// falling back to Content-Length.
func contentTotal(resp *http.Response, resumePos int64) int64 {
	if resumePos > 0 {
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if idx := strings.LastIndex(cr, "/"); idx >= 0 {
				if total, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
					return total
				}
			}
		}
	}
	if resp.ContentLength > 0 {
		return resumePos + resp.ContentLength
	}
	return 0
}

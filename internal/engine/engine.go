// Package engine streams an HTTP(S) resource to a local file with
// Range-based resume, transient-failure retry and throttled progress
// telemetry. It is the fallback path used when the platform extractor
// cannot resolve a structured stream list, and the path for plain
// direct-file URLs.
package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/cancel"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
)

const (
	// StatusDownloading marks an in-flight progress event.
	StatusDownloading = "downloading"
	// StatusFinished marks the final progress event of a download.
	StatusFinished = "finished"
)

const (
	defaultChunkSize     = 64 * 1024
	defaultProgressEvery = 100 * time.Millisecond
	defaultMaxAttempts   = 3
)

// Progress is one telemetry event emitted while streaming.
type Progress struct {
	Status     string  // StatusDownloading or StatusFinished
	Downloaded int64   // bytes on disk so far
	Total      int64   // total bytes, 0 when the server omitted it
	Speed      float64 // bytes per second since the attempt began
	ETA        int64   // seconds remaining, -1 when unknown
	Filename   string  // destination path, set on the finished event
}

// ProgressFunc receives progress events. It is called from the worker
// goroutine that runs the download; it must not block.
type ProgressFunc func(Progress)

// Config holds tunables for the engine.
type Config struct {
	Client        *http.Client
	ChunkSize     int
	ProgressEvery time.Duration
	MaxAttempts   int
	Backoff       *apperrors.BackoffConfig
}

// Engine performs resumable streaming downloads.
type Engine struct {
	client        *http.Client
	chunkSize     int
	progressEvery time.Duration
	maxAttempts   int
	backoff       *apperrors.BackoffConfig
}

// New creates an engine; nil or zero config fields fall back to defaults.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	e := &Engine{
		client:        cfg.Client,
		chunkSize:     cfg.ChunkSize,
		progressEvery: cfg.ProgressEvery,
		maxAttempts:   cfg.MaxAttempts,
		backoff:       cfg.Backoff,
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.chunkSize <= 0 {
		e.chunkSize = defaultChunkSize
	}
	if e.progressEvery < 0 {
		e.progressEvery = 0
	} else if e.progressEvery == 0 {
		e.progressEvery = defaultProgressEvery
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.backoff == nil {
		e.backoff = apperrors.DefaultBackoff()
	}
	return e
}

// Download streams url into destDir/filename. filename must be a bare,
// already sanitized name, never a path. A partially written file from an
// earlier run is resumed with a Range request. Transient network errors
// are retried with exponential backoff up to the attempt limit, re-reading
// the file size before each attempt so the resume offset stays correct;
// cancellation and other non-network failures propagate immediately.
// Returns the destination path on success.
func (e *Engine) Download(ctx context.Context, url, destDir, filename string, progress ProgressFunc, tok *cancel.Token) (string, error) {
	if strings.ContainsAny(filename, `/\`) {
		return "", apperrors.BadRequest("filename must be a bare name, not a path")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}
	dest := filepath.Join(destDir, filename)

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.backoff.Backoff(attempt - 1)
			log.Debug().
				Str("url", url).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying download")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		err := e.attempt(ctx, url, dest, progress, tok)
		if err == nil {
			return dest, nil
		}
		if !apperrors.IsTransient(err) {
			return "", err
		}
		lastErr = err
	}

	return "", lastErr
}

// attempt performs one request/stream cycle against dest.
func (e *Engine) attempt(ctx context.Context, url, dest string, progress ProgressFunc, tok *cancel.Token) error {
	// Re-read the file size each attempt; a previous attempt may have
	// written more bytes before failing.
	var offset int64
	if fi, err := os.Stat(dest); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.BadRequest(err.Error()).WithCause(err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var total int64
	var flags int
	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Resume confirmed: append to what we have.
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		if t := contentRangeTotal(resp.Header.Get("Content-Range")); t > 0 {
			total = t
		} else if resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}
	case http.StatusOK:
		// The server ignored the Range request; start over.
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		offset = 0
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// The file is already complete when the server's full length
		// matches the resume offset; re-submitting a finished download
		// is then a no-op, not an error.
		if t := contentRangeTotal(resp.Header.Get("Content-Range")); t > 0 && t == offset {
			if progress != nil {
				progress(Progress{
					Status:     StatusFinished,
					Downloaded: offset,
					Total:      offset,
					Filename:   dest,
				})
			}
			return nil
		}
		return apperrors.New("HTTP_ERROR",
			fmt.Sprintf("unexpected status %s fetching %s", resp.Status, url),
			apperrors.CategoryFatal, resp.StatusCode)
	default:
		msg := fmt.Sprintf("unexpected status %s fetching %s", resp.Status, url)
		if apperrors.HTTPRetryableStatus(resp.StatusCode) {
			return apperrors.Transient(msg)
		}
		return apperrors.New("HTTP_ERROR", msg, apperrors.CategoryFatal, resp.StatusCode)
	}

	f, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return apperrors.WrapTransient(err)
	}
	defer f.Close()

	downloaded := offset
	start := time.Now()
	var lastEmit time.Time

	buf := make([]byte, e.chunkSize)
	for {
		// Cancellation and pause are observed at chunk boundaries; on
		// abort the partial file is kept for a future resume.
		if tok != nil {
			if err := tok.Check(); err != nil {
				return err
			}
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return apperrors.WrapTransient(werr)
			}
			downloaded += int64(n)

			if progress != nil && time.Since(lastEmit) >= e.progressEvery {
				lastEmit = time.Now()
				progress(e.event(downloaded, offset, total, start))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if apperrors.IsTransient(rerr) {
				return rerr
			}
			return apperrors.WrapTransient(rerr)
		}
	}

	if total > 0 && downloaded < total {
		return apperrors.Transient(
			fmt.Sprintf("stream ended early: %d of %d bytes", downloaded, total))
	}

	if progress != nil {
		progress(Progress{
			Status:     StatusFinished,
			Downloaded: downloaded,
			Total:      downloaded,
			Filename:   dest,
		})
	}
	return nil
}

func (e *Engine) event(downloaded, offset, total int64, start time.Time) Progress {
	ev := Progress{
		Status:     StatusDownloading,
		Downloaded: downloaded,
		Total:      total,
		ETA:        -1,
	}

	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		ev.Speed = float64(downloaded-offset) / elapsed
	}
	if total > 0 && ev.Speed > 0 {
		ev.ETA = int64(float64(total-downloaded) / ev.Speed)
	}
	return ev
}

// contentRangeTotal extracts the complete length from a Content-Range
// header such as "bytes 100-999/1000"; 0 when absent or unknown ("*").
func contentRangeTotal(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil || total < 0 {
		return 0
	}
	return total
}

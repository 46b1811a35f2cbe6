package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/cancel"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
)

func testEngine(attempts int) *Engine {
	return New(&Config{
		ProgressEvery: -1, // emit on every chunk
		ChunkSize:     8,
		MaxAttempts:   attempts,
		Backoff: &apperrors.BackoffConfig{
			Initial: time.Millisecond,
			Max:     time.Millisecond,
			Factor:  1,
		},
	})
}

func TestDownload_Simple(t *testing.T) {
	content := []byte("0123456789abcdef0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	dir := t.TempDir()
	var events []Progress
	dest, err := testEngine(1).Download(context.Background(), srv.URL, dir, "out.bin",
		func(p Progress) { events = append(events, p) }, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded bytes differ from source")
	}

	if len(events) == 0 {
		t.Fatal("expected progress events")
	}
	final := events[len(events)-1]
	if final.Status != StatusFinished {
		t.Errorf("last event status = %s, want %s", final.Status, StatusFinished)
	}
	if final.Filename != dest {
		t.Errorf("finished event filename = %s, want %s", final.Filename, dest)
	}
	if final.Total != int64(len(content)) {
		t.Errorf("finished event total = %d, want %d", final.Total, len(content))
	}
}

func TestDownload_ResumesFrom206(t *testing.T) {
	full := []byte("the quick brown fox jumps over the lazy dog")
	const k = 10

	var gotRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", k, len(full)-1, len(full)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(full[k:])
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "out.bin"), full[:k], 0o644); err != nil {
		t.Fatal(err)
	}

	var events []Progress
	dest, err := testEngine(1).Download(context.Background(), srv.URL, dir, "out.bin",
		func(p Progress) { events = append(events, p) }, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if want := fmt.Sprintf("bytes=%d-", k); gotRange.Load() != want {
		t.Errorf("Range header = %q, want %q", gotRange.Load(), want)
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, full) {
		t.Error("resumed file does not match the full content")
	}

	for _, ev := range events {
		if ev.Status == StatusDownloading && ev.Total != int64(len(full)) {
			t.Errorf("downloading event total = %d, want %d", ev.Total, len(full))
		}
	}
}

func TestDownload_AlreadyCompleteFileIs416Success(t *testing.T) {
	full := []byte("every byte of this file is already on disk")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(full)))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "out.bin"), full, 0o644); err != nil {
		t.Fatal(err)
	}

	var events []Progress
	dest, err := testEngine(1).Download(context.Background(), srv.URL, dir, "out.bin",
		func(p Progress) { events = append(events, p) }, nil)
	if err != nil {
		t.Fatalf("re-submitting a finished download should succeed: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, full) {
		t.Error("complete file must be left untouched")
	}
	if len(events) != 1 || events[0].Status != StatusFinished {
		t.Errorf("events = %+v, want a single finished event", events)
	}
}

func TestDownload_416WithMismatchedSizeIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes */100")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "out.bin"), []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := testEngine(3).Download(context.Background(), srv.URL, dir, "out.bin", nil, nil)
	if err == nil {
		t.Fatal("416 with a size mismatch should fail")
	}
	if apperrors.IsTransient(err) {
		t.Errorf("size-mismatch 416 should not be retried: %v", err)
	}
}

func TestDownload_RestartsWhenServerIgnoresRange(t *testing.T) {
	full := []byte("fresh content from byte zero, range ignored")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 despite the Range request: client must truncate and restart.
		w.Write(full)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "out.bin"), []byte("stale-partial-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := testEngine(1).Download(context.Background(), srv.URL, dir, "out.bin", nil, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, full) {
		t.Errorf("file should be restarted from byte 0, got %q", got)
	}
}

func TestDownload_RetriesTransientThenSucceeds(t *testing.T) {
	content := []byte("eventually delivered")
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(content)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest, err := testEngine(3).Download(context.Background(), srv.URL, dir, "out.bin", nil, nil)
	if err != nil {
		t.Fatalf("Download should succeed on the third attempt: %v", err)
	}

	if n := atomic.LoadInt32(&requests); n != 3 {
		t.Errorf("expected exactly 3 requests, got %d", n)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, content) {
		t.Error("final file differs from expected content")
	}
}

func TestDownload_ExhaustsRetries(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testEngine(3).Download(context.Background(), srv.URL, t.TempDir(), "out.bin", nil, nil)
	if err == nil {
		t.Fatal("Download should fail after exhausting retries")
	}
	if !apperrors.IsTransient(err) {
		t.Errorf("exhausted retries should surface the last network error, got %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestDownload_FatalStatusNotRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testEngine(3).Download(context.Background(), srv.URL, t.TempDir(), "out.bin", nil, nil)
	if err == nil {
		t.Fatal("404 should fail the download")
	}
	if apperrors.IsTransient(err) {
		t.Error("404 must not be classified transient")
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("fatal status should not be retried, got %d requests", n)
	}
}

func TestDownload_CancellationAbortsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 1000; i++ {
			if r.Context().Err() != nil {
				return
			}
			w.Write([]byte("chunkdata"))
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	tok := cancel.NewToken(0)
	dir := t.TempDir()

	done := make(chan error, 1)
	go func() {
		_, err := testEngine(3).Download(context.Background(), srv.URL, dir, "out.bin", nil, tok)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	tok.Cancel()

	select {
	case err := <-done:
		if !apperrors.IsCancelled(err) {
			t.Fatalf("expected cancelled error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel was not observed within a chunk-read cycle")
	}

	// Partial bytes are kept for a future resume.
	if _, err := os.Stat(filepath.Join(dir, "out.bin")); err != nil {
		t.Errorf("partial file should be left on disk: %v", err)
	}
}

func TestDownload_UnknownTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing forces chunked encoding, so no Content-Length is sent.
		w.(http.Flusher).Flush()
		w.Write([]byte("sized only at the end"))
	}))
	defer srv.Close()

	var events []Progress
	_, err := testEngine(1).Download(context.Background(), srv.URL, t.TempDir(), "out.bin",
		func(p Progress) { events = append(events, p) }, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	for _, ev := range events {
		if ev.Status != StatusDownloading {
			continue
		}
		if ev.Total != 0 {
			t.Errorf("total should be 0 when the server omits Content-Length, got %d", ev.Total)
		}
		if ev.ETA != -1 {
			t.Errorf("eta should be unknown without a total, got %d", ev.ETA)
		}
	}
}

func TestDownload_RejectsPathFilename(t *testing.T) {
	_, err := testEngine(1).Download(context.Background(), "http://example.com", t.TempDir(), "../escape.bin", nil, nil)
	if err == nil {
		t.Fatal("a filename containing separators must be rejected")
	}
}

func TestContentRangeTotal(t *testing.T) {
	tests := []struct {
		header   string
		expected int64
	}{
		{"bytes 10-42/43", 43},
		{"bytes 0-0/1", 1},
		{"bytes 10-42/*", 0},
		{"", 0},
		{"garbage", 0},
	}

	for _, tt := range tests {
		if got := contentRangeTotal(tt.header); got != tt.expected {
			t.Errorf("contentRangeTotal(%q) = %d, want %d", tt.header, got, tt.expected)
		}
	}
}

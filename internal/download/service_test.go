package download

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
)

func newTestService(t *testing.T, ext Extractor) (*Service, *queue.Store) {
	t.Helper()
	store, d := newTestDispatcher(t, ext, &DispatcherConfig{MaxConcurrent: 1})
	return NewService(store, d), store
}

func TestService_AddValidation(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})

	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"valid https", "https://example.com/watch?v=1", true},
		{"valid http", "http://example.com/file.mp4", true},
		{"empty", "", false},
		{"no scheme", "example.com/video", false},
		{"ftp scheme", "ftp://example.com/file", false},
		{"scheme only", "https://", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Add(AddRequest{URL: tt.url})
			if tt.ok && err != nil {
				t.Errorf("Add(%q) unexpected error: %v", tt.url, err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatalf("Add(%q) expected error", tt.url)
				}
				if apperrors.CategoryOf(err) != apperrors.CategoryClient {
					t.Errorf("Add(%q) category = %v, want client", tt.url, apperrors.CategoryOf(err))
				}
			}
		})
	}
}

func TestService_AddScheduled(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})

	future := time.Now().Add(time.Hour)
	it, err := svc.Add(AddRequest{URL: "https://example.com/later", ScheduledTime: &future})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if it.Status != queue.StatusScheduled {
		t.Errorf("status = %q, want scheduled", it.Status)
	}
	if it.ScheduledTime == nil || !it.ScheduledTime.Equal(future) {
		t.Errorf("ScheduledTime = %v, want %v", it.ScheduledTime, future)
	}

	past := time.Now().Add(-time.Hour)
	it, err = svc.Add(AddRequest{URL: "https://example.com/now", ScheduledTime: &past})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if it.Status != queue.StatusQueued {
		t.Errorf("past schedule status = %q, want queued", it.Status)
	}
}

func TestService_GetUnknown(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})

	_, err := svc.Get("missing")
	if err == nil {
		t.Fatal("expected error for unknown id")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != "ITEM_NOT_FOUND" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestService_CancelPending(t *testing.T) {
	svc, store := newTestService(t, &fakeExtractor{})

	it, err := svc.Add(AddRequest{URL: "https://example.com/pending"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := svc.Cancel(it.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := store.Get(it.ID)
	if got.Status != queue.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}

	if err := svc.Cancel(it.ID); err == nil {
		t.Error("cancelling a terminal item should fail")
	}
	if err := svc.Cancel("missing"); err == nil {
		t.Error("cancelling an unknown item should fail")
	}
}

func TestService_CancelRunning(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	ext := &fakeExtractor{hold: hold}
	svc, store := newTestService(t, ext)

	it, err := svc.Add(AddRequest{URL: "https://example.com/running"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	svc.Start()

	waitForStatus(t, store, it.ID, queue.StatusDownloading)
	if err := svc.Cancel(it.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitForStatus(t, store, it.ID, queue.StatusCancelled)
}

func TestService_PauseResume(t *testing.T) {
	hold := make(chan struct{})
	ext := &fakeExtractor{hold: hold}
	svc, store := newTestService(t, ext)

	it, err := svc.Add(AddRequest{URL: "https://example.com/pausable"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := svc.Pause(it.ID); err == nil {
		t.Error("pausing a queued item should fail")
	}

	svc.Start()
	waitForStatus(t, store, it.ID, queue.StatusDownloading)

	if err := svc.Pause(it.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	tok, _ := store.Token(it.ID)
	if !tok.Paused() {
		t.Error("token should report paused")
	}

	if err := svc.Resume(it.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if tok.Paused() {
		t.Error("token should report resumed")
	}

	close(hold)
	waitForStatus(t, store, it.ID, queue.StatusCompleted)
}

func TestService_RetryFailedItem(t *testing.T) {
	ext := &fakeExtractor{failWith: map[string]error{
		"https://example.com/flaky": apperrors.Transient("read timeout"),
	}}
	svc, store := newTestService(t, ext)

	it, err := svc.Add(AddRequest{URL: "https://example.com/flaky"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	svc.Start()
	waitForStatus(t, store, it.ID, queue.StatusError)

	ext.mu.Lock()
	delete(ext.failWith, "https://example.com/flaky")
	ext.mu.Unlock()

	if err := svc.Retry(it.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitForStatus(t, store, it.ID, queue.StatusCompleted)

	if err := svc.Retry(it.ID); err == nil {
		t.Error("retrying a completed item should fail")
	}
}

func TestService_RemoveAndReorder(t *testing.T) {
	svc, store := newTestService(t, &fakeExtractor{})

	a, _ := svc.Add(AddRequest{URL: "https://example.com/a"})
	b, _ := svc.Add(AddRequest{URL: "https://example.com/b"})

	if err := svc.Reorder(0, 1); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	items := svc.Items()
	if items[0].ID != b.ID || items[1].ID != a.ID {
		t.Error("reorder did not swap items")
	}
	if err := svc.Reorder(0, 5); err == nil {
		t.Error("out-of-range reorder should fail")
	}

	if err := svc.Remove(a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := store.Get(a.ID); ok {
		t.Error("removed item still present")
	}
	if err := svc.Remove(a.ID); err == nil {
		t.Error("removing twice should fail")
	}
}

func TestService_Status(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})

	st := svc.Status()
	if st.Running {
		t.Error("pipeline should not be running before Start")
	}
	if st.MaxJobs != 1 {
		t.Errorf("MaxJobs = %d, want 1", st.MaxJobs)
	}

	svc.Start()
	defer svc.Stop(context.Background())
	if !svc.Status().Running {
		t.Error("pipeline should be running after Start")
	}

	if err := svc.SetMaxConcurrent(0); err == nil {
		t.Error("non-positive bound should be rejected")
	}
	if err := svc.SetMaxConcurrent(4); err != nil {
		t.Fatalf("SetMaxConcurrent: %v", err)
	}
	if got := svc.Status().MaxJobs; got != 4 {
		t.Errorf("MaxJobs = %d, want 4", got)
	}
}

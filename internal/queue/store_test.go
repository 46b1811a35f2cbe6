package queue

import (
	"sync"
	"testing"
	"time"

	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(0, 0)
}

func addItems(t *testing.T, s *Store, n int) []*Item {
	t.Helper()
	items := make([]*Item, 0, n)
	for i := 0; i < n; i++ {
		it := NewItem("https://example.com/file")
		if err := s.AddItem(it); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
		items = append(items, it)
	}
	return items
}

func TestStore_AtomicClaim(t *testing.T) {
	s := newTestStore(t)
	const itemCount = 10
	const claimers = 5
	addItems(t, s, itemCount)

	var mu sync.Mutex
	seen := make(map[string]int)
	var total int

	var wg sync.WaitGroup
	for c := 0; c < claimers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				it := s.ClaimNextDownloadable()
				if it == nil {
					return
				}
				mu.Lock()
				seen[it.ID]++
				total++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if total != itemCount {
		t.Errorf("expected exactly %d successful claims, got %d", itemCount, total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("item %s claimed %d times", id, n)
		}
	}
}

func TestStore_ClaimMarksAllocating(t *testing.T) {
	s := newTestStore(t)
	addItems(t, s, 1)

	claimed := s.ClaimNextDownloadable()
	if claimed == nil {
		t.Fatal("expected a claim")
	}
	if claimed.Status != StatusAllocating {
		t.Errorf("claimed item status = %s, want %s", claimed.Status, StatusAllocating)
	}

	if again := s.ClaimNextDownloadable(); again != nil {
		t.Errorf("second claim returned %s; nothing should be claimable", again.ID)
	}
}

func TestStore_BeginDownloading(t *testing.T) {
	s := newTestStore(t)
	items := addItems(t, s, 2)

	// Normal path: claim then begin.
	first := s.ClaimNextDownloadable()
	if first == nil || first.ID != items[0].ID {
		t.Fatal("expected to claim the first item")
	}
	if !s.BeginDownloading(first.ID) {
		t.Fatal("begin on a fresh claim should succeed")
	}
	if got, _ := s.Get(first.ID); got.Status != StatusDownloading {
		t.Errorf("status = %s, want %s", got.Status, StatusDownloading)
	}

	// A cancel that lands between claim and job start wins.
	second := s.ClaimNextDownloadable()
	if second == nil || second.ID != items[1].ID {
		t.Fatal("expected to claim the second item")
	}
	s.MarkCancelled(second.ID)
	if s.BeginDownloading(second.ID) {
		t.Error("begin should refuse a cancelled claim")
	}
	if got, _ := s.Get(second.ID); got.Status != StatusCancelled {
		t.Errorf("cancel was overwritten: status = %s, want %s", got.Status, StatusCancelled)
	}

	// A removal in the same window wins too.
	if s.BeginDownloading("no-such-id") {
		t.Error("begin should refuse an unknown id")
	}
}

func TestStore_StaleReclaim(t *testing.T) {
	s := NewStore(0, 20*time.Millisecond)
	items := addItems(t, s, 1)

	first := s.ClaimNextDownloadable()
	if first == nil || first.ID != items[0].ID {
		t.Fatal("expected to claim the only item")
	}

	// The worker never starts; the claim goes stale.
	time.Sleep(30 * time.Millisecond)

	second := s.ClaimNextDownloadable()
	if second == nil {
		t.Fatal("stale allocating item should be claimable again")
	}
	if second.ID != first.ID {
		t.Errorf("reclaimed a different item: %s", second.ID)
	}
}

func TestStore_CapacityEnforcement(t *testing.T) {
	s := NewStore(3, 0)
	items := addItems(t, s, 3)

	err := s.AddItem(NewItem("https://example.com/over"))
	if err == nil {
		t.Fatal("AddItem past capacity should fail")
	}
	if !apperrors.IsCapacity(err) {
		t.Errorf("expected capacity error, got %v", err)
	}

	if !s.RemoveItem(items[0].ID) {
		t.Fatal("RemoveItem of an existing item should succeed")
	}
	if err := s.AddItem(NewItem("https://example.com/after-remove")); err != nil {
		t.Errorf("AddItem after removal should succeed, got %v", err)
	}
}

func TestStore_RemoveAndSwapInvalidAreNoOps(t *testing.T) {
	s := newTestStore(t)
	addItems(t, s, 2)

	if s.RemoveItem("no-such-id") {
		t.Error("removing an unknown id should be a no-op")
	}
	if s.SwapItems(0, 5) || s.SwapItems(-1, 0) || s.SwapItems(1, 1) {
		t.Error("swapping invalid indices should be a no-op")
	}
	if s.Len() != 2 {
		t.Errorf("store length changed: %d", s.Len())
	}
}

func TestStore_SwapReorders(t *testing.T) {
	s := newTestStore(t)
	items := addItems(t, s, 3)

	if !s.SwapItems(0, 2) {
		t.Fatal("valid swap should succeed")
	}

	got := s.Items()
	if got[0].ID != items[2].ID || got[2].ID != items[0].ID {
		t.Error("swap did not reorder items")
	}

	// Claim order follows the new ordering.
	claimed := s.ClaimNextDownloadable()
	if claimed.ID != items[2].ID {
		t.Errorf("claim returned %s, want the swapped-to-front item %s", claimed.ID, items[2].ID)
	}
}

func TestStore_UpdateScheduledItemsIdempotent(t *testing.T) {
	s := newTestStore(t)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := NewItem("https://example.com/due")
	due.Status = StatusScheduled
	due.ScheduledTime = &past

	notYet := NewItem("https://example.com/later")
	notYet.Status = StatusScheduled
	notYet.ScheduledTime = &future

	for _, it := range []*Item{due, notYet} {
		if err := s.AddItem(it); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}

	now := time.Now()
	if n := s.UpdateScheduledItems(now); n != 1 {
		t.Errorf("first sweep changed %d items, want 1", n)
	}
	if n := s.UpdateScheduledItems(now); n != 0 {
		t.Errorf("second sweep with the same now changed %d items, want 0", n)
	}

	got, _ := s.Get(due.ID)
	if got.Status != StatusQueued {
		t.Errorf("due item status = %s, want %s", got.Status, StatusQueued)
	}
	if got.ScheduledTime != nil {
		t.Error("scheduled time should be cleared on promotion")
	}

	later, _ := s.Get(notYet.ID)
	if later.Status != StatusScheduled {
		t.Errorf("future item status = %s, want %s", later.Status, StatusScheduled)
	}
}

func TestStore_AnyDownloading(t *testing.T) {
	s := newTestStore(t)
	items := addItems(t, s, 1)

	if s.AnyDownloading() {
		t.Error("nothing claimed yet")
	}
	s.ClaimNextDownloadable()
	if !s.AnyDownloading() {
		t.Error("allocating item should count as downloading")
	}
	s.Complete(items[0].ID, "/tmp/out.mp4")
	if s.AnyDownloading() {
		t.Error("completed item should not count as downloading")
	}
}

func TestStore_ListenersNotifiedOutsideMutation(t *testing.T) {
	s := newTestStore(t)

	var mu sync.Mutex
	var events []string
	id := s.AddListener(func(it *Item) {
		mu.Lock()
		events = append(events, it.Status)
		mu.Unlock()
	})
	defer s.RemoveListener(id)

	items := addItems(t, s, 1)
	s.MarkStatus(items[0].ID, StatusDownloading)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 listener events, got %d", len(events))
	}
	if events[0] != StatusQueued || events[1] != StatusDownloading {
		t.Errorf("unexpected event statuses: %v", events)
	}
}

func TestStore_ListenerPanicIsolated(t *testing.T) {
	s := newTestStore(t)

	s.AddListener(func(*Item) { panic("listener bug") })

	var called bool
	s.AddListener(func(*Item) { called = true })

	if err := s.AddItem(NewItem("https://example.com/x")); err != nil {
		t.Fatalf("mutation must survive a panicking listener: %v", err)
	}
	if !called {
		t.Error("second listener should still run after the first panicked")
	}
}

func TestStore_RemovedListenerNotCalled(t *testing.T) {
	s := newTestStore(t)

	var called bool
	id := s.AddListener(func(*Item) { called = true })
	s.RemoveListener(id)

	addItems(t, s, 1)
	if called {
		t.Error("removed listener should not be invoked")
	}
}

func TestStore_Retry(t *testing.T) {
	s := newTestStore(t)
	items := addItems(t, s, 1)
	id := items[0].ID

	s.ClaimNextDownloadable()
	s.Fail(id, "no suitable extractor")

	if !s.Retry(id) {
		t.Fatal("retry of an errored item should succeed")
	}
	got, _ := s.Get(id)
	if got.Status != StatusQueued || got.Error != "" || got.Progress != 0 {
		t.Errorf("retried item not reset: %+v", got)
	}

	// Only terminal error/cancelled items are retryable.
	s.ClaimNextDownloadable()
	if s.Retry(id) {
		t.Error("retry of a claimed item should be a no-op")
	}
}

func TestStore_WakeSignal(t *testing.T) {
	s := newTestStore(t)

	select {
	case <-s.Wake():
		t.Fatal("no signal expected before any add")
	default:
	}

	addItems(t, s, 1)

	select {
	case <-s.Wake():
	default:
		t.Fatal("AddItem should wake the dispatcher")
	}
}

func TestStore_MarkStatusInvalidPanics(t *testing.T) {
	s := newTestStore(t)
	items := addItems(t, s, 1)

	defer func() {
		if recover() == nil {
			t.Error("unknown status string should panic")
		}
	}()
	s.MarkStatus(items[0].ID, "Queued ") // not an enumerated state
}

func TestItem_Helpers(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
		active   bool
		retry    bool
	}{
		{StatusScheduled, false, false, false},
		{StatusQueued, false, false, false},
		{StatusAllocating, false, true, false},
		{StatusDownloading, false, true, false},
		{StatusProcessing, false, true, false},
		{StatusCompleted, true, false, false},
		{StatusCancelled, true, false, true},
		{StatusError, true, false, true},
	}

	for _, tt := range tests {
		it := &Item{Status: tt.status}
		if got := it.IsTerminal(); got != tt.terminal {
			t.Errorf("IsTerminal() for %s = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := it.IsActive(); got != tt.active {
			t.Errorf("IsActive() for %s = %v, want %v", tt.status, got, tt.active)
		}
		if got := it.CanRetry(); got != tt.retry {
			t.Errorf("CanRetry() for %s = %v, want %v", tt.status, got, tt.retry)
		}
	}
}

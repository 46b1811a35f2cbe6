// Package queue holds the shared collection of download items and the
// race-free mutation primitives around it: capacity-capped add, explicit
// reordering, the atomic claim protocol with stale-claim recovery, and the
// listener fan-out consumed by UI bindings.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/cancel"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
)

const (
	// DefaultMaxItems caps the total item count; AddItem fails past it.
	DefaultMaxItems = 1000

	// DefaultStaleClaimTimeout is how long an item may sit in
	// StatusAllocating before the next claim sweeps it back to queued.
	DefaultStaleClaimTimeout = 60 * time.Second
)

// Listener is a callback invoked, outside the store's lock, with a snapshot
// of the item whose mutation triggered it. A listener that panics is caught
// and logged; it never breaks the mutation path or other listeners.
type Listener func(*Item)

// Store is the ordered, mutex-guarded sequence of download items.
// Insertion order is the default priority order. All public operations
// acquire the lock for their full duration; listener invocation happens
// after it is released.
type Store struct {
	mu         sync.Mutex
	items      []*Item
	maxItems   int
	staleAfter time.Duration

	listeners  map[int]Listener
	nextListID int

	// tokens maps a claimed item's id to its job's cancel token so
	// external cancel/pause requests can reach the running worker.
	tokens map[string]*cancel.Token

	// wake carries one pending "new work" signal for the dispatcher.
	wake chan struct{}
}

// NewStore creates an empty store. Zero arguments fall back to the
// package defaults.
func NewStore(maxItems int, staleAfter time.Duration) *Store {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleClaimTimeout
	}
	return &Store{
		items:      make([]*Item, 0, 16),
		maxItems:   maxItems,
		staleAfter: staleAfter,
		listeners:  make(map[int]Listener),
		tokens:     make(map[string]*cancel.Token),
		wake:       make(chan struct{}, 1),
	}
}

// Wake returns the channel the dispatcher blocks on between submission
// cycles. It receives at most one pending signal.
func (s *Store) Wake() <-chan struct{} {
	return s.wake
}

func (s *Store) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddItem appends an item. It fails with a capacity error when the store is
// at its maximum size, and wakes any blocked dispatcher on success.
func (s *Store) AddItem(it *Item) error {
	if it == nil || it.URL == "" {
		return apperrors.BadRequest("item url is required")
	}
	if it.Status == "" {
		it.Status = StatusQueued
	}
	mustValidStatus(it.Status)

	s.mu.Lock()
	if len(s.items) >= s.maxItems {
		limit := s.maxItems
		s.mu.Unlock()
		return apperrors.QueueFull(limit)
	}
	it.UpdatedAt = time.Now()
	s.items = append(s.items, it)
	snapshot := it.clone()
	listeners := s.listenerSnapshot()
	s.mu.Unlock()

	s.signalWake()
	notify(listeners, snapshot)
	return nil
}

// Get returns a snapshot of the item with the given id.
func (s *Store) Get(id string) (*Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.find(id); it != nil {
		return it.clone(), true
	}
	return nil, false
}

// Items returns snapshots of all items in queue order.
func (s *Store) Items() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, len(s.items))
	for i, it := range s.items {
		out[i] = it.clone()
	}
	return out
}

// Len returns the current item count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// RemoveItem deletes the item with the given id. Unknown ids are a no-op,
// not an error; listeners are notified only on actual removal.
func (s *Store) RemoveItem(id string) bool {
	s.mu.Lock()
	idx := -1
	for i, it := range s.items {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	removed := s.items[idx].clone()
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	delete(s.tokens, id)
	listeners := s.listenerSnapshot()
	s.mu.Unlock()

	notify(listeners, removed)
	return true
}

// SwapItems exchanges the items at positions i and j. Invalid indices are a
// no-op. Reordering is only meaningful for items not yet claimed.
func (s *Store) SwapItems(i, j int) bool {
	s.mu.Lock()
	if i == j || i < 0 || j < 0 || i >= len(s.items) || j >= len(s.items) {
		s.mu.Unlock()
		return false
	}
	s.items[i], s.items[j] = s.items[j], s.items[i]
	fst, snd := s.items[i].clone(), s.items[j].clone()
	listeners := s.listenerSnapshot()
	s.mu.Unlock()

	notify(listeners, fst)
	notify(listeners, snd)
	return true
}

// UpdateScheduledItems transitions every scheduled item whose time has come
// to queued, clears its scheduled time, and returns the count changed. It
// is called on every dispatcher tick and must stay cheap.
func (s *Store) UpdateScheduledItems(now time.Time) int {
	s.mu.Lock()
	var promoted []*Item
	for _, it := range s.items {
		if it.Status != StatusScheduled || it.ScheduledTime == nil {
			continue
		}
		if it.ScheduledTime.After(now) {
			continue
		}
		it.Status = StatusQueued
		it.ScheduledTime = nil
		it.UpdatedAt = now
		promoted = append(promoted, it.clone())
	}
	listeners := s.listenerSnapshot()
	s.mu.Unlock()

	if len(promoted) > 0 {
		s.signalWake()
		for _, it := range promoted {
			notify(listeners, it)
		}
	}
	return len(promoted)
}

// ClaimNextDownloadable atomically claims the first queued item: it is
// marked StatusAllocating with a claim timestamp before the lock is
// released, so no two claimers can ever receive the same item. Before
// scanning, items stuck in StatusAllocating longer than the stale-claim
// timeout are swept back to queued; that protects against a dispatcher
// crash between claim and job start leaving an item permanently
// un-claimable. Returns nil when nothing is claimable.
func (s *Store) ClaimNextDownloadable() *Item {
	now := time.Now()

	s.mu.Lock()
	for _, it := range s.items {
		if it.Status == StatusAllocating && now.Sub(it.claimedAt) > s.staleAfter {
			it.Status = StatusQueued
			it.claimedAt = time.Time{}
			it.UpdatedAt = now
		}
	}

	for _, it := range s.items {
		if it.Status != StatusQueued {
			continue
		}
		it.Status = StatusAllocating
		it.claimedAt = now
		it.UpdatedAt = now
		claimed := it.clone()
		listeners := s.listenerSnapshot()
		s.mu.Unlock()

		notify(listeners, claimed)
		return claimed
	}
	s.mu.Unlock()
	return nil
}

// BeginDownloading moves a claimed item from allocating to downloading.
// It returns false when the claim no longer holds: a cancel or removal
// that landed between claim and job start wins, and the worker must not
// run the download.
func (s *Store) BeginDownloading(id string) bool {
	return s.mutateWhen(id,
		func(it *Item) bool { return it.Status == StatusAllocating },
		func(it *Item) {
			it.Status = StatusDownloading
			it.claimedAt = time.Time{}
		})
}

// AnyDownloading reports whether any item is currently owned by a worker.
func (s *Store) AnyDownloading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.IsActive() {
			return true
		}
	}
	return false
}

// ActiveCount returns how many items are currently owned by workers.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.IsActive() {
			n++
		}
	}
	return n
}

// MarkStatus sets the item's status. Unknown ids are a no-op; an invalid
// status string is a defect and panics.
func (s *Store) MarkStatus(id, status string) bool {
	mustValidStatus(status)
	return s.mutate(id, func(it *Item) {
		it.Status = status
		if status != StatusAllocating {
			it.claimedAt = time.Time{}
		}
	})
}

// UpdateProgress records telemetry for the one worker that claimed the item.
func (s *Store) UpdateProgress(id string, progress, speed float64, eta, size int64) bool {
	return s.mutate(id, func(it *Item) {
		it.Progress = progress
		it.Speed = speed
		it.ETA = eta
		if size > 0 {
			it.Size = size
		}
	})
}

// SetTitle updates the display title as metadata resolves.
func (s *Store) SetTitle(id, title string) bool {
	if title == "" {
		return false
	}
	return s.mutate(id, func(it *Item) {
		it.Title = title
	})
}

// Complete marks the item finished and records the final filename.
func (s *Store) Complete(id, finalFilename string) bool {
	return s.mutate(id, func(it *Item) {
		it.Status = StatusCompleted
		it.Progress = 1.0
		it.Speed = 0
		it.ETA = 0
		it.Error = ""
		it.FinalFilename = finalFilename
		it.claimedAt = time.Time{}
	})
}

// Fail marks the item terminally failed and stores the error message.
func (s *Store) Fail(id, msg string) bool {
	return s.mutate(id, func(it *Item) {
		it.Status = StatusError
		it.Speed = 0
		it.ETA = -1
		it.Error = msg
		it.claimedAt = time.Time{}
	})
}

// MarkCancelled moves the item to cancelled regardless of where it was.
func (s *Store) MarkCancelled(id string) bool {
	return s.mutate(id, func(it *Item) {
		it.Status = StatusCancelled
		it.Speed = 0
		it.ETA = -1
		it.claimedAt = time.Time{}
	})
}

// Retry puts a terminal error/cancelled item back in the queue and wakes
// the dispatcher. Items in any other state are left alone.
func (s *Store) Retry(id string) bool {
	ok := s.mutateWhen(id,
		func(it *Item) bool { return it.CanRetry() },
		func(it *Item) {
			it.Status = StatusQueued
			it.Progress = 0
			it.Speed = 0
			it.ETA = -1
			it.Error = ""
			it.FinalFilename = ""
		})
	if ok {
		s.signalWake()
	}
	return ok
}

// RegisterToken associates a running job's cancel token with an item id.
func (s *Store) RegisterToken(id string, tok *cancel.Token) {
	s.mu.Lock()
	s.tokens[id] = tok
	s.mu.Unlock()
}

// UnregisterToken removes the token registered for an item id.
func (s *Store) UnregisterToken(id string) {
	s.mu.Lock()
	delete(s.tokens, id)
	s.mu.Unlock()
}

// CancelAllTokens cancels every registered job token. Called on shutdown so
// in-flight pause loops and chunk streams exit promptly.
func (s *Store) CancelAllTokens() {
	s.mu.Lock()
	tokens := make([]*cancel.Token, 0, len(s.tokens))
	for _, tok := range s.tokens {
		tokens = append(tokens, tok)
	}
	s.mu.Unlock()

	for _, tok := range tokens {
		tok.Cancel()
	}
}

// Token returns the cancel token registered for an item id, if any.
func (s *Store) Token(id string) (*cancel.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	return tok, ok
}

// AddListener registers a mutation callback and returns a handle for
// RemoveListener.
func (s *Store) AddListener(fn Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListID++
	id := s.nextListID
	s.listeners[id] = fn
	return id
}

// RemoveListener drops a previously registered listener.
func (s *Store) RemoveListener(id int) {
	s.mu.Lock()
	delete(s.listeners, id)
	s.mu.Unlock()
}

// mutate runs fn on the item under the lock, then notifies listeners.
func (s *Store) mutate(id string, fn func(*Item)) bool {
	return s.mutateWhen(id, nil, fn)
}

func (s *Store) mutateWhen(id string, cond func(*Item) bool, fn func(*Item)) bool {
	s.mu.Lock()
	it := s.find(id)
	if it == nil || (cond != nil && !cond(it)) {
		s.mu.Unlock()
		return false
	}
	fn(it)
	it.UpdatedAt = time.Now()
	snapshot := it.clone()
	listeners := s.listenerSnapshot()
	s.mu.Unlock()

	notify(listeners, snapshot)
	return true
}

// find must be called with the lock held.
func (s *Store) find(id string) *Item {
	for _, it := range s.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// listenerSnapshot must be called with the lock held.
func (s *Store) listenerSnapshot() []Listener {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []Listener, it *Item) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warn().
						Str("item_id", it.ID).
						Interface("panic", r).
						Msg("queue listener panicked")
				}
			}()
			fn(it)
		}()
	}
}

func mustValidStatus(status string) {
	if !ValidStatus(status) {
		panic(fmt.Sprintf("queue: invalid item status %q", status))
	}
}

package queue

import (
	"time"

	"github.com/google/uuid"
)

// Item status constants representing the download lifecycle
const (
	StatusScheduled   = "scheduled"
	StatusQueued      = "queued"
	StatusAllocating  = "allocating"
	StatusDownloading = "downloading"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
	StatusError       = "error"
)

// Item represents one requested download. Runtime fields (status, progress,
// speed, eta, size, error, final filename) are mutated only through the
// Store while the one worker that claimed the item holds it; descriptive
// fields are set at creation and, for the title, as metadata resolves.
type Item struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	OutputPath string `json:"output_path,omitempty"`

	// Opaque selectors consumed by the extractor.
	Format  string `json:"format,omitempty"`
	Quality string `json:"quality,omitempty"`

	Status        string  `json:"status"`
	Progress      float64 `json:"progress"` // 0.0 to 1.0
	Speed         float64 `json:"speed"`    // bytes per second
	ETA           int64   `json:"eta"`      // seconds, -1 if unknown
	Size          int64   `json:"size"`     // total bytes, 0 if unknown
	Error         string  `json:"error,omitempty"`
	FinalFilename string  `json:"final_filename,omitempty"`

	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// claimedAt is set while the item sits in StatusAllocating; the stale
	// sweep uses it to recover claims whose worker never started.
	claimedAt time.Time
}

// NewItem creates a queued item with a fresh id.
func NewItem(url string) *Item {
	now := time.Now()
	return &Item{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    StatusQueued,
		ETA:       -1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal returns true if the item is in a terminal state
func (it *Item) IsTerminal() bool {
	return it.Status == StatusCompleted || it.Status == StatusCancelled || it.Status == StatusError
}

// IsActive returns true while a worker owns the item
func (it *Item) IsActive() bool {
	return it.Status == StatusAllocating || it.Status == StatusDownloading || it.Status == StatusProcessing
}

// CanRetry returns true if the item can be put back in the queue by the user
func (it *Item) CanRetry() bool {
	return it.Status == StatusError || it.Status == StatusCancelled
}

// ValidStatus reports whether s is one of the enumerated states. An item
// carrying anything else is a defect, not an expected runtime condition.
func ValidStatus(s string) bool {
	switch s {
	case StatusScheduled, StatusQueued, StatusAllocating, StatusDownloading,
		StatusProcessing, StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// clone returns a copy safe to hand outside the store's lock.
func (it *Item) clone() *Item {
	cp := *it
	if it.ScheduledTime != nil {
		t := *it.ScheduledTime
		cp.ScheduledTime = &t
	}
	return &cp
}

// Package history records finished downloads for later display. Recording
// is fire-and-forget: a failure to write history is logged and never fails
// the job that produced it.
package history

import (
	"context"
	"time"
)

// Entry is one recorded download outcome.
type Entry struct {
	ID         string    `json:"id,omitempty"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	OutputPath string    `json:"output_path"`
	Format     string    `json:"format"`
	Status     string    `json:"status"`
	Size       int64     `json:"size"`
	FinalPath  string    `json:"final_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder is the consumed history-store contract.
type Recorder interface {
	AddEntry(ctx context.Context, e Entry) error
}

// Noop discards entries. Used in tests and when history is disabled.
type Noop struct{}

// AddEntry implements Recorder.
func (Noop) AddEntry(context.Context, Entry) error { return nil }

package download

import (
	"context"
	"net/url"
	"time"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/cancel"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
)

// AddRequest describes a new download submission.
type AddRequest struct {
	URL           string     `json:"url"`
	Format        string     `json:"format,omitempty"`
	Quality       string     `json:"quality,omitempty"`
	OutputPath    string     `json:"output_path,omitempty"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// Service is the application-facing surface for the download pipeline. It
// validates requests and delegates queue mutations to the store and job
// control to the dispatcher and cancel tokens.
type Service struct {
	store      *queue.Store
	dispatcher *Dispatcher
}

// NewService wires a service over an existing store and dispatcher.
func NewService(store *queue.Store, dispatcher *Dispatcher) *Service {
	return &Service{store: store, dispatcher: dispatcher}
}

// Start launches background processing.
func (s *Service) Start() {
	s.dispatcher.Start()
}

// Stop shuts down background processing, cancelling in-flight jobs.
func (s *Service) Stop(ctx context.Context) error {
	return s.dispatcher.Stop(ctx)
}

// Add validates and enqueues a new download. A scheduled time in the
// future parks the item until the sweep promotes it.
func (s *Service) Add(req AddRequest) (*queue.Item, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}

	it := queue.NewItem(req.URL)
	it.Format = req.Format
	it.Quality = req.Quality
	it.OutputPath = req.OutputPath
	if req.ScheduledTime != nil && req.ScheduledTime.After(time.Now()) {
		t := *req.ScheduledTime
		it.ScheduledTime = &t
		it.Status = queue.StatusScheduled
	}

	if err := s.store.AddItem(it); err != nil {
		return nil, err
	}
	added, _ := s.store.Get(it.ID)
	return added, nil
}

// Get returns a snapshot of one item.
func (s *Service) Get(id string) (*queue.Item, error) {
	it, ok := s.store.Get(id)
	if !ok {
		return nil, apperrors.ItemNotFound(id)
	}
	return it, nil
}

// Items returns a snapshot of the whole queue in order.
func (s *Service) Items() []*queue.Item {
	return s.store.Items()
}

// Cancel stops an item. A running job is signalled through its token and
// transitions when the job observes the signal; a pending item is marked
// cancelled directly.
func (s *Service) Cancel(id string) error {
	it, ok := s.store.Get(id)
	if !ok {
		return apperrors.ItemNotFound(id)
	}
	if it.IsTerminal() {
		return apperrors.BadRequest("item already finished")
	}
	if tok, ok := s.store.Token(id); ok {
		tok.Cancel()
		return nil
	}
	s.store.MarkCancelled(id)
	return nil
}

// Pause suspends a running item at its next checkpoint.
func (s *Service) Pause(id string) error {
	tok, err := s.activeToken(id)
	if err != nil {
		return err
	}
	tok.Pause()
	return nil
}

// Resume releases a paused item.
func (s *Service) Resume(id string) error {
	tok, err := s.activeToken(id)
	if err != nil {
		return err
	}
	tok.Resume()
	return nil
}

// Retry re-queues a failed or cancelled item.
func (s *Service) Retry(id string) error {
	if _, ok := s.store.Get(id); !ok {
		return apperrors.ItemNotFound(id)
	}
	if !s.store.Retry(id) {
		return apperrors.BadRequest("item is not in a retryable state")
	}
	return nil
}

// Remove cancels the item if running and deletes it from the queue. The
// partially written file, if any, is left on disk.
func (s *Service) Remove(id string) error {
	if tok, ok := s.store.Token(id); ok {
		tok.Cancel()
	}
	if !s.store.RemoveItem(id) {
		return apperrors.ItemNotFound(id)
	}
	return nil
}

// Reorder swaps the queue positions of two items.
func (s *Service) Reorder(i, j int) error {
	if !s.store.SwapItems(i, j) {
		return apperrors.BadRequest("invalid queue positions")
	}
	return nil
}

// Status summarizes the pipeline for health reporting.
type Status struct {
	Running     bool `json:"running"`
	QueueLength int  `json:"queue_length"`
	ActiveJobs  int  `json:"active_jobs"`
	MaxJobs     int  `json:"max_jobs"`
}

// Status returns a point-in-time view of the pipeline.
func (s *Service) Status() Status {
	return Status{
		Running:     s.dispatcher.IsRunning(),
		QueueLength: s.store.Len(),
		ActiveJobs:  s.dispatcher.ActiveJobs(),
		MaxJobs:     s.dispatcher.MaxConcurrent(),
	}
}

// SetMaxConcurrent resizes the download concurrency bound.
func (s *Service) SetMaxConcurrent(n int) error {
	if n <= 0 {
		return apperrors.BadRequest("max concurrent downloads must be positive")
	}
	s.dispatcher.SetMaxConcurrent(n)
	return nil
}

func (s *Service) activeToken(id string) (*cancel.Token, error) {
	if _, ok := s.store.Get(id); !ok {
		return nil, apperrors.ItemNotFound(id)
	}
	tok, ok := s.store.Token(id)
	if !ok {
		return nil, apperrors.BadRequest("item is not currently downloading")
	}
	return tok, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return apperrors.BadRequest("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.BadRequest("url must be a valid http or https address")
	}
	return nil
}

package download

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/cancel"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/engine"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/history"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
)

const (
	// DefaultMaxConcurrent bounds simultaneous downloads.
	DefaultMaxConcurrent = 3

	// defaultTick paces the submission loop and the scheduled-item sweep;
	// it is also how often a blocked dispatcher re-checks shutdown.
	defaultTick = 2 * time.Second
)

// OptionsProvider returns the extractor options for a job. It is consulted
// once per job at submission time, so configuration changes apply to the
// next job, never to a running one.
type OptionsProvider func() Options

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	MaxConcurrent int
	PauseTimeout  time.Duration
	Tick          time.Duration
	Options       OptionsProvider
}

// Dispatcher keeps a bounded number of downloads running: it claims work
// from the queue store, runs each claimed item on its own goroutine, and
// translates job outcomes into queue-state transitions. It owns no queue
// data itself.
type Dispatcher struct {
	store     *queue.Store
	extractor Extractor
	engine    *engine.Engine
	history   history.Recorder
	options   OptionsProvider

	pauseTimeout time.Duration
	tick         time.Duration

	mu      sync.Mutex
	limit   int
	active  int
	running bool

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher. The engine is the fallback path for
// URLs the extractor does not handle; the history recorder is notified of
// completed downloads fire-and-forget.
func NewDispatcher(store *queue.Store, extractor Extractor, eng *engine.Engine, recorder history.Recorder, cfg *DispatcherConfig) *Dispatcher {
	if cfg == nil {
		cfg = &DispatcherConfig{}
	}
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	options := cfg.Options
	if options == nil {
		options = func() Options { return Options{} }
	}
	if recorder == nil {
		recorder = history.Noop{}
	}
	return &Dispatcher{
		store:        store,
		extractor:    extractor,
		engine:       eng,
		history:      recorder,
		options:      options,
		pauseTimeout: cfg.PauseTimeout,
		tick:         tick,
		limit:        limit,
		logger:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// Start launches the submission loop. Idempotent.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.ctx, d.cancelFn = context.WithCancel(context.Background())
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run()

	d.logger.Info().Int("max_concurrent", d.MaxConcurrent()).Msg("dispatcher started")
}

// Stop stops claiming new work, cancels the tokens of in-flight jobs so
// pause loops and chunk streams exit promptly, and waits for running jobs
// to finish or ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancelFn := d.cancelFn
	d.mu.Unlock()

	cancelFn()
	d.store.CancelAllTokens()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info().Msg("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn().Msg("dispatcher shutdown timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the submission loop is active.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// MaxConcurrent returns the current concurrency bound.
func (d *Dispatcher) MaxConcurrent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limit
}

// SetMaxConcurrent resizes the concurrency bound. A smaller bound applies
// as running jobs drain; nothing in flight is interrupted.
func (d *Dispatcher) SetMaxConcurrent(n int) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	d.limit = n
	d.mu.Unlock()
	d.Pump()
}

// ActiveJobs returns how many submission slots are currently held.
func (d *Dispatcher) ActiveJobs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Pump attempts submissions until the bound is reached or the queue has
// nothing claimable. Safe to call from any goroutine.
func (d *Dispatcher) Pump() {
	for {
		if !d.acquireSlot() {
			return
		}
		it := d.store.ClaimNextDownloadable()
		if it == nil {
			d.releaseSlot()
			return
		}
		d.wg.Add(1)
		go d.runJob(it)
	}
}

// run is the dispatcher's main loop: it pumps on the store's wake signal
// and on a periodic tick, which also drives the scheduled-item sweep and
// bounds how long a shutdown can go unnoticed.
func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	d.store.UpdateScheduledItems(time.Now())
	d.Pump()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.store.Wake():
			d.Pump()
		case <-ticker.C:
			if n := d.store.UpdateScheduledItems(time.Now()); n > 0 {
				d.logger.Debug().Int("count", n).Msg("scheduled items became due")
			}
			d.Pump()
		}
	}
}

func (d *Dispatcher) acquireSlot() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || d.active >= d.limit {
		return false
	}
	d.active++
	return true
}

func (d *Dispatcher) releaseSlot() {
	d.mu.Lock()
	d.active--
	d.mu.Unlock()
}

// runJob handles the full lifecycle of one claimed item. The slot is
// released when the job finishes, and the pipeline re-pumps itself so no
// busy-waiting is needed.
func (d *Dispatcher) runJob(it *queue.Item) {
	defer d.wg.Done()
	defer func() {
		d.releaseSlot()
		d.Pump()
	}()

	// Shutdown already signalled: never start the download call.
	if d.ctx.Err() != nil || !d.IsRunning() {
		d.store.MarkCancelled(it.ID)
		return
	}

	tok := cancel.NewToken(d.pauseTimeout)
	d.store.RegisterToken(it.ID, tok)
	defer d.store.UnregisterToken(it.ID)

	// A cancel or removal that landed between claim and here wins; never
	// resurrect such an item by starting its download.
	if !d.store.BeginDownloading(it.ID) {
		d.logger.Info().Str("item_id", it.ID).Msg("claim superseded before start")
		return
	}
	d.logger.Info().Str("item_id", it.ID).Str("url", it.URL).Msg("download started")

	opts := d.jobOptions(it)
	res, err := d.execute(it, opts, tok)

	switch {
	case err == nil:
		d.store.SetTitle(it.ID, res.Title)
		d.store.Complete(it.ID, res.Filename)
		d.logger.Info().Str("item_id", it.ID).Str("file", res.Filename).Msg("download completed")
		d.recordHistory(it, res)
	case apperrors.IsCancelled(err) || errors.Is(err, context.Canceled):
		d.store.MarkCancelled(it.ID)
		d.logger.Info().Str("item_id", it.ID).Msg("download cancelled")
	default:
		d.store.Fail(it.ID, apperrors.MessageOf(err))
		d.logger.Error().Err(err).Str("item_id", it.ID).Msg("download failed")
	}
}

// execute invokes the extractor and, when it declines the URL, falls back
// to the direct HTTP engine.
func (d *Dispatcher) execute(it *queue.Item, opts Options, tok *cancel.Token) (*Result, error) {
	hook := d.progressHook(it)

	res, err := d.extractor.Download(d.ctx, it.URL, opts, hook, tok)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrNoExtractor) {
		return nil, err
	}

	d.logger.Debug().Str("item_id", it.ID).Msg("no platform extractor, using direct download")
	dest, err := d.engine.Download(d.ctx, it.URL, opts.OutputDir, directFilename(it), engineProgress(hook), tok)
	if err != nil {
		return nil, err
	}

	var size int64
	if snapshot, ok := d.store.Get(it.ID); ok {
		size = snapshot.Size
	}
	return &Result{Filename: dest, Size: size}, nil
}

// progressHook translates extractor events into item telemetry. Transfer
// completion (pre-post-processing) moves the item to processing.
func (d *Dispatcher) progressHook(it *queue.Item) ProgressHook {
	return func(ev ProgressEvent) {
		switch ev.Status {
		case EventDownloading:
			frac := 0.0
			if ev.TotalBytes > 0 {
				frac = float64(ev.DownloadedBytes) / float64(ev.TotalBytes)
			}
			d.store.UpdateProgress(it.ID, frac, ev.Speed, ev.ETA, ev.TotalBytes)
			if ev.Title != "" {
				d.store.SetTitle(it.ID, ev.Title)
			}
		case EventFinished:
			d.store.MarkStatus(it.ID, queue.StatusProcessing)
		}
	}
}

// recordHistory is fire-and-forget: a failed write is logged, never raised.
func (d *Dispatcher) recordHistory(it *queue.Item, res *Result) {
	snapshot, ok := d.store.Get(it.ID)
	if !ok {
		snapshot = it
	}

	entry := history.Entry{
		URL:        it.URL,
		Title:      snapshot.Title,
		OutputPath: snapshot.OutputPath,
		Format:     snapshot.Format,
		Status:     queue.StatusCompleted,
		Size:       snapshot.Size,
		FinalPath:  res.Filename,
		CreatedAt:  time.Now(),
	}

	go func() {
		ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFn()
		if err := d.history.AddEntry(ctx, entry); err != nil {
			d.logger.Warn().Err(err).Str("url", entry.URL).Msg("history write failed")
		}
	}()
}

// jobOptions merges the configuration snapshot with per-item selectors.
func (d *Dispatcher) jobOptions(it *queue.Item) Options {
	opts := d.options()
	if it.Format != "" {
		opts.Format = it.Format
	}
	if it.Quality != "" {
		opts.Quality = it.Quality
	}
	if it.OutputPath != "" {
		opts.OutputDir = it.OutputPath
	}
	return opts
}

// engineProgress adapts engine telemetry onto the extractor hook shape.
func engineProgress(hook ProgressHook) engine.ProgressFunc {
	return func(p engine.Progress) {
		hook(ProgressEvent{
			Status:          p.Status,
			DownloadedBytes: p.Downloaded,
			TotalBytes:      p.Total,
			Speed:           p.Speed,
			ETA:             p.ETA,
			Filename:        p.Filename,
		})
	}
}

// directFilename derives a bare destination name for the direct-URL path.
func directFilename(it *queue.Item) string {
	if u, err := url.Parse(it.URL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			return sanitizeFilename(name)
		}
	}
	return it.ID + ".bin"
}

// sanitizeFilename strips characters that would make the name a path.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(name)
}

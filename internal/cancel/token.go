// Package cancel provides the cooperative cancellation/pause primitive
// handed to each running download job. The token is pollable: the download
// engine and the extractor progress hook call Check at safe points (chunk
// boundaries, progress events) and abort when it fails.
package cancel

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
)

const defaultPollInterval = 500 * time.Millisecond

// Token is a per-job cancellation and pause flag. It is created when a job
// starts and discarded when the job ends; tokens are never reused across
// jobs. A single worker polls Check, while Cancel/Pause/Resume may be
// called from other goroutines.
type Token struct {
	mu             sync.Mutex
	cancelled      bool
	paused         bool
	pauseStartedAt time.Time
	pauseTimeout   time.Duration
	pauseProbe     func() bool

	poll time.Duration
}

// NewToken creates a token. pauseTimeout bounds how long Check will block
// while paused; zero means no bound.
func NewToken(pauseTimeout time.Duration) *Token {
	return &Token{
		pauseTimeout: pauseTimeout,
		poll:         defaultPollInterval,
	}
}

// Cancel marks the token cancelled. Idempotent.
func (t *Token) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Pause marks the token paused and records when the pause began.
func (t *Token) Pause() {
	t.mu.Lock()
	if !t.paused {
		t.paused = true
		t.pauseStartedAt = time.Now()
	}
	t.mu.Unlock()
}

// Resume clears the paused state.
func (t *Token) Resume() {
	t.mu.Lock()
	t.paused = false
	t.pauseStartedAt = time.Time{}
	t.mu.Unlock()
}

// Paused reports whether the token is currently paused.
func (t *Token) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// SetPauseProbe installs an externally supplied pause predicate. When set,
// pause state can be driven by something other than the token itself; any
// divergence between the probe and the token's own flag is reconciled on
// each Check poll.
func (t *Token) SetPauseProbe(probe func() bool) {
	t.mu.Lock()
	t.pauseProbe = probe
	t.mu.Unlock()
}

// Err reports the token's terminal condition without blocking. It returns
// a Cancelled error once Cancel has been called, a PauseTimeout error once
// a pause has outlived its bound, and nil otherwise. Callers that cannot
// block in Check, such as the process supervisor around an external
// downloader, poll this instead.
func (t *Token) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return apperrors.Cancelled()
	}
	if t.paused && t.pauseTimeout > 0 && time.Since(t.pauseStartedAt) > t.pauseTimeout {
		return apperrors.PauseTimeout(fmt.Sprintf("pause exceeded %s", t.pauseTimeout))
	}
	return nil
}

// Check fails immediately with a Cancelled error once the token is
// cancelled. While the token is paused it blocks, sleeping in short
// increments and re-checking cancellation each iteration; if the elapsed
// pause time exceeds the configured timeout it fails with a PauseTimeout
// error instead of blocking forever.
func (t *Token) Check() error {
	for {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return apperrors.Cancelled()
		}

		probe := t.pauseProbe
		t.mu.Unlock()

		// The probe is external code; never call it under the lock.
		if probe != nil {
			if probe() {
				t.Pause()
			} else {
				t.Resume()
			}
		}

		t.mu.Lock()
		if !t.paused {
			t.mu.Unlock()
			return nil
		}
		if t.pauseTimeout > 0 {
			elapsed := time.Since(t.pauseStartedAt)
			if elapsed > t.pauseTimeout {
				t.mu.Unlock()
				return apperrors.PauseTimeout(
					fmt.Sprintf("pause exceeded %s", t.pauseTimeout))
			}
		}
		poll := t.poll
		t.mu.Unlock()

		time.Sleep(poll)
	}
}

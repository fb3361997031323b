// Package persist coalesces rapid message mutations into throttled writes.
package persist

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultAutoSaveInterval is the delay between the first pending update and
	// the save it triggers.
	DefaultAutoSaveInterval = time.Second
	// MinAutoSaveInterval is the smallest accepted interval.
	MinAutoSaveInterval = 200 * time.Millisecond
)

// SaveFunc persists content. It may block.
type SaveFunc func(ctx context.Context, content string) error

// AutoSaverOption configures an AutoSaver.
type AutoSaverOption func(*AutoSaver)

// WithInterval sets the save delay, clamped to MinAutoSaveInterval.
func WithInterval(d time.Duration) AutoSaverOption {
	return func(a *AutoSaver) {
		if d < MinAutoSaveInterval {
			d = MinAutoSaveInterval
		}
		a.interval = d
	}
}

// WithLogger sets the logger used to report save failures.
func WithLogger(l *log.Logger) AutoSaverOption {
	return func(a *AutoSaver) {
		if l != nil {
			a.logger = l
		}
	}
}

// AutoSaverStats is a point-in-time view of an AutoSaver.
type AutoSaverStats struct {
	Updates  int
	Saves    int
	Failures int
	Pending  bool
	Stopped  bool
}

// AutoSaver schedules saves for a single message. Update never blocks on I/O;
// at most one save runs at a time and it always writes the newest content.
type AutoSaver struct {
	save     SaveFunc
	interval time.Duration
	logger   *log.Logger

	// saveMu serializes calls to save
	saveMu sync.Mutex

	mu       sync.Mutex
	latest   string
	rev      uint64
	savedRev uint64
	timer    *time.Timer
	saving   bool
	stopped  bool
	stats    AutoSaverStats
}

// NewAutoSaver creates an AutoSaver writing through save.
func NewAutoSaver(save SaveFunc, opts ...AutoSaverOption) *AutoSaver {
	a := &AutoSaver{
		save:     save,
		interval: DefaultAutoSaveInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.New(os.Stderr)
	}
	return a
}

// Interval returns the effective save delay.
func (a *AutoSaver) Interval() time.Duration {
	return a.interval
}

// Update records content as the newest value and schedules a save if none is
// pending.
func (a *AutoSaver) Update(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.latest = content
	a.rev++
	a.stats.Updates++
	if a.timer == nil && !a.saving {
		a.scheduleLocked()
	}
}

// Flush cancels the pending timer and saves immediately. It does nothing when
// the newest content was already saved.
func (a *AutoSaver) Flush(ctx context.Context) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopTimerLocked()
	a.mu.Unlock()

	a.saveLatest(ctx)
}

// Stop cancels any pending save and disables the saver permanently.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.stopTimerLocked()
}

// Stats returns a snapshot of counters.
func (a *AutoSaver) Stats() AutoSaverStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Pending = a.rev != a.savedRev
	s.Stopped = a.stopped
	return s
}

func (a *AutoSaver) scheduleLocked() {
	a.timer = time.AfterFunc(a.interval, a.fire)
}

func (a *AutoSaver) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *AutoSaver) fire() {
	a.mu.Lock()
	a.timer = nil
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return
	}
	a.saveLatest(context.Background())
}

func (a *AutoSaver) saveLatest(ctx context.Context) {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	if a.stopped || a.rev == a.savedRev {
		a.mu.Unlock()
		return
	}
	content, rev := a.latest, a.rev
	a.saving = true
	a.mu.Unlock()

	err := a.save(ctx, content)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.saving = false
	if err != nil {
		a.stats.Failures++
		a.logger.Error("autosave failed", "error", err, "bytes", len(content))
	} else {
		a.stats.Saves++
		a.savedRev = rev
	}
	// newer content arrived while saving
	if a.rev != rev && !a.stopped && a.timer == nil {
		a.scheduleLocked()
	}
}

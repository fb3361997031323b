package persist

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultUpdateDebounce = 100 * time.Millisecond
	ContentDeltaThreshold = 50
	MinUpdateInterval     = 500 * time.Millisecond
)

// DebouncedUpdate is the pending state of one message.
type DebouncedUpdate struct {
	LatestContent string
	LastAccepted  time.Time
	UpdateCount   int
}

// UpdateStats summarizes pending work.
type UpdateStats struct {
	PendingCount  int
	TotalUpdates  int
	CallbackCount int
}

// UpdateManagerOption configures an UpdateManager.
type UpdateManagerOption func(*UpdateManager)

// WithDebounce sets the batch save delay.
func WithDebounce(d time.Duration) UpdateManagerOption {
	return func(m *UpdateManager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *log.Logger) UpdateManagerOption {
	return func(m *UpdateManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) UpdateManagerOption {
	return func(m *UpdateManager) { m.now = now }
}

// UpdateManager tracks streaming content for many messages. UI callbacks fire on
// every accepted update; saves run in debounced batches, parallel across
// messages and serial per message.
type UpdateManager struct {
	debounce time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu       sync.Mutex
	pending  map[string]*DebouncedUpdate
	onUpdate map[string]func(content string)
	onSave   map[string]SaveFunc
	idLocks  map[string]*sync.Mutex
	timer    *time.Timer
	closed   bool
}

// NewUpdateManager creates an empty manager.
func NewUpdateManager(opts ...UpdateManagerOption) *UpdateManager {
	m := &UpdateManager{
		debounce: DefaultUpdateDebounce,
		now:      time.Now,
		pending:  make(map[string]*DebouncedUpdate),
		onUpdate: make(map[string]func(string)),
		onSave:   make(map[string]SaveFunc),
		idLocks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.New(os.Stderr)
	}
	return m
}

// OnUpdate registers the UI callback for id.
func (m *UpdateManager) OnUpdate(id string, fn func(content string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate[id] = fn
}

// OnSave registers the save callback for id.
func (m *UpdateManager) OnSave(id string, fn SaveFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSave[id] = fn
}

// Update records content for id. While a save is pending, small and frequent
// changes skip the UI callback but still replace the content that will be saved.
func (m *UpdateManager) Update(id, content string) {
	now := m.now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	entry, exists := m.pending[id]
	if exists {
		delta := len(content) - len(entry.LatestContent)
		if delta < 0 {
			delta = -delta
		}
		entry.LatestContent = content
		if delta < ContentDeltaThreshold && now.Sub(entry.LastAccepted) < MinUpdateInterval {
			m.mu.Unlock()
			return
		}
		entry.LastAccepted = now
		entry.UpdateCount++
	} else {
		m.pending[id] = &DebouncedUpdate{LatestContent: content, LastAccepted: now, UpdateCount: 1}
	}
	cb := m.onUpdate[id]
	m.resetTimerLocked()
	m.mu.Unlock()

	if cb != nil {
		m.notify(id, cb, content)
	}
}

// Pending returns a copy of the pending entry for id.
func (m *UpdateManager) Pending(id string) (DebouncedUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[id]
	if !ok {
		return DebouncedUpdate{}, false
	}
	return *entry, true
}

// Flush cancels the debounce timer and saves every pending message.
func (m *UpdateManager) Flush(ctx context.Context) {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	m.saveBatch(ctx, ids)
}

// FlushMessage saves id immediately if it has pending content.
func (m *UpdateManager) FlushMessage(ctx context.Context, id string) {
	m.saveOne(ctx, id)
}

// Cleanup drops pending state and callbacks and disables the manager.
func (m *UpdateManager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.closed = true
	m.pending = make(map[string]*DebouncedUpdate)
	m.onUpdate = make(map[string]func(string))
	m.onSave = make(map[string]SaveFunc)
}

// Forget drops the callbacks and any pending content of id. Call it after a
// final FlushMessage.
func (m *UpdateManager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	delete(m.onUpdate, id)
	delete(m.onSave, id)
	delete(m.idLocks, id)
}

// Stats returns pending counts.
func (m *UpdateManager) Stats() UpdateStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := UpdateStats{PendingCount: len(m.pending), CallbackCount: len(m.onUpdate)}
	for _, entry := range m.pending {
		s.TotalUpdates += entry.UpdateCount
	}
	return s
}

func (m *UpdateManager) resetTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, func() {
		m.Flush(context.Background())
	})
}

func (m *UpdateManager) saveBatch(ctx context.Context, ids []string) {
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.saveOne(ctx, id)
		}(id)
	}
	wg.Wait()
}

func (m *UpdateManager) saveOne(ctx context.Context, id string) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	entry, ok := m.pending[id]
	save := m.onSave[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	content := entry.LatestContent
	m.mu.Unlock()

	if save == nil {
		m.logger.Debug("no save callback registered", "message", id)
		return
	}

	if err := save(ctx, content); err != nil {
		m.logger.Error("save failed", "message", id, "error", err)
		return
	}

	m.mu.Lock()
	// keep the entry if content changed while saving
	if cur, ok := m.pending[id]; ok {
		if cur.LatestContent == content {
			delete(m.pending, id)
		} else if !m.closed && m.timer == nil {
			m.resetTimerLocked()
		}
	}
	m.mu.Unlock()
}

func (m *UpdateManager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.idLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.idLocks[id] = lock
	}
	return lock
}

func (m *UpdateManager) notify(id string, cb func(string), content string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("update callback panicked", "message", id, "panic", r)
		}
	}()
	cb(content)
}

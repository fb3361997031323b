package persist

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	saves []string
	fail  int
	delay time.Duration
}

func (r *recorder) save(ctx context.Context, content string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("disk full")
	}
	r.saves = append(r.saves, content)
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saves...)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestAutoSaver_FlushSavesLatestOnce(t *testing.T) {
	rec := &recorder{}
	saver := NewAutoSaver(rec.save, WithLogger(quietLogger()))

	saver.Update("a")
	saver.Update("ab")
	saver.Update("abc")
	saver.Flush(context.Background())

	assert.Equal(t, []string{"abc"}, rec.all())

	// nothing changed since the last save
	saver.Flush(context.Background())
	assert.Len(t, rec.all(), 1)
	assert.False(t, saver.Stats().Pending)
}

func TestAutoSaver_TimerSavesContentAtFireTime(t *testing.T) {
	rec := &recorder{}
	saver := NewAutoSaver(rec.save, WithInterval(MinAutoSaveInterval), WithLogger(quietLogger()))

	saver.Update("first")
	time.Sleep(50 * time.Millisecond)
	saver.Update("second")

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"second"}, rec.all())
}

func TestAutoSaver_ReschedulesWhenContentArrivesDuringSave(t *testing.T) {
	rec := &recorder{delay: 100 * time.Millisecond}
	saver := NewAutoSaver(rec.save, WithInterval(MinAutoSaveInterval), WithLogger(quietLogger()))

	saver.Update("one")
	// wait until the save is in flight
	time.Sleep(MinAutoSaveInterval + 30*time.Millisecond)
	saver.Update("two")

	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, rec.all())
}

func TestAutoSaver_FailureKeepsContentPending(t *testing.T) {
	rec := &recorder{fail: 1}
	saver := NewAutoSaver(rec.save, WithLogger(quietLogger()))

	saver.Update("draft")
	saver.Flush(context.Background())
	assert.Empty(t, rec.all())
	assert.Equal(t, 1, saver.Stats().Failures)
	assert.True(t, saver.Stats().Pending)

	saver.Flush(context.Background())
	assert.Equal(t, []string{"draft"}, rec.all())
}

func TestAutoSaver_StopDisables(t *testing.T) {
	rec := &recorder{}
	saver := NewAutoSaver(rec.save, WithInterval(MinAutoSaveInterval), WithLogger(quietLogger()))

	saver.Update("x")
	saver.Stop()
	saver.Update("y")
	saver.Flush(context.Background())

	time.Sleep(MinAutoSaveInterval + 50*time.Millisecond)
	assert.Empty(t, rec.all())
	assert.True(t, saver.Stats().Stopped)
}

func TestAutoSaver_IntervalFloor(t *testing.T) {
	saver := NewAutoSaver(func(context.Context, string) error { return nil }, WithInterval(time.Millisecond))
	assert.Equal(t, MinAutoSaveInterval, saver.Interval())
	assert.Equal(t, DefaultAutoSaveInterval, NewAutoSaver(nil).Interval())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestUpdateManager_SkipKeepsLatestContent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := NewUpdateManager(withClock(clock.Now), WithDebounce(time.Hour), WithManagerLogger(quietLogger()))

	var ui []string
	m.OnUpdate("m1", func(content string) { ui = append(ui, content) })

	m.Update("m1", "hello")
	m.Update("m1", "hello w") // small and fast: UI skipped
	entry, ok := m.Pending("m1")
	require.True(t, ok)
	assert.Equal(t, "hello w", entry.LatestContent)
	assert.Equal(t, 1, entry.UpdateCount)
	assert.Equal(t, []string{"hello"}, ui)

	m.Update("m1", "hello w"+strings.Repeat("x", ContentDeltaThreshold))
	assert.Len(t, ui, 2, "large delta is accepted")

	clock.Advance(MinUpdateInterval)
	m.Update("m1", "tiny change")
	assert.Len(t, ui, 3, "enough time elapsed")

	stats := m.Stats()
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 3, stats.TotalUpdates)
	assert.Equal(t, 1, stats.CallbackCount)
}

func TestUpdateManager_DebouncedBatchSave(t *testing.T) {
	m := NewUpdateManager(WithDebounce(20*time.Millisecond), WithManagerLogger(quietLogger()))
	recA, recB := &recorder{}, &recorder{}
	m.OnSave("a", recA.save)
	m.OnSave("b", recB.save)

	m.Update("a", "alpha")
	m.Update("b", "beta")
	m.Update("a", "alpha 2")

	require.Eventually(t, func() bool {
		return len(recA.all()) == 1 && len(recB.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alpha 2"}, recA.all())
	assert.Equal(t, []string{"beta"}, recB.all())
	assert.Zero(t, m.Stats().PendingCount)
}

func TestUpdateManager_FailedSaveStaysPending(t *testing.T) {
	m := NewUpdateManager(WithDebounce(time.Hour), WithManagerLogger(quietLogger()))
	rec := &recorder{fail: 1}
	m.OnSave("m", rec.save)

	m.Update("m", "content")
	m.Flush(context.Background())
	assert.Equal(t, 1, m.Stats().PendingCount)

	m.FlushMessage(context.Background(), "m")
	assert.Equal(t, []string{"content"}, rec.all())
	assert.Zero(t, m.Stats().PendingCount)
}

func TestUpdateManager_Cleanup(t *testing.T) {
	m := NewUpdateManager(WithDebounce(10*time.Millisecond), WithManagerLogger(quietLogger()))
	rec := &recorder{}
	m.OnSave("m", rec.save)
	m.Update("m", "x")
	m.Cleanup()
	m.Update("m", "y")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.all())
	assert.Equal(t, UpdateStats{}, m.Stats())
}

func TestUpdateManager_CallbackPanicIsContained(t *testing.T) {
	m := NewUpdateManager(WithDebounce(time.Hour), WithManagerLogger(quietLogger()))
	m.OnUpdate("m", func(string) { panic("boom") })
	assert.NotPanics(t, func() { m.Update("m", "x") })
}

func TestUpdateManager_Forget(t *testing.T) {
	m := NewUpdateManager(WithDebounce(time.Hour), WithManagerLogger(quietLogger()))
	rec := &recorder{}
	m.OnSave("a", rec.save)
	m.OnUpdate("a", func(string) {})
	m.OnUpdate("b", func(string) {})
	m.Update("a", "x")

	m.Forget("a")
	_, pending := m.Pending("a")
	assert.False(t, pending)
	assert.Equal(t, 1, m.Stats().CallbackCount)

	m.Flush(context.Background())
	assert.Empty(t, rec.all())
}

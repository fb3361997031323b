// Package auth suspends tool execution until a human approves or rejects it.
package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingAuthorization is a tool call waiting for a decision.
type PendingAuthorization struct {
	ID        string
	MessageID string
	Server    string
	Tool      string
	Args      map[string]any
	CreatedAt time.Time
	OnApprove func()
	OnReject  func()
}

// Decision is the outcome of an authorization request.
type Decision int

const (
	Rejected Decision = iota
	Approved
)

func (d Decision) String() string {
	if d == Approved {
		return "approved"
	}
	return "rejected"
}

// GateEventType distinguishes notifications sent to subscribers.
type GateEventType int

const (
	GateAdded GateEventType = iota
	GateApproved
	GateRejected
	GateRemoved
)

// GateEvent is delivered to subscribers after every change.
type GateEvent struct {
	Type GateEventType
	Auth PendingAuthorization
}

// ErrDuplicate is returned by Add when the id is already pending.
var ErrDuplicate = errors.New("authorization already pending")

// Gate is the registry of pending authorizations. A zero Gate is not usable;
// create one with NewGate and share it by reference.
type Gate struct {
	mu          sync.Mutex
	pending     map[string]PendingAuthorization
	subscribers map[int]func(GateEvent)
	nextSub     int
	now         func() time.Time
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{
		pending:     make(map[string]PendingAuthorization),
		subscribers: make(map[int]func(GateEvent)),
		now:         time.Now,
	}
}

// Add registers auth. Missing ID and CreatedAt are filled in.
func (g *Gate) Add(auth PendingAuthorization) (PendingAuthorization, error) {
	if auth.ID == "" {
		auth.ID = uuid.NewString()
	}
	if auth.CreatedAt.IsZero() {
		auth.CreatedAt = g.now()
	}

	g.mu.Lock()
	if _, exists := g.pending[auth.ID]; exists {
		g.mu.Unlock()
		return PendingAuthorization{}, ErrDuplicate
	}
	g.pending[auth.ID] = auth
	subs := g.snapshotSubscribers()
	g.mu.Unlock()

	notify(subs, GateEvent{Type: GateAdded, Auth: auth})
	return auth, nil
}

// Approve runs the OnApprove callback of id and removes it. It reports false when
// id is not pending.
func (g *Gate) Approve(id string) bool {
	auth, ok := g.take(id)
	if !ok {
		return false
	}
	if auth.OnApprove != nil {
		auth.OnApprove()
	}
	g.publish(GateEvent{Type: GateApproved, Auth: auth})
	return true
}

// Reject runs the OnReject callback of id and removes it. It reports false when
// id is not pending.
func (g *Gate) Reject(id string) bool {
	auth, ok := g.take(id)
	if !ok {
		return false
	}
	if auth.OnReject != nil {
		auth.OnReject()
	}
	g.publish(GateEvent{Type: GateRejected, Auth: auth})
	return true
}

// Remove drops id without running any callback.
func (g *Gate) Remove(id string) bool {
	auth, ok := g.take(id)
	if ok {
		g.publish(GateEvent{Type: GateRemoved, Auth: auth})
	}
	return ok
}

// RemoveForMessage drops every pending entry raised by messageID and returns how
// many were removed.
func (g *Gate) RemoveForMessage(messageID string) int {
	g.mu.Lock()
	var removed []PendingAuthorization
	for id, auth := range g.pending {
		if auth.MessageID == messageID {
			removed = append(removed, auth)
			delete(g.pending, id)
		}
	}
	subs := g.snapshotSubscribers()
	g.mu.Unlock()

	for _, auth := range removed {
		notify(subs, GateEvent{Type: GateRemoved, Auth: auth})
	}
	return len(removed)
}

// Get returns the pending entry for id.
func (g *Gate) Get(id string) (PendingAuthorization, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	auth, ok := g.pending[id]
	return auth, ok
}

// Has reports whether id is pending.
func (g *Gate) Has(id string) bool {
	_, ok := g.Get(id)
	return ok
}

// List returns pending entries, oldest first.
func (g *Gate) List() []PendingAuthorization {
	g.mu.Lock()
	out := make([]PendingAuthorization, 0, len(g.pending))
	for _, auth := range g.pending {
		out = append(out, auth)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Subscribe registers fn for gate events. Call the returned func to unsubscribe.
// fn is invoked without the gate lock held and may call back into the gate.
func (g *Gate) Subscribe(fn func(GateEvent)) func() {
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subscribers[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.subscribers, id)
		g.mu.Unlock()
	}
}

// Await registers req and blocks until it is approved, rejected, or ctx is done.
// On ctx expiry the entry is removed and ctx's error returned. Callbacks already
// set on req still run before Await returns.
func (g *Gate) Await(ctx context.Context, req PendingAuthorization) (Decision, error) {
	decided := make(chan Decision, 1)
	onApprove, onReject := req.OnApprove, req.OnReject
	req.OnApprove = func() {
		if onApprove != nil {
			onApprove()
		}
		decided <- Approved
	}
	req.OnReject = func() {
		if onReject != nil {
			onReject()
		}
		decided <- Rejected
	}

	auth, err := g.Add(req)
	if err != nil {
		return Rejected, err
	}

	select {
	case d := <-decided:
		return d, nil
	case <-ctx.Done():
		g.Remove(auth.ID)
		// a decision may have landed between the two cases
		select {
		case d := <-decided:
			return d, nil
		default:
		}
		return Rejected, ctx.Err()
	}
}

func (g *Gate) take(id string) (PendingAuthorization, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	auth, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	return auth, ok
}

func (g *Gate) publish(ev GateEvent) {
	g.mu.Lock()
	subs := g.snapshotSubscribers()
	g.mu.Unlock()
	notify(subs, ev)
}

func (g *Gate) snapshotSubscribers() []func(GateEvent) {
	subs := make([]func(GateEvent), 0, len(g.subscribers))
	for _, fn := range g.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(GateEvent), ev GateEvent) {
	for _, fn := range subs {
		fn(ev)
	}
}

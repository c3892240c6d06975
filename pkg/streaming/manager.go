// Package streaming fans research events out to live subscribers and keeps
// a bounded per-run history so reconnecting clients can resume with
// Last-Event-ID.
package streaming

import (
	"encoding/json"
	"sync"

	"github.com/mikeboe/deep-research/pkg/research"
)

// DefaultCapacity is the number of events retained per run for replay.
const DefaultCapacity = 512

// Event is a research event tagged with its run and a per-run sequence
// number starting at 1.
type Event struct {
	research.Event
	RunID string `json:"runId"`
	Seq   uint64 `json:"seq"`
}

// Marshal returns JSON for SSE payloads.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for run events.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a manager keeping up to capacity events per run.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for runID. The channel is closed by
// Unsubscribe or when the run finishes. Subscribing to a finished run
// returns an already closed channel.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if rg := m.history[runID]; rg != nil && rg.done {
		close(ch)
		return ch
	}
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.subscribers[runID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(m.subscribers, runID)
	}
}

// Publish records evt in the run's history and sends it to all current
// subscribers. Slow subscribers miss live events but can replay them.
func (m *Manager) Publish(runID string, evt research.Event) Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	rg := m.ringFor(runID)
	rg.nextSeq++
	out := Event{Event: evt, RunID: runID, Seq: rg.nextSeq}
	rg.push(out)

	for ch := range m.subscribers[runID] {
		select {
		case ch <- out:
		default:
		}
	}
	return out
}

// Finish marks runID as done and closes its subscribers.
func (m *Manager) Finish(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ringFor(runID).done = true
	for ch := range m.subscribers[runID] {
		close(ch)
	}
	delete(m.subscribers, runID)
}

// Done reports whether runID has finished.
func (m *Manager) Done(runID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	return rg != nil && rg.done
}

// ReplaySince returns retained events with Seq > since.
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops a run's history.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, runID)
}

func (m *Manager) ringFor(runID string) *ring {
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	return rg
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
	done    bool
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

package metrics

import (
	"sync"
	"time"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

// ChangeKind is the type of a session change notification
type ChangeKind string

const (
	ChangeCommitted ChangeKind = "committed"
	ChangeReset     ChangeKind = "reset"
	ChangeClosed    ChangeKind = "closed"
)

// ChangeEvent tells listeners that the set of committed rows changed
type ChangeEvent struct {
	SessionKey string          `json:"session_key"`
	Generation string          `json:"generation"`
	Kind       ChangeKind      `json:"kind"`
	Category   models.Category `json:"category,omitempty"`
	RowKey     string          `json:"row_key,omitempty"`
	At         time.Time       `json:"at"`
}

// Notifier fans change events out to subscribers. Slow subscribers miss events rather
// than blocking the session.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan ChangeEvent
	next   int
	closed bool
}

// NewNotifier creates an empty notifier
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan ChangeEvent)}
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan ChangeEvent, buffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	id := n.next
	n.next++
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers an event to every subscriber without blocking
func (n *Notifier) Publish(ev ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends every subscription
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}

package collection

import "sync"

// EventKind classifies a collection change notification.
type EventKind string

const (
	// EventLoaded fires after a successful initial fetch.
	EventLoaded EventKind = "loaded"
	// EventPage fires after a next-page merge.
	EventPage EventKind = "page"
	// EventMutated fires after any optimistic mutation or rollback.
	EventMutated EventKind = "mutated"
)

// Event is one change notification for a context.
type Event struct {
	ContextKey string    `json:"context"`
	Kind       EventKind `json:"kind"`
}

// Notifier broadcasts collection change events to in-process
// subscribers so hosts re-render without polling. Delivery is
// best-effort: a subscriber that stops draining loses events rather
// than blocking mutations.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: map[int]chan Event{}}
}

// Subscribe registers a listener. The returned cancel func must be
// called to release the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if existing, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(existing)
		}
	}
}

// Publish delivers the event to every subscriber without blocking.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

package events

import (
	"sync"

	"github.com/simplui/simplui/internal/metrics"
)

const subscriberBuffer = 64

// Subscriber receives live events.
type Subscriber chan Event

// Broadcaster fans events out to live subscribers. Delivery never blocks the
// emitter: a subscriber with a full buffer misses the event.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[Subscriber]struct{}
}

// NewBroadcaster returns a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[Subscriber]struct{})}
}

func (b *Broadcaster) Subscribe() Subscriber {
	sub := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe closes sub. It is a no-op for a subscriber already removed.
func (b *Broadcaster) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub <- e:
		default:
			metrics.DroppedEvents.Inc()
		}
	}
}

// CloseAll closes every subscriber.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub)
	}
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var broadcaster = NewBroadcaster()

// Subscribe registers a subscriber for events emitted from now on.
func Subscribe() Subscriber { return broadcaster.Subscribe() }

// Unsubscribe removes and closes sub.
func Unsubscribe(sub Subscriber) { broadcaster.Unsubscribe(sub) }

// CloseAllSubscribers closes every live subscriber, ending WebSocket streams
// and the MQTT publisher on shutdown.
func CloseAllSubscribers() { broadcaster.CloseAll() }

func SubscriberCount() int { return broadcaster.Len() }

func broadcast(e Event) { broadcaster.Publish(e) }

// RecentEvents returns the last n buffered events, oldest first. n <= 0
// returns the whole buffer.
func RecentEvents(n int) []Event {
	if n <= 0 {
		return buffer.Snapshot()
	}
	return buffer.Last(n, nil)
}

// RecentSessionEvents returns the last n buffered events tagged with
// sessionID.
func RecentSessionEvents(sessionID string, n int) []Event {
	return buffer.Last(n, func(e Event) bool { return e.SessionID() == sessionID })
}

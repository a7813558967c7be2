package notify

import (
	"sync"

	"github.com/schaermu/wcsync/internal/metrics"
)

// DefaultBuffer is the channel capacity used when Subscribe is called with a
// non-positive buffer.
const DefaultBuffer = 64

// Broadcaster fans change events out to subscribers. It implements Sink.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribersActive(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown channels
// are ignored.
func (b *Broadcaster) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	for ch := range b.subscribers {
		if ch == sub {
			delete(b.subscribers, ch)
			close(ch)
			break
		}
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribersActive(n)
}

// Publish sends an event to all subscribers. Non-blocking: events are dropped
// for subscribers whose buffer is full.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			metrics.RecordNotificationDropped()
		}
	}
	metrics.RecordNotification()
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes and closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan Event]struct{})
	b.mu.Unlock()
	metrics.SetSubscribersActive(0)
}

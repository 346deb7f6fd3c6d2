// Package stream fans recorded lines out to live viewers.
package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 100

// Subscriber represents a live line subscriber.
type Subscriber struct {
	ID        string
	Ch        chan string
	CreatedAt time.Time
}

// Broker manages subscriptions and publishing.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // subscriber ID -> subscriber
	buffer      int
	logger      *slog.Logger
}

// NewBroker creates a new broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		buffer:      DefaultBuffer,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. Callers must Unsubscribe when done.
func (b *Broker) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        uuid.NewString(),
		Ch:        make(chan string, b.buffer),
		CreatedAt: time.Now(),
	}

	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID)

	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish sends line to every subscriber. It never blocks: a subscriber
// whose buffer is full misses the line.
func (b *Broker) Publish(line string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.Ch <- line:
		default:
			b.logger.Warn("subscriber channel full, dropping line", "subscriber_id", sub.ID)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close removes every subscriber, closing their channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

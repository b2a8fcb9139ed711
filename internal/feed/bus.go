package feed

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/confsync/confsync/internal/uniuri"
)

// busBuffer is the per-subscription channel depth. A subscriber that falls
// further behind loses messages rather than blocking publishers.
const busBuffer = 128

// Bus is the in-process feed used by single-node deployments and tests.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*busSubscription
	closed bool
}

// NewBus creates an empty in-process feed.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*busSubscription),
	}
}

// Publish delivers the message to every matching subscription.
func (b *Bus) Publish(_ context.Context, msg SyncMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrFeedClosed
	}

	for _, sub := range b.subs {
		if !sub.filter.Match(msg) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			log.Warn().Str("subscription", sub.id).Str("key", msg.Key).
				Msg("feed subscriber too slow, message dropped")
		}
	}

	return nil
}

// Subscribe attaches a listener for messages passing the filter.
func (b *Bus) Subscribe(_ context.Context, filter Filter) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrFeedClosed
	}

	sub := &busSubscription{
		id:     uniuri.New(),
		filter: filter,
		ch:     make(chan SyncMessage, busBuffer),
		bus:    b,
	}
	b.subs[sub.id] = sub

	return sub, nil
}

// Ping reports whether the bus still accepts messages.
func (b *Bus) Ping(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrFeedClosed
	}

	return nil
}

// Close detaches every subscription and rejects further use.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, sub := range b.subs {
		sub.closeChannel()
		delete(b.subs, id)
	}

	return nil
}

type busSubscription struct {
	id     string
	filter Filter
	ch     chan SyncMessage
	bus    *Bus
	once   sync.Once
}

func (s *busSubscription) ID() string {
	return s.id
}

func (s *busSubscription) Messages() <-chan SyncMessage {
	return s.ch
}

// Close detaches the subscription from the bus and closes its channel.
func (s *busSubscription) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()

	s.closeChannel()

	return nil
}

func (s *busSubscription) closeChannel() {
	s.once.Do(func() {
		close(s.ch)
	})
}

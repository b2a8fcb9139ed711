package settings

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/feed"
	"github.com/confsync/confsync/internal/value"
)

// Event is one committed change delivered to a subscriber.
type Event struct {
	Key           string
	Category      string
	Scope         models.Scope
	ScopeEntityID string
	// Value is the new value, zero when Deleted.
	Value   value.Value
	Deleted bool
	Version int64
	// Origin identifies the node that committed the change.
	Origin string
}

// Subscription is a live listener on committed changes.
type Subscription struct {
	sub  feed.Subscription
	done chan struct{}
}

// ID is the feed-unique subscription token.
func (s *Subscription) ID() string {
	return s.sub.ID()
}

// Close detaches the subscription and waits for the delivery loop to stop.
// It must not be called from inside the callback.
func (s *Subscription) Close() error {
	err := s.sub.Close()
	<-s.done

	return err
}

// Subscribe registers callback for committed changes matching filter. The
// callback runs on a dedicated goroutine, one event at a time, in feed
// order. A slow callback eventually drops messages rather than blocking
// writers.
func (s *Service) Subscribe(ctx context.Context, filter feed.Filter, callback func(Event)) (*Subscription, error) {
	fs, err := s.feed.Subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{sub: fs, done: make(chan struct{})}
	go sub.dispatch(callback)

	return sub, nil
}

func (s *Subscription) dispatch(callback func(Event)) {
	defer close(s.done)

	for msg := range s.sub.Messages() {
		ev := Event{
			Key:           msg.Key,
			Category:      msg.Category,
			Scope:         msg.Scope,
			ScopeEntityID: msg.ScopeEntityID,
			Deleted:       msg.Deleted,
			Version:       msg.Version,
			Origin:        msg.OriginClientID,
		}

		if !msg.Deleted {
			v, err := value.FromJSON(msg.Value)
			if err != nil {
				log.Warn().Err(err).Str("key", msg.Key).Msg("subscription event with undecodable value dropped")
				continue
			}
			ev.Value = v
		}

		callback(ev)
	}
}

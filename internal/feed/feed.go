// Package feed carries committed setting mutations to interested clients.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/confsync/confsync/internal/db/models"
)

var (
	// ErrFeedClosed is returned when publishing or subscribing on a feed
	// that has been shut down.
	ErrFeedClosed = errors.New("change feed is closed")
)

// SyncMessage announces one committed mutation. Value is absent when the
// mutation removed the override. Effective window and inherit flag ride
// along so receivers reproduce the whole override, not just its value.
type SyncMessage struct {
	Category          string          `json:"category"`
	Key               string          `json:"key"`
	Scope             models.Scope    `json:"scope"`
	ScopeEntityID     string          `json:"scope_entity_id,omitempty"`
	Value             json.RawMessage `json:"value,omitempty"`
	Deleted           bool            `json:"deleted,omitempty"`
	Version           int64           `json:"version"`
	OriginClientID    string          `json:"origin_client_id"`
	BatchID           string          `json:"batch_id"`
	EffectiveFrom     *time.Time      `json:"effective_from,omitempty"`
	EffectiveUntil    *time.Time      `json:"effective_until,omitempty"`
	InheritFromSystem *bool           `json:"inherit_from_system,omitempty"`
}

// Filter narrows a subscription. Zero fields are ignored: an empty filter
// receives everything.
type Filter struct {
	// Categories and Keys whitelist what the subscriber cares about.
	Categories []string
	Keys       []string
	// UserID and LocationID bind the subscriber to its scope entities.
	// System messages always pass.
	UserID     string
	LocationID string
}

// Match reports whether a message passes the filter.
func (f Filter) Match(msg SyncMessage) bool {
	if len(f.Categories) > 0 && !contains(f.Categories, msg.Category) {
		return false
	}
	if len(f.Keys) > 0 && !contains(f.Keys, msg.Key) {
		return false
	}

	switch msg.Scope {
	case models.ScopeLocation:
		return f.LocationID == "" || f.LocationID == msg.ScopeEntityID
	case models.ScopeUser:
		return f.UserID == "" || f.UserID == msg.ScopeEntityID
	}

	return true
}

func contains(list []string, s string) bool {
	for _, entry := range list {
		if entry == s {
			return true
		}
	}
	return false
}

// Subscription is one attached listener. Close detaches it and releases
// its channel.
type Subscription interface {
	// ID is the feed-unique subscription token.
	ID() string
	// Messages delivers matching messages. The channel closes when the
	// subscription or the feed shuts down.
	Messages() <-chan SyncMessage
	Close() error
}

// Feed is a publish/subscribe channel for setting mutations.
type Feed interface {
	Publish(ctx context.Context, msg SyncMessage) error
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
	// Ping checks liveness of the transport. The sync client heartbeat
	// calls it on an interval.
	Ping(ctx context.Context) error
	Close() error
}

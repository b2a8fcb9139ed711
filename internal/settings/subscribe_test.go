package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/feed"
	"github.com/confsync/confsync/internal/resolve"
	"github.com/confsync/confsync/internal/value"
)

func receiveEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a subscription event")
	}

	return Event{}
}

func assertNoEvent(t *testing.T, events <-chan Event) {
	t.Helper()

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for %q", ev.Key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeDeliversCommittedWrites(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	env.register(t, themeDefinition())
	ctx := context.Background()

	events := make(chan Event, 16)
	sub, err := env.svc.Subscribe(ctx, feed.Filter{Keys: []string{"parking.rates.vehicle_rate"}}, func(ev Event) {
		events <- ev
	})
	require.NoError(t, err)
	defer sub.Close()
	assert.NotEmpty(t, sub.ID())

	res, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	ev := receiveEvent(t, events)
	assert.Equal(t, "parking.rates.vehicle_rate", ev.Key)
	assert.Equal(t, "parking", ev.Category)
	assert.Equal(t, models.ScopeUser, ev.Scope)
	assert.Equal(t, "alice", ev.ScopeEntityID)
	assert.True(t, ev.Value.Equal(value.Number(150)))
	assert.False(t, ev.Deleted)
	assert.Equal(t, res.Version, ev.Version)
	assert.Equal(t, "client-a", ev.Origin)

	// a write outside the filter is not delivered
	_, err = env.svc.Set(ctx, "appearance.theme_mode", value.String("dark"), resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})
	require.NoError(t, err)
	assertNoEvent(t, events)
}

func TestSubscribeDeliversRemovals(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()
	rctx := resolve.Context{UserID: "alice"}

	_, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	events := make(chan Event, 16)
	sub, err := env.svc.Subscribe(ctx, feed.Filter{}, func(ev Event) {
		events <- ev
	})
	require.NoError(t, err)
	defer sub.Close()

	_, err = env.svc.Unset(ctx, "parking.rates.vehicle_rate", rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	ev := receiveEvent(t, events)
	assert.True(t, ev.Deleted)
	assert.True(t, ev.Value.IsZero())
}

func TestSubscribeScopedToEntity(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()

	events := make(chan Event, 16)
	sub, err := env.svc.Subscribe(ctx, feed.Filter{UserID: "alice"}, func(ev Event) {
		events <- ev
	})
	require.NoError(t, err)
	defer sub.Close()

	// another user's write passes the filter by, a system write does not
	_, err = env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), resolve.Context{UserID: "bob"}, WriteOptions{Actor: "bob"})
	require.NoError(t, err)
	assertNoEvent(t, events)

	_, err = env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(120), resolve.Context{}, WriteOptions{Actor: "admin"})
	require.NoError(t, err)
	ev := receiveEvent(t, events)
	assert.Equal(t, models.ScopeSystem, ev.Scope)
}

func TestSubscriptionClose(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()

	events := make(chan Event, 16)
	sub, err := env.svc.Subscribe(ctx, feed.Filter{}, func(ev Event) {
		events <- ev
	})
	require.NoError(t, err)

	require.NoError(t, sub.Close())

	_, err = env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})
	require.NoError(t, err)
	assertNoEvent(t, events)

	// closing again is harmless
	assert.NoError(t, sub.Close())
}

package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/internal/db/controller/history"
	"github.com/confsync/confsync/internal/db/controller/override"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/feed"
	"github.com/confsync/confsync/internal/offline"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/resolve"
	"github.com/confsync/confsync/internal/value"
)

func TestSetCreatesOverride(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()
	rctx := resolve.Context{UserID: "alice", LocationID: "mumbai"}

	res, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, models.ScopeUser, res.Scope)
	assert.Equal(t, "alice", res.ScopeEntityID)
	assert.Positive(t, res.Version)
	assert.Len(t, res.BatchID, 26)

	row, err := override.Get(env.db, "parking.rates.vehicle_rate", models.ScopeUser, "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `150`, string(row.Value))
	assert.Equal(t, res.Version, row.Version)

	recs, total, err := env.auditor.QueryHistory(ctx, history.Filter{Key: "parking.rates.vehicle_rate"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, models.ChangeTypeCreate, recs[0].ChangeType)
	assert.Equal(t, models.ChangeCommitted, recs[0].State)
	assert.Equal(t, row.ID, recs[0].EntityID)
	assert.Empty(t, recs[0].OldValue)
}

func TestSetSecondWriteAuditsUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()
	rctx := resolve.Context{UserID: "alice"}

	first, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	second, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(200), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	assert.Greater(t, second.Version, first.Version)

	recs, total, err := env.auditor.QueryHistory(ctx, history.Filter{Key: "parking.rates.vehicle_rate"})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	// newest first
	assert.Equal(t, models.ChangeTypeUpdate, recs[0].ChangeType)
	assert.JSONEq(t, `150`, string(recs[0].OldValue))
	assert.JSONEq(t, `200`, string(recs[0].NewValue))
}

func TestSetVersionMonotonicWhenClockStalls(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()
	rctx := resolve.Context{UserID: "alice"}

	frozen := time.Now()
	env.svc.now = func() time.Time { return frozen }

	first, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	second, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(200), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	assert.Equal(t, frozen.UTC().UnixMilli(), first.Version)
	assert.Equal(t, first.Version+1, second.Version)
}

func TestSetPublishes(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()

	sub, err := env.bus.Subscribe(ctx, feed.Filter{})
	require.NoError(t, err)
	defer sub.Close()

	res, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	msg := receiveMessage(t, sub)
	assert.Equal(t, "parking.rates.vehicle_rate", msg.Key)
	assert.Equal(t, "parking", msg.Category)
	assert.Equal(t, models.ScopeUser, msg.Scope)
	assert.Equal(t, "alice", msg.ScopeEntityID)
	assert.JSONEq(t, `150`, string(msg.Value))
	assert.Equal(t, res.Version, msg.Version)
	assert.Equal(t, "client-a", msg.OriginClientID)
	assert.Equal(t, res.BatchID, msg.BatchID)
}

func TestSetUndefinedKey(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Set(context.Background(), "nope.missing", value.Number(1), resolve.Context{}, WriteOptions{Actor: "alice"})
	assert.ErrorIs(t, err, resolve.ErrUndefinedSetting)
}

func TestSetRejectsInvalidValue(t *testing.T) {
	testCases := []struct {
		name string
		v    value.Value
		rule string
	}{
		{
			name: "type mismatch",
			v:    value.String("fast"),
			rule: registry.RuleType,
		},
		{
			name: "above maximum",
			v:    value.Number(5000),
			rule: registry.RuleMax,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.register(t, rateDefinition())
			ctx := context.Background()

			_, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", tc.v, resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})

			var verr *registry.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.rule, verr.Rule)

			// a rejected write touches neither store nor audit trail
			_, err = override.Get(env.db, "parking.rates.vehicle_rate", models.ScopeUser, "alice")
			assert.ErrorIs(t, err, override.ErrOverrideNotFound)

			count, err := env.auditor.CountCommitted(ctx, "parking.rates.vehicle_rate")
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestSetScopeCeiling(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, registry.Definition{
		Category:     "parking",
		Key:          "parking.capacity.total_slots",
		DataType:     value.TypeNumber,
		DefaultValue: []byte(`200`),
		Scope:        models.ScopeLocation,
	})
	env.register(t, registry.Definition{
		Category:        "backup",
		Key:             "backup.auto_backup_enabled",
		DataType:        value.TypeBool,
		DefaultValue:    []byte(`true`),
		IsSystemSetting: true,
	})
	ctx := context.Background()

	_, err := env.svc.Set(ctx, "parking.capacity.total_slots", value.Number(120), resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ScopeLocation, perr.Required)

	// the same write is fine one level up
	_, err = env.svc.Set(ctx, "parking.capacity.total_slots", value.Number(120), resolve.Context{LocationID: "mumbai"}, WriteOptions{Actor: "ops"})
	assert.NoError(t, err)

	// engine-owned settings only accept system scope writes
	_, err = env.svc.Set(ctx, "backup.auto_backup_enabled", value.Bool(false), resolve.Context{LocationID: "mumbai"}, WriteOptions{Actor: "ops"})
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ScopeSystem, perr.Required)

	_, err = env.svc.Set(ctx, "backup.auto_backup_enabled", value.Bool(false), resolve.Context{}, WriteOptions{Actor: "admin"})
	assert.NoError(t, err)
}

func TestSetInheritFlagOnlyAtLocation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()

	_, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150),
		resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice", InheritFromSystem: boolPtr(false)})
	assert.ErrorIs(t, err, ErrInheritFlagScope)

	_, err = env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150),
		resolve.Context{LocationID: "mumbai"}, WriteOptions{Actor: "ops", InheritFromSystem: boolPtr(false)})
	require.NoError(t, err)

	row, err := override.Get(env.db, "parking.rates.vehicle_rate", models.ScopeLocation, "mumbai")
	require.NoError(t, err)
	assert.True(t, row.HidesSystem())
}

func TestSetOfflineQueues(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()

	sub, err := env.bus.Subscribe(ctx, feed.Filter{})
	require.NoError(t, err)
	defer sub.Close()

	env.conn.set(false, false)

	res, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StateQueued, res.State)

	// the write is durable locally even though it was not announced
	row, err := override.Get(env.db, "parking.rates.vehicle_rate", models.ScopeUser, "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `150`, string(row.Value))

	depth, err := env.queue.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	assertNoMessage(t, sub)
}

func TestSetOfflineQueueFullRejected(t *testing.T) {
	env := newTestEnvWith(t, "server_wins", 1)
	env.register(t, rateDefinition())
	env.register(t, themeDefinition())
	ctx := context.Background()

	env.conn.set(false, false)

	_, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	_, err = env.svc.Set(ctx, "appearance.theme_mode", value.String("dark"), resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})
	assert.ErrorIs(t, err, offline.ErrQueueFull)

	// the rejected write never reached the store
	_, err = override.Get(env.db, "appearance.theme_mode", models.ScopeUser, "alice")
	assert.ErrorIs(t, err, override.ErrOverrideNotFound)

	count, err := env.auditor.CountCommitted(ctx, "appearance.theme_mode")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnsetRemovesOverride(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	ctx := context.Background()
	rctx := resolve.Context{UserID: "alice"}

	set, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	sub, err := env.bus.Subscribe(ctx, feed.Filter{})
	require.NoError(t, err)
	defer sub.Close()

	res, err := env.svc.Unset(ctx, "parking.rates.vehicle_rate", rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Greater(t, res.Version, set.Version)

	_, err = override.Get(env.db, "parking.rates.vehicle_rate", models.ScopeUser, "alice")
	assert.ErrorIs(t, err, override.ErrOverrideNotFound)

	// reads fall back to the default
	v, err := env.svc.Get(ctx, "parking.rates.vehicle_rate", rctx)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Number(100)))

	msg := receiveMessage(t, sub)
	assert.True(t, msg.Deleted)
	assert.Empty(t, msg.Value)
	assert.Equal(t, res.Version, msg.Version)

	recs, _, err := env.auditor.QueryHistory(ctx, history.Filter{Key: "parking.rates.vehicle_rate", ChangeType: models.ChangeTypeDelete})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.JSONEq(t, `150`, string(recs[0].OldValue))
	assert.Empty(t, recs[0].NewValue)
}

func TestUnsetMissingOverride(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())

	_, err := env.svc.Unset(context.Background(), "parking.rates.vehicle_rate", resolve.Context{UserID: "alice"}, WriteOptions{Actor: "alice"})
	assert.ErrorIs(t, err, ErrNoOverride)
}

func TestAuditTrailsEveryMutation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, rateDefinition())
	env.register(t, themeDefinition())
	ctx := context.Background()
	rctx := resolve.Context{UserID: "alice"}

	_, err := env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(150), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)
	_, err = env.svc.Set(ctx, "parking.rates.vehicle_rate", value.Number(200), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)
	_, err = env.svc.Set(ctx, "appearance.theme_mode", value.String("dark"), rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)
	_, err = env.svc.Unset(ctx, "parking.rates.vehicle_rate", rctx, WriteOptions{Actor: "alice"})
	require.NoError(t, err)

	// a rejected write adds nothing
	_, err = env.svc.Set(ctx, "appearance.theme_mode", value.String("neon"), rctx, WriteOptions{Actor: "alice"})
	require.Error(t, err)

	rateCount, err := env.auditor.CountCommitted(ctx, "parking.rates.vehicle_rate")
	require.NoError(t, err)
	assert.EqualValues(t, 3, rateCount)

	themeCount, err := env.auditor.CountCommitted(ctx, "appearance.theme_mode")
	require.NoError(t, err)
	assert.EqualValues(t, 1, themeCount)
}

package settings

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/audit"
	"github.com/confsync/confsync/internal/cache"
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/feed"
	"github.com/confsync/confsync/internal/offline"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/resolve"
	"github.com/confsync/confsync/internal/value"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.SettingDefinition{},
		&models.Override{},
		&models.ChangeRecord{},
		&models.QueueEntry{},
		&models.Template{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// stubConnectivity lets tests flip the transport state under the service.
type stubConnectivity struct {
	mu       sync.Mutex
	online   bool
	degraded bool
}

func (c *stubConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *stubConnectivity) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *stubConnectivity) set(online, degraded bool) {
	c.mu.Lock()
	c.online = online
	c.degraded = degraded
	c.mu.Unlock()
}

type testEnv struct {
	db      *gorm.DB
	svc     *Service
	bus     *feed.Bus
	cache   *cache.Cache
	queue   *offline.Queue
	conn    *stubConnectivity
	reg     *registry.Registry
	auditor *audit.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, "server_wins", 100)
}

func newTestEnvWith(t *testing.T, strategy string, queueCapacity int) *testEnv {
	t.Helper()

	db := setupTestDB(t)

	reg := registry.New()
	require.NoError(t, reg.Load(db))

	c := cache.New(time.Minute, 0)
	t.Cleanup(c.Close)

	bus := feed.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	queue := offline.NewQueue(db, queueCapacity)
	auditor := audit.New(db)

	resolver, err := conflict.NewResolver(strategy, nil)
	require.NoError(t, err)

	conn := &stubConnectivity{online: true}

	svc := NewService(Deps{
		DB:        db,
		Registry:  reg,
		Engine:    resolve.New(db, reg),
		Cache:     c,
		Audit:     auditor,
		Feed:      bus,
		Queue:     queue,
		Conflicts: resolver,
		ClientID:  "client-a",
		CacheTTL:  time.Minute,
	})
	svc.BindConnectivity(conn)

	return &testEnv{
		db:      db,
		svc:     svc,
		bus:     bus,
		cache:   c,
		queue:   queue,
		conn:    conn,
		reg:     reg,
		auditor: auditor,
	}
}

func (e *testEnv) register(t *testing.T, in registry.Definition) {
	t.Helper()

	if _, err := e.reg.Register(e.db, in); err != nil {
		t.Fatalf("failed to register definition %q: %v", in.Key, err)
	}
}

func rateDefinition() registry.Definition {
	return registry.Definition{
		Category:     "parking",
		Key:          "parking.rates.vehicle_rate",
		DataType:     value.TypeNumber,
		DefaultValue: json.RawMessage(`100`),
		Constraints:  &registry.Constraints{Min: floatPtr(0), Max: floatPtr(1000)},
		Description:  "Hourly parking rate for a standard vehicle.",
	}
}

func themeDefinition() registry.Definition {
	return registry.Definition{
		Category:     "appearance",
		Key:          "appearance.theme_mode",
		DataType:     value.TypeString,
		DefaultValue: json.RawMessage(`"light"`),
		Constraints:  &registry.Constraints{Enum: []interface{}{"light", "dark", "system"}},
	}
}

func layoutDefinition() registry.Definition {
	return registry.Definition{
		Category:     "appearance",
		Key:          "appearance.dashboard_layout",
		DataType:     value.TypeObject,
		DefaultValue: json.RawMessage(`{}`),
	}
}

func mustValue(t *testing.T, raw string) value.Value {
	t.Helper()

	v, err := value.FromJSON([]byte(raw))
	require.NoError(t, err)

	return v
}

func receiveMessage(t *testing.T, sub feed.Subscription) feed.SyncMessage {
	t.Helper()

	select {
	case msg, open := <-sub.Messages():
		if !open {
			t.Fatal("subscription closed before a message arrived")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a feed message")
	}

	return feed.SyncMessage{}
}

func assertNoMessage(t *testing.T, sub feed.Subscription) {
	t.Helper()

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected feed message for %q", msg.Key)
	case <-time.After(100 * time.Millisecond):
	}
}

func floatPtr(f float64) *float64 {
	return &f
}

func boolPtr(b bool) *bool {
	return &b
}

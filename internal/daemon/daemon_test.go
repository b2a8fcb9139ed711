package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/db"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/resolve"
	"github.com/confsync/confsync/internal/value"
)

func testConfig(t *testing.T, path string) config.Config {
	t.Helper()

	return config.Config{
		DB:    config.DB{GormEngine: config.EngineSQLite, Path: path},
		Cache: config.Cache{TTL: 300},
		Feed:  config.Feed{Backend: config.FeedBackendBus, ChannelPrefix: "confsync"},
		Queue: config.Queue{Capacity: 100},
		Sync: config.Sync{
			ClientID:          "node-test",
			HeartbeatInterval: 1,
			HeartbeatTimeout:  2,
			ConnectTimeout:    1,
			BackoffBase:       10,
			BackoffMax:        100,
			MaxAttempts:       3,
			Strategy:          "server_wins",
		},
	}
}

func TestNewSeedsEmptyCatalogue(t *testing.T) {
	d, err := New(testConfig(t, filepath.Join(t.TempDir(), "confsync.db")))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, d.Shutdown())
	}()

	ctx := context.Background()

	v, err := d.Service().Get(ctx, "parking.rates.trailer", resolve.Context{LocationID: "mumbai"})
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Number(225)))

	v, err = d.Service().Get(ctx, "appearance.theme_mode", resolve.Context{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, v.Equal(value.String("light")))
}

func TestNewSeedsOnlyOnce(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "confsync.db"))

	first, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, first.Shutdown())

	second, err := New(cfg)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, second.Shutdown())
	}()

	store, err := db.Open(&cfg)
	require.NoError(t, err)

	var defs int64
	require.NoError(t, store.Model(&models.SettingDefinition{}).Count(&defs).Error)
	assert.EqualValues(t, 9, defs)

	var records int64
	require.NoError(t, store.Model(&models.ChangeRecord{}).Count(&records).Error)
	assert.EqualValues(t, 9, records)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	d, err := New(testConfig(t, filepath.Join(t.TempDir(), "confsync.db")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Start(ctx)
	}()

	require.Eventually(t, d.sync.Online, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after context cancel")
	}
}

func TestOpenFeedRejectsUnknownBackend(t *testing.T) {
	_, err := openFeed(config.Feed{Backend: "carrier-pigeon"})
	require.ErrorIs(t, err, config.ErrUnknownFeedBackend)
}

// Package daemon wires the settings engine together and runs it until a
// shutdown signal arrives.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/audit"
	"github.com/confsync/confsync/internal/cache"
	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/db"
	"github.com/confsync/confsync/internal/feed"
	"github.com/confsync/confsync/internal/offline"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/resolve"
	"github.com/confsync/confsync/internal/settings"
	"github.com/confsync/confsync/internal/syncer"
)

// shutdownGrace bounds how long the metrics listener may take to drain.
const shutdownGrace = 5 * time.Second

// Daemon owns every long-lived component of one node: the store, the
// catalogue, the settings service, the sync client and the metrics
// endpoint.
type Daemon struct {
	cfg     config.Config
	store   *gorm.DB
	cache   *cache.Cache
	feed    feed.Feed
	service *settings.Service
	sync    *syncer.Client
	metrics *http.Server
}

// New builds a Daemon from the configuration. The store is opened and
// migrated, dangling audit records are settled, and an empty catalogue is
// seeded from the default template before any component is handed out.
func New(cfg config.Config) (*Daemon, error) {
	store, err := db.Open(&cfg)
	if err != nil {
		return nil, err
	}
	if err = db.Migrate(store); err != nil {
		return nil, err
	}

	ctx := context.Background()

	auditLog := audit.New(store)
	report, err := auditLog.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if report.Completed > 0 || report.Discarded > 0 {
		log.Info().
			Int("completed", report.Completed).
			Int("discarded", report.Discarded).
			Msg("settled dangling audit records")
	}

	reg := registry.New()
	if err = reg.Load(store); err != nil {
		return nil, err
	}
	if err = seed(ctx, store, reg); err != nil {
		return nil, err
	}

	changeFeed, err := openFeed(cfg.Feed)
	if err != nil {
		return nil, err
	}

	resolver, err := conflict.NewResolver(cfg.Sync.Strategy, cfg.Sync.Strategies)
	if err != nil {
		return nil, err
	}

	clientID := cfg.Sync.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
		log.Info().Str("client_id", clientID).Msg("generated feed client id")
	}

	cacheTTL := time.Duration(cfg.Cache.TTL) * time.Second
	valueCache := cache.New(cacheTTL, int(cfg.Cache.Capacity))
	queue := offline.NewQueue(store, cfg.Queue.Capacity)

	service := settings.NewService(settings.Deps{
		DB:        store,
		Registry:  reg,
		Engine:    resolve.New(store, reg),
		Cache:     valueCache,
		Audit:     auditLog,
		Feed:      changeFeed,
		Queue:     queue,
		Conflicts: resolver,
		ClientID:  clientID,
		CacheTTL:  cacheTTL,
	})

	sync := syncer.New(syncer.Options{
		Feed:              changeFeed,
		Apply:             service.ApplyRemote,
		Queue:             queue,
		Replay:            service.ReplayEntry,
		ClientID:          clientID,
		HeartbeatInterval: time.Duration(cfg.Sync.HeartbeatInterval) * time.Second,
		HeartbeatTimeout:  time.Duration(cfg.Sync.HeartbeatTimeout) * time.Second,
		ConnectTimeout:    time.Duration(cfg.Sync.ConnectTimeout) * time.Second,
		BackoffBase:       time.Duration(cfg.Sync.BackoffBase) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.Sync.BackoffMax) * time.Millisecond,
		MaxAttempts:       cfg.Sync.MaxAttempts,
	})
	service.BindConnectivity(sync)

	d := &Daemon{
		cfg:     cfg,
		store:   store,
		cache:   valueCache,
		feed:    changeFeed,
		service: service,
		sync:    sync,
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		d.metrics = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: shutdownGrace,
		}
	}

	return d, nil
}

// openFeed builds the change feed backend named in the configuration.
func openFeed(cfg config.Feed) (feed.Feed, error) {
	switch cfg.Backend {
	case config.FeedBackendBus:
		return feed.NewBus(), nil
	case config.FeedBackendRedis:
		return feed.NewRedisFeed(cfg.RedisURL, cfg.ChannelPrefix)
	}

	return nil, errors.Wrap(config.ErrUnknownFeedBackend, cfg.Backend)
}

// Service exposes the settings operations to the CLI commands.
func (d *Daemon) Service() *settings.Service {
	return d.service
}

// Start brings up the sync client and the metrics endpoint, then blocks
// until the context ends or a termination signal arrives. Components are
// shut down before Start returns.
func (d *Daemon) Start(ctx context.Context) error {
	d.sync.Start(ctx)

	if d.metrics != nil {
		go func() {
			err := d.metrics.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
		log.Info().Str("addr", d.metrics.Addr).Msg("metrics endpoint listening")
	}

	log.Info().
		Str("db_engine", d.cfg.DB.GormEngine).
		Str("feed_backend", d.cfg.Feed.Backend).
		Msg("settings daemon running")

	irqSig := make(chan os.Signal, 1)
	signal.Notify(irqSig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(irqSig)

	select {
	case sig := <-irqSig:
		log.Info().Msgf("shutdown request (signal: %v)", sig)
	case <-ctx.Done():
		log.Info().Msg("shutdown request (context done)")
	}

	return d.Shutdown()
}

// Shutdown stops the components in dependency order: the sync client
// first so nothing publishes into a closed feed, the store last.
func (d *Daemon) Shutdown() error {
	d.sync.Close()

	if err := d.feed.Close(); err != nil {
		log.Error().Err(err).Msg("feed close failed")
	}

	d.cache.Close()

	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := d.metrics.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("metrics shutdown failed")
		}
	}

	sqlDB, err := d.store.DB()
	if err != nil {
		return errors.Wrap(err, "store handle")
	}

	return sqlDB.Close()
}

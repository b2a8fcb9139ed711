// Package settings is the public face of the engine. Reads resolve keys
// through the scope hierarchy with caching, writes run the validate,
// audit, apply, announce pipeline, subscriptions deliver committed
// changes, and snapshots move whole configurations between installations.
package settings

import (
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/audit"
	"github.com/confsync/confsync/internal/cache"
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/feed"
	"github.com/confsync/confsync/internal/offline"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/resolve"
)

// Connectivity reports the transport state writes consult when choosing
// between publishing immediately and queueing for replay.
type Connectivity interface {
	// Online reports whether the change feed connection is established.
	Online() bool
	// Degraded reports whether reconnecting has been given up on. Reads
	// mark their results stale while degraded.
	Degraded() bool
}

// alwaysOnline is the connectivity assumed until a sync client is bound.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool   { return true }
func (alwaysOnline) Degraded() bool { return false }

// connHolder keeps the atomic.Value monomorphic.
type connHolder struct {
	conn Connectivity
}

// Deps carries the collaborators a Service is built from.
type Deps struct {
	DB        *gorm.DB
	Registry  *registry.Registry
	Engine    *resolve.Engine
	Cache     *cache.Cache
	Audit     *audit.Log
	Feed      feed.Feed
	Queue     *offline.Queue
	Conflicts *conflict.Resolver
	// ClientID identifies this node on the change feed.
	ClientID string
	// CacheTTL bounds how long resolved values are served without
	// rereading the store.
	CacheTTL time.Duration
}

// Service exposes the engine operations: resolved reads, audited writes,
// subscriptions and snapshot transfer.
type Service struct {
	db        *gorm.DB
	reg       *registry.Registry
	engine    *resolve.Engine
	cache     *cache.Cache
	audit     *audit.Log
	feed      feed.Feed
	queue     *offline.Queue
	conflicts *conflict.Resolver
	clientID  string
	cacheTTL  time.Duration

	locks *keyedMutex
	conn  atomic.Value
	now   func() time.Time
}

// NewService wires a Service. Connectivity defaults to always online until
// BindConnectivity attaches the sync client.
func NewService(deps Deps) *Service {
	s := &Service{
		db:        deps.DB,
		reg:       deps.Registry,
		engine:    deps.Engine,
		cache:     deps.Cache,
		audit:     deps.Audit,
		feed:      deps.Feed,
		queue:     deps.Queue,
		conflicts: deps.Conflicts,
		clientID:  deps.ClientID,
		cacheTTL:  deps.CacheTTL,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
	s.conn.Store(connHolder{conn: alwaysOnline{}})

	return s
}

// BindConnectivity attaches the transport state provider. Safe to call
// while reads and writes are in flight.
func (s *Service) BindConnectivity(c Connectivity) {
	if c == nil {
		c = alwaysOnline{}
	}
	s.conn.Store(connHolder{conn: c})
}

func (s *Service) connectivity() Connectivity {
	return s.conn.Load().(connHolder).conn
}

// nextVersion assigns the write timestamp for a mutation. The caller holds
// the key lock, so bumping past the current version keeps versions
// monotonic even when the clock steps backwards.
func (s *Service) nextVersion(current int64) int64 {
	v := s.now().UTC().UnixMilli()
	if v <= current {
		v = current + 1
	}

	return v
}

// writeScope derives where a mutation lands from its context: the most
// specific entity present wins, no entities means system scope.
func writeScope(rctx resolve.Context) (models.Scope, string) {
	if rctx.UserID != "" {
		return models.ScopeUser, rctx.UserID
	}
	if rctx.LocationID != "" {
		return models.ScopeLocation, rctx.LocationID
	}

	return models.ScopeSystem, ""
}

// checkWritable enforces the definition's scope ceiling. Engine-owned
// settings may only be written at system scope.
func checkWritable(def *models.SettingDefinition, scope models.Scope) error {
	limit := def.Scope
	if def.IsSystemSetting {
		limit = models.ScopeSystem
	}
	if scope.Priority() > limit.Priority() {
		return &PermissionError{Key: def.Key, Required: limit}
	}

	return nil
}

// Package resolve walks the scope hierarchy to compute the effective value
// of a setting for a given context.
package resolve

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/controller/override"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/value"
)

// Context identifies who a value is resolved for. Empty fields skip the
// corresponding layer.
type Context struct {
	UserID     string
	LocationID string
}

// Level names the layer a resolution came from.
type Level string

// Resolution levels, least to most specific.
const (
	LevelDefault  Level = "default"
	LevelSystem   Level = "system"
	LevelLocation Level = "location"
	LevelUser     Level = "user"
)

// Resolved is the outcome of resolving one key for one context.
type Resolved struct {
	Key   string
	Value value.Value
	// Level is the layer the value came from.
	Level Level
	// ContributingIDs are the override rows consulted during the walk,
	// most specific first. Empty when the default won untouched.
	ContributingIDs []uint64
	ComputedAt      time.Time
	// Stale marks a value served from cache while the sync client is
	// degraded.
	Stale bool
}

// Engine resolves settings through the fixed system, location, user walk.
type Engine struct {
	db  *gorm.DB
	reg *registry.Registry
	now func() time.Time
}

// New creates a resolution engine over the given store and catalogue.
func New(db *gorm.DB, reg *registry.Registry) *Engine {
	return &Engine{
		db:  db,
		reg: reg,
		now: time.Now,
	}
}

// Resolve computes the effective value of one key. The most specific valid
// layer wins; layers that fail validation are skipped.
func (e *Engine) Resolve(ctx context.Context, key string, rctx Context) (Resolved, error) {
	def, err := e.reg.GetByKey(key)
	if err != nil {
		if errors.Is(err, registry.ErrDefinitionNotFound) {
			return Resolved{}, errors.Wrap(ErrUndefinedSetting, key)
		}
		return Resolved{}, err
	}

	rows, err := override.GetForKey(e.db.WithContext(ctx), key)
	if err != nil {
		return Resolved{}, err
	}

	return e.walk(def, rows, rctx)
}

// ResolveBulk computes the effective values of many keys with one override
// query per scope layer.
func (e *Engine) ResolveBulk(ctx context.Context, keys []string, rctx Context) (map[string]Resolved, error) {
	if len(keys) == 0 {
		return map[string]Resolved{}, nil
	}

	defs := make(map[string]*models.SettingDefinition, len(keys))
	for _, key := range keys {
		def, err := e.reg.GetByKey(key)
		if err != nil {
			if errors.Is(err, registry.ErrDefinitionNotFound) {
				return nil, errors.Wrap(ErrUndefinedSetting, key)
			}
			return nil, err
		}
		defs[key] = def
	}

	db := e.db.WithContext(ctx)
	byKey := make(map[string][]models.Override, len(keys))

	layers := []struct {
		scope  models.Scope
		entity string
	}{
		{models.ScopeSystem, ""},
		{models.ScopeLocation, rctx.LocationID},
		{models.ScopeUser, rctx.UserID},
	}
	for _, layer := range layers {
		if layer.scope != models.ScopeSystem && layer.entity == "" {
			continue
		}
		rows, err := override.GetForKeys(db, keys, layer.scope, layer.entity)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			byKey[row.Key] = append(byKey[row.Key], row)
		}
	}

	results := make(map[string]Resolved, len(keys))
	for _, key := range keys {
		res, err := e.walk(defs[key], byKey[key], rctx)
		if err != nil {
			return nil, err
		}
		results[key] = res
	}

	return results, nil
}

// walk selects the layer rows relevant to the context, applies effective
// windows and the inherit flag, and returns the most specific value that
// passes validation.
func (e *Engine) walk(def *models.SettingDefinition, rows []models.Override, rctx Context) (Resolved, error) {
	now := e.now().UTC()

	var system, location, user *models.Override
	for i := range rows {
		row := &rows[i]
		if !row.ActiveAt(now) {
			continue
		}
		switch {
		case row.Scope == models.ScopeSystem:
			system = row
		case row.Scope == models.ScopeLocation && rctx.LocationID != "" && row.ScopeEntityID == rctx.LocationID:
			location = row
		case row.Scope == models.ScopeUser && rctx.UserID != "" && row.ScopeEntityID == rctx.UserID:
			user = row
		}
	}

	// the inherit flag hides the system value, it never blocks a user
	// override beneath it
	if location != nil && location.HidesSystem() {
		system = nil
	}

	res := Resolved{
		Key:        def.Key,
		Level:      LevelDefault,
		ComputedAt: now,
	}

	winnerFound := false
	for _, layer := range []struct {
		row   *models.Override
		level Level
	}{
		{user, LevelUser},
		{location, LevelLocation},
		{system, LevelSystem},
	} {
		if layer.row == nil {
			continue
		}
		res.ContributingIDs = append(res.ContributingIDs, layer.row.ID)
		if winnerFound {
			continue
		}

		v, err := value.FromJSON(layer.row.Value)
		if err != nil {
			log.Warn().Err(err).Str("key", def.Key).Str("scope", string(layer.row.Scope)).
				Msg("override value does not decode, layer skipped")
			continue
		}
		if check := e.reg.Validate(v, def); !check.OK {
			log.Warn().Str("key", def.Key).Str("scope", string(layer.row.Scope)).
				Str("rule", check.Rule).Str("detail", check.Detail).
				Msg("override value fails validation, layer skipped")
			continue
		}

		res.Value = v
		res.Level = layer.level
		winnerFound = true
	}

	if !winnerFound {
		v, err := value.FromJSON(def.DefaultValue)
		if err != nil {
			return Resolved{}, errors.Wrapf(err, "default value of %q", def.Key)
		}
		res.Value = v
		res.Level = LevelDefault
	}

	return res, nil
}

package settings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/audit"
	"github.com/confsync/confsync/internal/cache"
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/db/controller/override"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/feed"
	"github.com/confsync/confsync/internal/offline"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/resolve"
	"github.com/confsync/confsync/internal/value"
)

// MutationState is the terminal state of a write.
type MutationState string

const (
	// StateCommitted means the write is durable and announced on the feed.
	StateCommitted MutationState = "committed"
	// StateQueued means the write is durable locally and waits in the
	// offline queue for the feed to come back.
	StateQueued MutationState = "queued"
)

// Result describes a finished write.
type Result struct {
	State         MutationState
	Key           string
	Scope         models.Scope
	ScopeEntityID string
	// Value is the written value, zero for removals.
	Value   value.Value
	Version int64
	BatchID string
}

// WriteOptions shape a mutation beyond key and value.
type WriteOptions struct {
	// Actor is recorded in the audit trail.
	Actor string
	// EffectiveFrom and EffectiveUntil bound when the override applies.
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
	// InheritFromSystem set to false hides the system value below this
	// location. Only valid at location scope.
	InheritFromSystem *bool
}

// Set validates v against key's definition and writes it as an override at
// the scope derived from rctx: user when a user id is present, else
// location, else system. The override and its audit record commit in one
// transaction. Committed writes are announced on the feed; writes made
// while the feed is down are applied locally and queued for replay.
func (s *Service) Set(ctx context.Context, key string, v value.Value, rctx resolve.Context, opts WriteOptions) (*Result, error) {
	def, err := s.reg.GetByKey(key)
	if err != nil {
		if errors.Is(err, registry.ErrDefinitionNotFound) {
			return nil, errors.Wrap(resolve.ErrUndefinedSetting, key)
		}
		return nil, err
	}

	scope, entity := writeScope(rctx)
	if err := checkWritable(def, scope); err != nil {
		return nil, err
	}
	if opts.InheritFromSystem != nil && scope != models.ScopeLocation {
		return nil, ErrInheritFlagScope
	}

	if res := s.reg.Validate(v, def); !res.OK {
		observeMutation(outcomeRejected)
		return nil, &registry.ValidationError{Key: key, Rule: res.Rule, Detail: res.Detail}
	}

	raw, err := v.JSON()
	if err != nil {
		return nil, err
	}

	if err := s.checkQueueRoom(ctx); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(key)
	defer unlock()

	current, err := override.Get(s.db.WithContext(ctx), key, scope, entity)
	if err != nil && !errors.Is(err, override.ErrOverrideNotFound) {
		return nil, err
	}

	changeType := models.ChangeTypeCreate
	var oldValue datatypes.JSON
	var currentVersion int64
	if current != nil {
		changeType = models.ChangeTypeUpdate
		oldValue = current.Value
		currentVersion = current.Version
	}

	version := s.nextVersion(currentVersion)
	batch := audit.NewBatchID()

	rec := &models.ChangeRecord{
		Table:      models.TableOverrides,
		Key:        key,
		OldValue:   oldValue,
		NewValue:   datatypes.JSON(raw),
		ChangeType: changeType,
		Actor:      opts.Actor,
		BatchID:    batch,
		Timestamp:  s.now().UTC(),
	}

	row := &models.Override{
		Key:               key,
		Scope:             scope,
		ScopeEntityID:     entity,
		Value:             datatypes.JSON(raw),
		Version:           version,
		Actor:             opts.Actor,
		EffectiveFrom:     opts.EffectiveFrom,
		EffectiveUntil:    opts.EffectiveUntil,
		InheritFromSystem: opts.InheritFromSystem,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.audit.Record(tx, rec, func(tx *gorm.DB) (uint64, error) {
			saved, _, err := override.Upsert(tx, row)
			if err != nil {
				return 0, err
			}
			return saved.ID, nil
		})
	})
	if err != nil {
		observeMutation(outcomeFailed)
		return nil, err
	}

	s.cache.Invalidate(cache.ScopeChange{Key: key, Scope: scope, ScopeEntityID: entity})

	msg := feed.SyncMessage{
		Category:          def.Category,
		Key:               key,
		Scope:             scope,
		ScopeEntityID:     entity,
		Value:             raw,
		Version:           version,
		OriginClientID:    s.clientID,
		BatchID:           batch,
		EffectiveFrom:     opts.EffectiveFrom,
		EffectiveUntil:    opts.EffectiveUntil,
		InheritFromSystem: opts.InheritFromSystem,
	}
	op := offline.Op{
		Op:         models.QueueOpSet,
		Key:        key,
		Value:      v,
		UserID:     rctx.UserID,
		LocationID: rctx.LocationID,
		Actor:      opts.Actor,
	}

	queued, err := s.announce(ctx, msg, op)
	if err != nil {
		observeMutation(outcomeFailed)
		return nil, err
	}

	result := &Result{
		State:         StateCommitted,
		Key:           key,
		Scope:         scope,
		ScopeEntityID: entity,
		Value:         v,
		Version:       version,
		BatchID:       batch,
	}
	if queued {
		result.State = StateQueued
		observeMutation(outcomeQueued)
	} else {
		observeMutation(outcomeCommitted)
	}

	return result, nil
}

// Unset removes the override for key at the scope derived from rctx,
// reverting reads to the inherited value. Removing an override that does
// not exist returns ErrNoOverride.
func (s *Service) Unset(ctx context.Context, key string, rctx resolve.Context, opts WriteOptions) (*Result, error) {
	def, err := s.reg.GetByKey(key)
	if err != nil {
		if errors.Is(err, registry.ErrDefinitionNotFound) {
			return nil, errors.Wrap(resolve.ErrUndefinedSetting, key)
		}
		return nil, err
	}

	scope, entity := writeScope(rctx)
	if err := checkWritable(def, scope); err != nil {
		return nil, err
	}

	if err := s.checkQueueRoom(ctx); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(key)
	defer unlock()

	current, err := override.Get(s.db.WithContext(ctx), key, scope, entity)
	if errors.Is(err, override.ErrOverrideNotFound) {
		return nil, errors.Wrap(ErrNoOverride, key)
	}
	if err != nil {
		return nil, err
	}

	version := s.nextVersion(current.Version)
	batch := audit.NewBatchID()

	rec := &models.ChangeRecord{
		Table:      models.TableOverrides,
		EntityID:   current.ID,
		Key:        key,
		OldValue:   current.Value,
		ChangeType: models.ChangeTypeDelete,
		Actor:      opts.Actor,
		BatchID:    batch,
		Timestamp:  s.now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.audit.Record(tx, rec, func(tx *gorm.DB) (uint64, error) {
			if err := override.Delete(tx, key, scope, entity); err != nil {
				return 0, err
			}
			return current.ID, nil
		})
	})
	if err != nil {
		observeMutation(outcomeFailed)
		return nil, err
	}

	s.cache.Invalidate(cache.ScopeChange{Key: key, Scope: scope, ScopeEntityID: entity})

	msg := feed.SyncMessage{
		Category:       def.Category,
		Key:            key,
		Scope:          scope,
		ScopeEntityID:  entity,
		Deleted:        true,
		Version:        version,
		OriginClientID: s.clientID,
		BatchID:        batch,
	}
	op := offline.Op{
		Op:         models.QueueOpUnset,
		Key:        key,
		UserID:     rctx.UserID,
		LocationID: rctx.LocationID,
		Actor:      opts.Actor,
	}

	queued, err := s.announce(ctx, msg, op)
	if err != nil {
		observeMutation(outcomeFailed)
		return nil, err
	}

	result := &Result{
		State:         StateCommitted,
		Key:           key,
		Scope:         scope,
		ScopeEntityID: entity,
		Version:       version,
		BatchID:       batch,
	}
	if queued {
		result.State = StateQueued
		observeMutation(outcomeQueued)
	} else {
		observeMutation(outcomeCommitted)
	}

	return result, nil
}

// checkQueueRoom rejects a write upfront when the feed is down and the
// offline queue cannot take another entry. The check keeps a full queue
// from leaving mutations durable locally but never scheduled for sync.
func (s *Service) checkQueueRoom(ctx context.Context) error {
	if s.connectivity().Online() {
		return nil
	}

	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return err
	}
	if depth >= int64(s.queue.Capacity()) {
		return offline.ErrQueueFull
	}

	return nil
}

// announce publishes a committed mutation, falling back to the offline
// queue when the feed is down or the publish fails. It reports whether the
// announcement was queued rather than delivered.
func (s *Service) announce(ctx context.Context, msg feed.SyncMessage, op offline.Op) (bool, error) {
	if s.connectivity().Online() {
		err := s.feed.Publish(ctx, msg)
		if err == nil {
			return false, nil
		}
		log.Warn().Err(err).Str("key", msg.Key).Msg("feed publish failed, queueing for replay")
	}

	if _, err := s.queue.Enqueue(ctx, op); err != nil {
		return false, errors.Wrap(err, "mutation applied locally but not scheduled for sync")
	}

	return true, nil
}

// ReplayEntry applies one queued mutation against the current store state,
// resolving conflicts with writes that landed while the entry waited, and
// announces the outcome on the feed. A nil return acknowledges the entry.
func (s *Service) ReplayEntry(ctx context.Context, entry models.QueueEntry) error {
	def, err := s.reg.GetByKey(entry.Key)
	if err != nil {
		log.Warn().Str("key", entry.Key).Msg("queued mutation for unknown setting dropped")
		return nil
	}

	rctx := resolve.Context{UserID: entry.UserID, LocationID: entry.LocationID}
	scope, entity := writeScope(rctx)

	unlock := s.locks.lock(entry.Key)
	defer unlock()

	current, err := override.Get(s.db.WithContext(ctx), entry.Key, scope, entity)
	if err != nil && !errors.Is(err, override.ErrOverrideNotFound) {
		return err
	}

	if current != nil && current.Version > entry.ClientTimestamp {
		return s.replayConflict(ctx, def, entry, current, scope, entity)
	}

	msg := feed.SyncMessage{
		Category:       def.Category,
		Key:            entry.Key,
		Scope:          scope,
		ScopeEntityID:  entity,
		OriginClientID: s.clientID,
		BatchID:        audit.NewBatchID(),
	}

	switch {
	case entry.Op == models.QueueOpUnset:
		msg.Deleted = true
		msg.Version = entry.ClientTimestamp
	case current == nil:
		// the queued write was superseded by a later removal, the removal
		// entry announces it
		return nil
	default:
		msg.Value = json.RawMessage(current.Value)
		msg.Version = current.Version
		msg.EffectiveFrom = current.EffectiveFrom
		msg.EffectiveUntil = current.EffectiveUntil
		msg.InheritFromSystem = current.InheritFromSystem
	}

	return s.feed.Publish(ctx, msg)
}

// replayConflict settles a queued mutation against a write that landed
// while the entry waited. Queued removals always lose to newer writes.
// When the queued value (or a merge of both) wins, it is written back as a
// fresh audited mutation and announced.
func (s *Service) replayConflict(ctx context.Context, def *models.SettingDefinition, entry models.QueueEntry, current *models.Override, scope models.Scope, entity string) error {
	if entry.Op == models.QueueOpUnset {
		log.Info().Str("key", entry.Key).Msg("queued removal superseded by newer write")
		observeConflict(conflict.SourceRemote)
		return nil
	}

	localValue, err := value.FromJSON(entry.Value)
	if err != nil {
		log.Warn().Err(err).Str("key", entry.Key).Msg("queued mutation with undecodable value dropped")
		return nil
	}
	remoteValue, err := value.FromJSON(current.Value)
	if err != nil {
		return errors.Wrapf(err, "stored override for %q", entry.Key)
	}

	res := s.conflicts.Resolve(entry.Key,
		conflict.Candidate{Value: localValue, Version: entry.ClientTimestamp},
		conflict.Candidate{Value: remoteValue, Version: current.Version},
	)
	observeConflict(res.Source)

	if res.Source == conflict.SourceRemote {
		cerr := &conflict.ConflictError{Key: entry.Key, Local: localValue, Remote: remoteValue}
		log.Info().Err(cerr).Str("strategy", string(s.conflicts.StrategyFor(entry.Key))).
			Msg("queued write lost to newer remote state")
		return nil
	}

	if vr := s.reg.Validate(res.Value, def); !vr.OK {
		log.Warn().Str("key", entry.Key).Str("rule", vr.Rule).Msg("conflict winner fails validation, keeping stored value")
		return nil
	}

	raw, err := res.Value.JSON()
	if err != nil {
		return err
	}

	version := s.nextVersion(current.Version)
	batch := audit.NewBatchID()

	rec := &models.ChangeRecord{
		Table:      models.TableOverrides,
		EntityID:   current.ID,
		Key:        entry.Key,
		OldValue:   current.Value,
		NewValue:   datatypes.JSON(raw),
		ChangeType: models.ChangeTypeUpdate,
		Actor:      entry.Actor,
		BatchID:    batch,
		Timestamp:  s.now().UTC(),
	}

	row := &models.Override{
		Key:           entry.Key,
		Scope:         scope,
		ScopeEntityID: entity,
		Value:         datatypes.JSON(raw),
		Version:       version,
		Actor:         entry.Actor,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.audit.Record(tx, rec, func(tx *gorm.DB) (uint64, error) {
			saved, _, err := override.Upsert(tx, row)
			if err != nil {
				return 0, err
			}
			return saved.ID, nil
		})
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(cache.ScopeChange{Key: entry.Key, Scope: scope, ScopeEntityID: entity})

	msg := feed.SyncMessage{
		Category:       def.Category,
		Key:            entry.Key,
		Scope:          scope,
		ScopeEntityID:  entity,
		Value:          raw,
		Version:        version,
		OriginClientID: s.clientID,
		BatchID:        batch,
	}
	if err := s.feed.Publish(ctx, msg); err != nil {
		// the winner is durable, requeue just the announcement
		log.Warn().Err(err).Str("key", entry.Key).Msg("feed publish failed, queueing for replay")
		op := offline.Op{
			Op:         models.QueueOpSet,
			Key:        entry.Key,
			Value:      res.Value,
			UserID:     entry.UserID,
			LocationID: entry.LocationID,
			Actor:      entry.Actor,
		}
		if _, qerr := s.queue.Enqueue(ctx, op); qerr != nil {
			return qerr
		}
	}

	return nil
}

// ApplyRemote folds a feed message from another node into the local store
// and cache. Messages originating here are skipped, their work happened at
// write time. Stale and repeated versions are dropped, so applying a
// message twice is harmless.
func (s *Service) ApplyRemote(ctx context.Context, msg feed.SyncMessage) error {
	if msg.OriginClientID == s.clientID {
		return nil
	}

	def, err := s.reg.GetByKey(msg.Key)
	if err != nil {
		log.Warn().Str("key", msg.Key).Msg("sync message for unknown setting dropped")
		return nil
	}

	unlock := s.locks.lock(msg.Key)
	defer unlock()

	current, err := override.Get(s.db.WithContext(ctx), msg.Key, msg.Scope, msg.ScopeEntityID)
	if err != nil && !errors.Is(err, override.ErrOverrideNotFound) {
		return err
	}

	actor := "sync/" + msg.OriginClientID
	batch := msg.BatchID
	if batch == "" {
		batch = audit.NewBatchID()
	}

	if msg.Deleted {
		if current == nil || current.Version > msg.Version {
			return nil
		}

		rec := &models.ChangeRecord{
			Table:      models.TableOverrides,
			EntityID:   current.ID,
			Key:        msg.Key,
			OldValue:   current.Value,
			ChangeType: models.ChangeTypeDelete,
			Actor:      actor,
			BatchID:    batch,
			Timestamp:  s.now().UTC(),
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.audit.Record(tx, rec, func(tx *gorm.DB) (uint64, error) {
				if err := override.Delete(tx, msg.Key, msg.Scope, msg.ScopeEntityID); err != nil {
					return 0, err
				}
				return current.ID, nil
			})
		})
		if err != nil {
			return err
		}

		s.cache.Invalidate(cache.ScopeChange{Key: msg.Key, Scope: msg.Scope, ScopeEntityID: msg.ScopeEntityID})

		return nil
	}

	if current != nil && current.Version >= msg.Version {
		return nil
	}

	v, err := value.FromJSON(msg.Value)
	if err != nil {
		log.Warn().Err(err).Str("key", msg.Key).Msg("sync message with undecodable value dropped")
		return nil
	}
	if vr := s.reg.Validate(v, def); !vr.OK {
		log.Warn().Str("key", msg.Key).Str("rule", vr.Rule).Msg("sync message fails validation, dropped")
		return nil
	}

	changeType := models.ChangeTypeCreate
	var oldValue datatypes.JSON
	if current != nil {
		changeType = models.ChangeTypeUpdate
		oldValue = current.Value
	}

	rec := &models.ChangeRecord{
		Table:      models.TableOverrides,
		Key:        msg.Key,
		OldValue:   oldValue,
		NewValue:   datatypes.JSON(msg.Value),
		ChangeType: changeType,
		Actor:      actor,
		BatchID:    batch,
		Timestamp:  s.now().UTC(),
	}

	row := &models.Override{
		Key:               msg.Key,
		Scope:             msg.Scope,
		ScopeEntityID:     msg.ScopeEntityID,
		Value:             datatypes.JSON(msg.Value),
		Version:           msg.Version,
		Actor:             actor,
		EffectiveFrom:     msg.EffectiveFrom,
		EffectiveUntil:    msg.EffectiveUntil,
		InheritFromSystem: msg.InheritFromSystem,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.audit.Record(tx, rec, func(tx *gorm.DB) (uint64, error) {
			saved, _, err := override.Upsert(tx, row)
			if err != nil {
				return 0, err
			}
			return saved.ID, nil
		})
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(cache.ScopeChange{Key: msg.Key, Scope: msg.Scope, ScopeEntityID: msg.ScopeEntityID})

	return nil
}

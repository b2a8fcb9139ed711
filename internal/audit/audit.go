// Package audit enforces the two-phase change history: every mutation is
// written to the log before it happens and confirmed after.
package audit

import (
	"bytes"
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/controller/definition"
	"github.com/confsync/confsync/internal/db/controller/history"
	"github.com/confsync/confsync/internal/db/models"
)

// Log records mutations in the change history and settles records a crash
// left behind.
type Log struct {
	db *gorm.DB
}

// New creates an audit log over the given store.
func New(db *gorm.DB) *Log {
	return &Log{db: db}
}

// NewBatchID returns a fresh ULID grouping the records of one logical
// operation.
func NewBatchID() string {
	return ulid.Make().String()
}

// Record writes rec in pending state, runs the mutation, then flips the
// record to committed. All three steps share tx, so the caller's rollback
// removes both the record and the mutation together. The apply callback
// returns the id of the mutated row, zero for deletions.
//
// A failing audit write aborts the mutation: apply never runs without its
// pending record.
func (l *Log) Record(tx *gorm.DB, rec *models.ChangeRecord, apply func(tx *gorm.DB) (uint64, error)) error {
	if err := history.Append(tx, rec); err != nil {
		return errors.Wrap(err, "audit append")
	}

	entityID, err := apply(tx)
	if err != nil {
		return err
	}

	if entityID != 0 && rec.EntityID != entityID {
		if err := history.SetEntity(tx, rec.ID, entityID); err != nil {
			return errors.Wrap(err, "audit entity")
		}
		rec.EntityID = entityID
	}

	if err := history.Commit(tx, rec.ID); err != nil {
		return errors.Wrap(err, "audit commit")
	}
	rec.State = models.ChangeCommitted

	return nil
}

// RecoveryReport summarizes a startup recovery pass.
type RecoveryReport struct {
	Completed int
	Discarded int
}

// Recover settles records left pending by a crash between the audit write
// and its confirmation. A record whose mutation is visible in the store is
// completed, anything else is discarded.
func (l *Log) Recover(ctx context.Context) (RecoveryReport, error) {
	db := l.db.WithContext(ctx)

	pending, err := history.Pending(db)
	if err != nil {
		return RecoveryReport{}, errors.Wrap(err, "audit recovery scan")
	}

	var report RecoveryReport
	for i := range pending {
		rec := &pending[i]

		applied, err := l.mutationVisible(db, rec)
		if err != nil {
			return report, err
		}

		if applied {
			if err := history.Commit(db, rec.ID); err != nil {
				return report, errors.Wrap(err, "audit recovery commit")
			}
			report.Completed++
			log.Info().Uint64("record_id", rec.ID).Str("key", rec.Key).
				Msg("recovered dangling audit record as committed")
			continue
		}

		if err := history.Discard(db, rec.ID); err != nil {
			return report, errors.Wrap(err, "audit recovery discard")
		}
		report.Discarded++
		log.Warn().Uint64("record_id", rec.ID).Str("key", rec.Key).
			Msg("discarded audit record without a visible mutation")
	}

	return report, nil
}

// mutationVisible reports whether the store state matches what the record
// claims happened.
func (l *Log) mutationVisible(db *gorm.DB, rec *models.ChangeRecord) (bool, error) {
	switch rec.Table {
	case models.TableOverrides:
		return overrideMatches(db, rec)
	case models.TableDefinitions:
		return definitionMatches(db, rec)
	}

	log.Warn().Str("table", rec.Table).Uint64("record_id", rec.ID).
		Msg("pending audit record names an unknown table")

	return false, nil
}

func overrideMatches(db *gorm.DB, rec *models.ChangeRecord) (bool, error) {
	if rec.ChangeType == models.ChangeTypeDelete {
		if rec.EntityID == 0 {
			return false, nil
		}
		var count int64
		result := db.Model(&models.Override{}).Where("id = ?", rec.EntityID).Count(&count)
		if result.Error != nil {
			return false, result.Error
		}
		return count == 0, nil
	}

	var rows []models.Override
	q := db.Where("key = ?", rec.Key)
	if rec.EntityID != 0 {
		q = db.Where("id = ?", rec.EntityID)
	}
	if result := q.Find(&rows); result.Error != nil {
		return false, result.Error
	}

	for i := range rows {
		if bytes.Equal(rows[i].Value, rec.NewValue) {
			return true, nil
		}
	}

	return false, nil
}

func definitionMatches(db *gorm.DB, rec *models.ChangeRecord) (bool, error) {
	def, err := definition.GetByKey(db, rec.Key)
	if err != nil {
		if errors.Is(err, definition.ErrDefinitionNotFound) {
			return rec.ChangeType == models.ChangeTypeDelete, nil
		}
		return false, err
	}

	if rec.ChangeType == models.ChangeTypeDelete {
		return false, nil
	}

	return bytes.Equal(def.DefaultValue, rec.NewValue), nil
}

// QueryHistory returns committed records matching the filter, newest
// first, with the total match count for pagination.
func (l *Log) QueryHistory(ctx context.Context, filter history.Filter) ([]models.ChangeRecord, int64, error) {
	return history.Query(l.db.WithContext(ctx), filter)
}

// CountCommitted returns the number of committed records for one key.
func (l *Log) CountCommitted(ctx context.Context, key string) (int64, error) {
	return history.CountCommitted(l.db.WithContext(ctx), key)
}

// Package history provides append and query operations for the audit log store.
package history

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/models"
)

const (
	stateQueryPattern = "state = ?"
	historyOrder      = "timestamp desc, id desc"

	// DefaultPageSize bounds unpaginated history queries.
	DefaultPageSize = 50
	// MaxPageSize is the hard upper bound for one history page.
	MaxPageSize = 500
)

var (
	// ErrRecordNotFound is returned when a change record is not found.
	ErrRecordNotFound = errors.New("change record not found")
	// ErrRecordKeyEmpty is returned when a change record has no setting key.
	ErrRecordKeyEmpty = errors.New("change record key cannot be empty")
	// ErrActorEmpty is returned when a change record has no actor.
	ErrActorEmpty = errors.New("change record actor cannot be empty")
	// ErrBatchIDEmpty is returned when a change record has no batch id.
	ErrBatchIDEmpty = errors.New("change record batch id cannot be empty")
	// ErrRecordNotPending is returned when a commit or discard hits a record
	// that already left the pending state. Committed records are immutable.
	ErrRecordNotPending = errors.New("change record is not pending")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Filter narrows a history query. Zero fields are ignored.
type Filter struct {
	Key        string
	Actor      string
	BatchID    string
	ChangeType models.ChangeType
	Since      time.Time
	Until      time.Time
	Page       int
	PageSize   int
}

// Append writes a new change record in pending state.
func Append(db *gorm.DB, rec *models.ChangeRecord) error {
	if db == nil {
		return ErrDBNil
	}
	if rec.Key == "" {
		return ErrRecordKeyEmpty
	}
	if rec.Actor == "" {
		return ErrActorEmpty
	}
	if rec.BatchID == "" {
		return ErrBatchIDEmpty
	}

	rec.State = models.ChangePending
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	result := db.Create(rec)
	if result.Error != nil {
		return result.Error
	}

	return nil
}

// Commit flips a pending record to committed. Records that already left
// the pending state are immutable.
func Commit(db *gorm.DB, id uint64) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.ChangeRecord{}).
		Where("id = ? AND state = ?", id, models.ChangePending).
		Update("state", models.ChangeCommitted)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return commitMissReason(db, id)
	}

	return nil
}

// SetEntity fills the mutated row's id on a record that is still pending.
// Create mutations do not know the row id at append time.
func SetEntity(db *gorm.DB, id, entityID uint64) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.ChangeRecord{}).
		Where("id = ? AND state = ?", id, models.ChangePending).
		Update("entity_id", entityID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return commitMissReason(db, id)
	}

	return nil
}

// commitMissReason distinguishes a missing record from a non-pending one.
func commitMissReason(db *gorm.DB, id uint64) error {
	var rec models.ChangeRecord
	result := db.First(&rec, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return result.Error
	}

	return ErrRecordNotPending
}

// Discard removes a pending record. Used by the startup recovery pass for
// audit intents whose mutation never became visible.
func Discard(db *gorm.DB, id uint64) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Where("id = ? AND state = ?", id, models.ChangePending).
		Delete(&models.ChangeRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return commitMissReason(db, id)
	}

	return nil
}

// Pending returns all records still in pending state, oldest first.
func Pending(db *gorm.DB) ([]models.ChangeRecord, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var recs []models.ChangeRecord
	result := db.Where(stateQueryPattern, models.ChangePending).
		Order("timestamp, id").
		Find(&recs)
	if result.Error != nil {
		return nil, result.Error
	}

	return recs, nil
}

// Query returns committed records matching the filter, newest first, along
// with the total number of matches for pagination.
func Query(db *gorm.DB, filter Filter) ([]models.ChangeRecord, int64, error) {
	if db == nil {
		return nil, 0, ErrDBNil
	}

	q := db.Model(&models.ChangeRecord{}).Where(stateQueryPattern, models.ChangeCommitted)

	if filter.Key != "" {
		q = q.Where("key = ?", filter.Key)
	}
	if filter.Actor != "" {
		q = q.Where("actor = ?", filter.Actor)
	}
	if filter.BatchID != "" {
		q = q.Where("batch_id = ?", filter.BatchID)
	}
	if filter.ChangeType != "" {
		q = q.Where("change_type = ?", filter.ChangeType)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp < ?", filter.Until)
	}

	var total int64
	if result := q.Count(&total); result.Error != nil {
		return nil, 0, result.Error
	}

	size := filter.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}

	var recs []models.ChangeRecord
	result := q.Order(historyOrder).
		Limit(size).
		Offset((page - 1) * size).
		Find(&recs)
	if result.Error != nil {
		return nil, 0, result.Error
	}

	return recs, total, nil
}

// CountCommitted returns how many committed records exist for one key.
func CountCommitted(db *gorm.DB, key string) (int64, error) {
	if db == nil {
		return 0, ErrDBNil
	}
	if key == "" {
		return 0, ErrRecordKeyEmpty
	}

	var count int64
	result := db.Model(&models.ChangeRecord{}).
		Where("key = ? AND state = ?", key, models.ChangeCommitted).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}

	return count, nil
}

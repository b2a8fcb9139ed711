// Package queuestore provides store operations for the offline queue.
package queuestore

import (
	"errors"

	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/models"
)

const (
	replayOrder = "client_timestamp, id"
)

var (
	// ErrEntryNotFound is returned when a queue entry is not found.
	ErrEntryNotFound = errors.New("queue entry not found")
	// ErrEntryKeyEmpty is returned when a queue entry has no setting key.
	ErrEntryKeyEmpty = errors.New("queue entry key cannot be empty")
	// ErrOpInvalid is returned when a queue entry op is not set or unset.
	ErrOpInvalid = errors.New("queue entry op is invalid")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Append adds an entry to the back of the queue. Capacity is enforced by
// the queue component, not the store.
func Append(db *gorm.DB, entry *models.QueueEntry) error {
	if db == nil {
		return ErrDBNil
	}
	if entry.Key == "" {
		return ErrEntryKeyEmpty
	}
	if entry.Op != models.QueueOpSet && entry.Op != models.QueueOpUnset {
		return ErrOpInvalid
	}

	result := db.Create(entry)
	if result.Error != nil {
		return result.Error
	}

	return nil
}

// Count returns the number of pending entries.
func Count(db *gorm.DB) (int64, error) {
	if db == nil {
		return 0, ErrDBNil
	}

	var count int64
	result := db.Model(&models.QueueEntry{}).Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}

	return count, nil
}

// Oldest returns up to limit entries in replay order (client timestamp,
// then insertion order). A non-positive limit returns everything.
func Oldest(db *gorm.DB, limit int) ([]models.QueueEntry, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	q := db.Order(replayOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var entries []models.QueueEntry
	result := q.Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}

	return entries, nil
}

// Delete removes an acknowledged entry.
func Delete(db *gorm.DB, id uint64) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Delete(&models.QueueEntry{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// IncrementAttempt bumps the attempt counter of an entry that failed to
// replay. The entry stays queued.
func IncrementAttempt(db *gorm.DB, id uint64) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.QueueEntry{}).
		Where("id = ?", id).
		UpdateColumn("attempt_count", gorm.Expr("attempt_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}

	return nil
}

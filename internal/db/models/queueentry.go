package models

import (
	"time"

	"gorm.io/datatypes"
)

// QueueOp is the kind of mutation held in the offline queue.
type QueueOp string

const (
	// QueueOpSet writes or replaces an override.
	QueueOpSet QueueOp = "set"
	// QueueOpUnset removes an override, reverting to the inherited value.
	QueueOpUnset QueueOp = "unset"
)

// QueueEntry is one pending local mutation made while disconnected. Entries
// are durable and replayed oldest-first on reconnect; an entry is deleted
// only after the server acknowledges the corresponding write.
type QueueEntry struct {
	// ID is the unique identifier and the replay tiebreak for entries
	// sharing a client timestamp.
	ID uint64 `gorm:"primaryKey"`
	// Op is the queued operation.
	Op QueueOp `gorm:"type:varchar(8);not null"`
	// Key is the setting key the mutation targets.
	Key string `gorm:"size:255;not null;index"`
	// Value is the JSON-encoded value for set operations, null for unset.
	Value datatypes.JSON
	// UserID is the user part of the mutation context, empty if absent.
	UserID string `gorm:"size:128;not null;default:''"`
	// LocationID is the location part of the mutation context, empty if absent.
	LocationID string `gorm:"size:128;not null;default:''"`
	// Actor identifies who requested the mutation.
	Actor string `gorm:"size:128"`
	// ClientTimestamp is the client clock at enqueue time (Unix
	// milliseconds). It drives replay order and conflict resolution.
	ClientTimestamp int64 `gorm:"not null;index"`
	// AttemptCount counts replay attempts that did not end in an ack.
	AttemptCount int `gorm:"not null;default:0"`
	// CreatedAt is the timestamp when the entry was enqueued (managed by GORM).
	CreatedAt time.Time
}

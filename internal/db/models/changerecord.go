package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audited table names, matching gorm's pluralized snake case naming.
const (
	TableOverrides   = "overrides"
	TableDefinitions = "setting_definitions"
)

// ChangeType classifies a mutation recorded in the audit history.
type ChangeType string

const (
	// ChangeTypeCreate records a newly written override or definition.
	ChangeTypeCreate ChangeType = "create"
	// ChangeTypeUpdate records a value replacing an existing one.
	ChangeTypeUpdate ChangeType = "update"
	// ChangeTypeDelete records an override removal (revert to inherited).
	ChangeTypeDelete ChangeType = "delete"
	// ChangeTypeImport records a mutation applied by a snapshot import.
	ChangeTypeImport ChangeType = "import"
)

// ChangeState tracks the two-phase audit write. Records are written
// pending, then flipped to committed together with the mutation they
// describe. A startup recovery pass settles records left pending by a
// crash.
type ChangeState string

const (
	// ChangePending marks an audit record whose mutation has not been
	// confirmed yet.
	ChangePending ChangeState = "pending"
	// ChangeCommitted marks an audit record whose mutation is durable.
	ChangeCommitted ChangeState = "committed"
)

// ChangeRecord is one append-only audit entry. Committed records are
// immutable; a mutation with no change record must not exist.
type ChangeRecord struct {
	// ID is the unique identifier for the record.
	ID uint64 `gorm:"primaryKey"`
	// Table names the store table the mutation touched.
	Table string `gorm:"column:table_name;size:64;not null"`
	// EntityID is the primary key of the mutated row, zero when the row was
	// deleted or never created.
	EntityID uint64
	// Key is the setting key the mutation concerns.
	Key string `gorm:"size:255;not null;index"`
	// OldValue is the JSON-encoded value before the mutation, null on create.
	OldValue datatypes.JSON
	// NewValue is the JSON-encoded value after the mutation, null on delete.
	NewValue datatypes.JSON
	// ChangeType classifies the mutation.
	ChangeType ChangeType `gorm:"type:varchar(16);not null"`
	// Actor identifies who requested the mutation.
	Actor string `gorm:"size:128;not null;index"`
	// BatchID groups related records written in one unit of work (ULID).
	BatchID string `gorm:"size:26;not null;index"`
	// State is the two-phase write state.
	State ChangeState `gorm:"type:varchar(16);not null;default:'pending';index"`
	// Timestamp is when the mutation was recorded.
	Timestamp time.Time `gorm:"not null;index"`
}

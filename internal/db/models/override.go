package models

import (
	"time"

	"gorm.io/datatypes"
)

// Override is a scope-specific value for a setting key. At most one
// override exists per (key, scope, scope entity) tuple.
type Override struct {
	// ID is the unique identifier for the override.
	ID uint64 `gorm:"primaryKey"`
	// Key is the setting key this override applies to.
	Key string `gorm:"size:255;not null;uniqueIndex:idx_override_tuple;index"`
	// Scope is the hierarchy layer the override lives on.
	Scope Scope `gorm:"type:varchar(16);not null;uniqueIndex:idx_override_tuple"`
	// ScopeEntityID identifies the location or user the override belongs to.
	// Empty for system scope.
	ScopeEntityID string `gorm:"size:128;not null;default:'';uniqueIndex:idx_override_tuple;index"`
	// Value is the JSON-encoded override value.
	Value datatypes.JSON `gorm:"not null"`
	// Version is the server-assigned timestamp (Unix milliseconds) of the
	// last write. Monotonic per key because mutations on one key are
	// serialized.
	Version int64 `gorm:"not null;index"`
	// Actor identifies who created or last changed the override.
	Actor string `gorm:"size:128"`
	// EffectiveFrom bounds when a location override starts applying. Nil
	// means no lower bound.
	EffectiveFrom *time.Time
	// EffectiveUntil bounds when a location override stops applying. Nil
	// means no upper bound.
	EffectiveUntil *time.Time
	// InheritFromSystem, when set to false on a location override, hides the
	// system value from resolution in that location. It never blocks user
	// overrides beneath the location. Nil means inherit normally.
	InheritFromSystem *bool
	// CreatedAt is the timestamp when the override was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the override was last updated (managed by GORM).
	UpdatedAt time.Time
}

// ActiveAt reports whether the override's effective window contains t.
// Overrides without a window are always active.
func (o Override) ActiveAt(t time.Time) bool {
	if o.EffectiveFrom != nil && t.Before(*o.EffectiveFrom) {
		return false
	}
	if o.EffectiveUntil != nil && !t.Before(*o.EffectiveUntil) {
		return false
	}
	return true
}

// HidesSystem reports whether this override's inheritance policy hides the
// system layer from resolution.
func (o Override) HidesSystem() bool {
	return o.InheritFromSystem != nil && !*o.InheritFromSystem
}

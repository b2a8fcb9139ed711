// Package models contains database model definitions.
package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/confsync/confsync/internal/value"
)

// SettingDefinition is the canonical catalogue entry for a setting. It is
// created at bootstrap or migration time, rarely mutated and never deleted
// outside an explicit migration.
type SettingDefinition struct {
	// ID is the unique identifier for the definition.
	ID uint64 `gorm:"primaryKey"`
	// Category groups related settings (e.g. "parking", "appearance").
	Category string `gorm:"size:100;not null;uniqueIndex:idx_definition_category_key;index"`
	// Key is the setting key. Keys are unique across all categories so that
	// resolution can address a setting by key alone.
	Key string `gorm:"size:255;not null;uniqueIndex:idx_definition_category_key;uniqueIndex"`
	// DataType tags the JSON shape values of this setting must take.
	DataType value.DataType `gorm:"type:varchar(20);not null"`
	// DefaultValue is the JSON-encoded value served when no override applies.
	// Defaults are assumed valid against the definition's own constraints.
	DefaultValue datatypes.JSON `gorm:"not null"`
	// Constraints is the JSON-encoded validation rule set (min/max, length,
	// enum, pattern). Empty means only the type tag is checked.
	Constraints datatypes.JSON
	// Scope is the most specific scope at which overrides may be written.
	Scope Scope `gorm:"type:varchar(16);not null;default:'user'"`
	// IsSystemSetting marks definitions owned by the engine itself. Imports
	// can be told to leave these untouched.
	IsSystemSetting bool
	// SortOrder orders definitions inside their category for export and
	// display purposes.
	SortOrder int
	// Description is a human readable summary of what the setting controls.
	Description string `gorm:"size:512"`
	// CreatedAt is the timestamp when the definition was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the definition was last updated (managed by GORM).
	UpdatedAt time.Time
}

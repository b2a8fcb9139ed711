package models

import (
	"time"

	"gorm.io/datatypes"
)

// Template is a named bundle of setting definitions and initial values
// used for bootstrap and snapshot import.
type Template struct {
	ID          uint64 `gorm:"primaryKey"`
	Name        string `gorm:"size:128;not null;unique"`
	Description string `gorm:"size:512"`
	// Definitions is the JSON-encoded list of definition entries.
	Definitions datatypes.JSON `gorm:"not null"`
	// Values is the JSON-encoded map of key to initial system value.
	Values    datatypes.JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

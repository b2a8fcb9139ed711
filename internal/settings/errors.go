package settings

import (
	"errors"
	"fmt"

	"github.com/confsync/confsync/internal/db/models"
)

var (
	// ErrNoOverride is returned by Unset when the addressed tuple holds no
	// override.
	ErrNoOverride = errors.New("no override set for key")

	// ErrInheritFlagScope is returned when the inherit flag is written
	// anywhere but location scope.
	ErrInheritFlagScope = errors.New("inherit flag is only valid on location overrides")

	// ErrBundleVersion is returned when a snapshot bundle has an unknown
	// format version.
	ErrBundleVersion = errors.New("unsupported snapshot bundle version")
)

// PermissionError reports a write at a scope more specific than the
// definition allows.
type PermissionError struct {
	Key      string
	Required models.Scope
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("setting %q may not be written at scopes more specific than %s", e.Key, e.Required)
}

package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateDefinition is returned when a key is already registered in
	// any category.
	ErrDuplicateDefinition = errors.New("setting definition already registered")

	// ErrDefinitionNotFound is returned when no definition matches a lookup.
	ErrDefinitionNotFound = errors.New("setting definition not found")

	// ErrNotLoaded is returned when the catalogue is used before Load.
	ErrNotLoaded = errors.New("setting registry not loaded")
)

// ValidationError reports a definition or value that failed validation.
type ValidationError struct {
	Key    string
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation of %q failed rule %q", e.Key, e.Rule)
	}
	return fmt.Sprintf("validation of %q failed rule %q: %s", e.Key, e.Rule, e.Detail)
}

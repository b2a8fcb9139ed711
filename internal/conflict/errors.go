package conflict

import (
	"fmt"

	"github.com/confsync/confsync/internal/value"
)

// UnknownStrategyError reports an unrecognized strategy name in the
// configuration.
type UnknownStrategyError struct {
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown conflict strategy %q", e.Name)
}

// ConflictError reports a write that collided with newer remote state. It
// carries both sides so callers can surface what was kept and what was
// dropped.
type ConflictError struct {
	Key    string
	Local  value.Value
	Remote value.Value
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %q: local %s vs remote %s", e.Key, e.Local.Display(), e.Remote.Display())
}

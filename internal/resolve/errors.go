package resolve

import "errors"

var (
	// ErrUndefinedSetting is returned when a key has no registered definition.
	ErrUndefinedSetting = errors.New("undefined setting")
)

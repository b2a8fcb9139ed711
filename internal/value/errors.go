package value

import (
	"errors"
	"fmt"
)

// Operations recorded on a SerializationError.
const (
	OpEncode = "encode"
	OpDecode = "decode"
)

var (
	// ErrNullValue is returned when a JSON null is decoded. Absence of a
	// value is expressed by deleting the setting, never by storing null.
	ErrNullValue = errors.New("null is not a valid setting value")

	// ErrTrailingData is returned when a JSON document carries bytes past
	// the first value.
	ErrTrailingData = errors.New("trailing data after JSON value")

	// ErrZeroValue is returned when the invalid zero Value is encoded.
	ErrZeroValue = errors.New("zero value cannot be encoded")
)

// SerializationError wraps a failure to move a value between its Go form
// and its JSON wire form.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("value %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingScope is returned before any oracle or store call when the
	// caller supplied no owner identifier at all.
	ErrMissingScope = errors.New("at least one of user, agent, run or actor id is required")

	// ErrNotFound is returned by point lookups that match no record.
	ErrNotFound = errors.New("record not found")
)

// SchemaError reports a provisioning mismatch discovered during store
// initialization. It names the exact collection and property so the operator
// can fix the backing store before any traffic is served.
type SchemaError struct {
	Collection string
	Property   string
	Want       any
	Got        any
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf(
		"collection %q: property %q has shape %v, expected %v",
		e.Collection, e.Property, e.Got, e.Want,
	)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

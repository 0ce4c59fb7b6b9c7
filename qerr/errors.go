// Package qerr defines the error taxonomy shared by the bundata compiler stages.
//
// Every compile-stage failure maps onto one of the sentinel errors below so
// callers can classify with errors.Is without parsing messages. The HTTP layer
// owns the mapping to status codes.
package qerr

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFilter is returned for an invalid operator or value shape,
	// an unresolvable field path, or an exceeded nesting/relation depth limit.
	// The wrapped detail is safe to report to the caller verbatim.
	ErrMalformedFilter = errors.New("malformed filter")

	// ErrAccessDenied is returned when no permission record exists for the
	// caller's (role, collection, action), or when a dynamic variable needs a
	// user identity that is absent. Intentionally carries no detail: the
	// denial must not reveal whether the collection exists or what the
	// security policy contains.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnresolvableVariable is returned when a dynamic token references a
	// field absent on the resolved user or role. Never silently substituted
	// with null; that would mask configuration bugs as empty result sets.
	ErrUnresolvableVariable = errors.New("unresolvable dynamic variable")

	// ErrIncompatibleAggregate is returned when a selected field is neither
	// aggregated nor listed in groupBy.
	ErrIncompatibleAggregate = errors.New("field must be aggregated or listed in groupBy")

	// ErrInvalidOperator is returned for an operator outside the taxonomy.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrTypeMismatch is returned when an operator is applied to a field type
	// outside its declared type family.
	ErrTypeMismatch = errors.New("operator not applicable to field type")

	// ErrValidationFailed is returned when a write payload fails the
	// permission's validation rule.
	ErrValidationFailed = errors.New("payload validation failed")
)

// Malformed wraps ErrMalformedFilter with caller-visible detail.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFilter, fmt.Sprintf(format, args...))
}

// Unresolvable wraps ErrUnresolvableVariable with the offending token.
func Unresolvable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnresolvableVariable, fmt.Sprintf(format, args...))
}

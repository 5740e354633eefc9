// Package apperrors defines the sentinel error taxonomy shared by every
// extsockd component, matched with errors.Is and wrapped with fmt.Errorf's
// %w verb.
package apperrors

import "errors"

var (
	// ErrConfigInvalid marks a JSON document that is structurally valid but
	// semantically rejected (missing field, bad CIDR, identity too long, ...).
	ErrConfigInvalid = errors.New("config invalid")

	// ErrJSONParse marks input that is not well-formed JSON.
	ErrJSONParse = errors.New("json parse error")

	// ErrSocketFailure marks an accept/read/write/bind error on the control
	// channel.
	ErrSocketFailure = errors.New("socket failure")

	// ErrHostAPIFailure marks a VICI call that returned a non-success status
	// or ran with no usable session.
	ErrHostAPIFailure = errors.New("host api failure")

	// ErrAllocationFailure marks a resource-exhaustion condition, kept for
	// taxonomy parity with the source plugin.
	ErrAllocationFailure = errors.New("allocation failure")

	// ErrInvalidCommand marks an unrecognized control-channel verb or a
	// verb with a missing payload.
	ErrInvalidCommand = errors.New("invalid command")
)

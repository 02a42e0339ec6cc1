package operation

import "errors"

var (
	// ErrUnknownType indicates an operation type outside the supported set.
	ErrUnknownType = errors.New("unknown operation type")
	// ErrInvalidPayload indicates the payload does not match its operation type.
	ErrInvalidPayload = errors.New("invalid operation payload")
)

package state

import "errors"

// Expected failure modes for operation application. These never mutate
// room state and are surfaced to callers as structured failures.
var (
	ErrNotFound             = errors.New("referenced entity not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnsupportedOperation = errors.New("unsupported operation type")
	ErrConflict             = errors.New("conflicting state transition")
)

// Failure kinds carried on outbound failure messages.
const (
	KindNotFound    = "not_found"
	KindInvalid     = "invalid_input"
	KindUnsupported = "unsupported_operation"
	KindConflict    = "conflict"
	KindInternal    = "internal_error"
)

// Kind maps an error to its failure kind for client-facing messages.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalid
	case errors.Is(err, ErrUnsupportedOperation):
		return KindUnsupported
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

package analysis

import "github.com/cockroachdb/errors"

// Sentinel errors. Adapters mark their own failures with errors.Mark so
// callers can match with errors.Is while the message stays readable.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("unauthorized")

	ErrStoreUnavailable = errors.New("store unavailable")
	ErrQueue            = errors.New("queue error")
	ErrProvider         = errors.New("provider error")
)

// Issue describes one rejected input field.
type Issue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed or out-of-range input.
type ValidationError struct {
	Message string
	Details []Issue
}

func (e *ValidationError) Error() string {
	return e.Message
}

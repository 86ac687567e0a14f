package session

import "fmt"

// NotFoundError is returned when a session id does not exist, has expired, or
// is bound to a different upstream than the one addressed.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", TruncateID(e.SessionID))
}

// InvalidIDError is returned for session ids that fail validation before any
// lookup happens.
type InvalidIDError struct {
	Reason string
}

func (e *InvalidIDError) Error() string {
	return "invalid session id: " + e.Reason
}

// LimitError is returned when creating a session would exceed the configured
// maximum.
type LimitError struct {
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("maximum number of sessions reached (%d)", e.Limit)
}

package event

import "fmt"

// BusError represents a delivery failure at the bus level.
type BusError struct {
	Event   *Event // the event that could not be delivered
	Message string
	Err     error
}

// Error implements the error interface.
func (e *BusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", e.Event.ID(), e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", e.Event.ID(), e.Message)
}

// Unwrap returns the underlying error.
func (e *BusError) Unwrap() error {
	return e.Err
}

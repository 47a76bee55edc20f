package billing

import "fmt"

// ValidationError reports invalid caller input (bad year-month range,
// non-positive payment amount, non-subscription client).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown client or period.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// StateError reports an operation that is not valid for the period's current
// state, such as a payment against a settled period or reactivating a period
// that is not suspended.
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

func stateErrorf(format string, args ...interface{}) error {
	return &StateError{Message: fmt.Sprintf(format, args...)}
}

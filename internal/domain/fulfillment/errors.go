package fulfillment

import "fmt"

// InvalidTransitionError reports an operation that is not legal from the
// record's current state.
type InvalidTransitionError struct {
	From      State
	Operation string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("operation %q not allowed from state %s", e.Operation, e.From)
}

// ValidationError reports rejected caller input, such as a missing refusal
// reason or a non-positive dispense quantity.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

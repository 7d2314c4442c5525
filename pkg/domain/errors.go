package domain

import "errors"

// ErrInstanceNotFound is returned when a process instance ID cannot be found in the store.
var ErrInstanceNotFound = errors.New("process instance not found")

// ErrExecutionNotFound is returned when an execution ID is unknown to its instance.
var ErrExecutionNotFound = errors.New("execution not found")

// ErrDefinitionNotFound is returned when no process definition is deployed under an ID.
var ErrDefinitionNotFound = errors.New("process definition not found")

// ErrActivityNotFound is returned when a definition has no activity with the requested ID.
var ErrActivityNotFound = errors.New("activity not found")

// ErrInvalidCompensationTarget is returned when a compensation throw references an unknown activity.
var ErrInvalidCompensationTarget = errors.New("invalid compensation target")

// ErrNotWaiting is returned when an execution is signaled but is not parked at a wait state.
var ErrNotWaiting = errors.New("execution is not waiting")

// ErrInstanceEnded is returned when a command targets a process instance that already ended.
var ErrInstanceEnded = errors.New("process instance ended")

// ErrBehaviorNotFound is returned when a service activity names an unregistered behavior.
var ErrBehaviorNotFound = errors.New("behavior not found")

var sentinels = []error{
	ErrInstanceNotFound,
	ErrExecutionNotFound,
	ErrDefinitionNotFound,
	ErrActivityNotFound,
	ErrInvalidCompensationTarget,
	ErrNotWaiting,
	ErrInstanceEnded,
	ErrBehaviorNotFound,
}

// IsDomainError reports whether err is, or wraps, one of the domain failures above.
func IsDomainError(err error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventActivityStart        EventType = "activity_start"
	EventActivityEnd          EventType = "activity_end"
	EventCompensationCaptured EventType = "compensation_captured"
	EventCompensationThrown   EventType = "compensation_thrown"
	EventInstanceStart        EventType = "instance_start"
	EventInstanceEnd          EventType = "instance_end"
)

// HistoryEvent is an audit record produced while executing a command.
type HistoryEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
	InstanceID  string    `json:"instance_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	ActivityID  string    `json:"activity_id,omitempty"`
	// Compensation reports whether the event belongs to a compensation handler execution.
	Compensation bool `json:"compensation,omitempty"`
	// Count carries the number of spawned handlers for EventCompensationThrown.
	Count int `json:"count,omitempty"`
}

// CommandEvent describes one command invocation.
type CommandEvent struct {
	Command  string
	Duration time.Duration
	Err      error
}

// OperationEvent describes one dequeued atomic operation.
type OperationEvent struct {
	Operation   string
	ExecutionID string
	// Skipped is true when the target execution had already ended.
	Skipped bool
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnCommandStart func(context.Context, string)
	OnCommandEnd   func(context.Context, *CommandEvent)
	OnOperation    func(context.Context, *OperationEvent)
	OnCommit       func(context.Context)
	OnRollback     func(context.Context)
	OnHistory      func(context.Context, *HistoryEvent)
}

package domain

import "maps"

// CompensationHandler is a deferred undo action captured when its activity completed normally.
type CompensationHandler struct {
	// Seq orders captures within a process instance; higher means more recently completed.
	Seq int64 `json:"seq"`

	// ActivityID is the activity whose completion produced this entry.
	ActivityID string `json:"activity_id"`

	// HandlerActivityID is the undo activity. It is empty when the entry only
	// forwards to the handlers retained in EventScopeID.
	HandlerActivityID string `json:"handler_activity_id,omitempty"`

	// ScopeID is the scope execution holding this entry.
	ScopeID string `json:"scope_id"`

	// EventScopeID points at the retained scope execution of a completed sub-process
	// or multi-instance body, if any.
	EventScopeID string `json:"event_scope_id,omitempty"`

	// Snapshot is a copy of the variables visible at capture time.
	Snapshot map[string]any `json:"snapshot,omitempty"`

	// Index is the multi-instance loop counter, or -1.
	Index int `json:"index"`
}

// Execution is a runtime token marking one live point of control.
// Parent and children are referenced by ID; the owning ProcessInstance is the arena.
type Execution struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	ParentID   string `json:"parent_id,omitempty"`

	// ChildIDs keeps creation order.
	ChildIDs []string `json:"child_ids,omitempty"`

	// ActivityID is the current process-definition element.
	ActivityID string `json:"activity_id,omitempty"`

	// ScopeActivityID is the activity a scope execution embodies: the sub-process,
	// the multi-instance activity (body and instances) or the compensation handler.
	// Empty for the process instance.
	ScopeActivityID string `json:"scope_activity_id,omitempty"`

	IsScope      bool `json:"is_scope"`
	IsConcurrent bool `json:"is_concurrent"`
	IsEventScope bool `json:"is_event_scope"`
	IsActive     bool `json:"is_active"`
	IsEnded      bool `json:"is_ended"`

	// IsMultiInstanceBody marks the scope that tracks the instances of a multi-instance activity.
	IsMultiInstanceBody bool `json:"is_mi_body,omitempty"`
	// LoopIndex is the instance number inside a multi-instance body, -1 otherwise.
	LoopIndex      int `json:"loop_index"`
	InstancesTotal int `json:"instances_total,omitempty"`
	InstancesDone  int `json:"instances_done,omitempty"`

	// AwaitsChildren is set on a scope whose own flow is finished (or forked) and
	// that completes once its last non-event-scope child is gone.
	AwaitsChildren bool `json:"awaits_children,omitempty"`

	// JoinArrivals counts tokens that reached each join under this concurrency root.
	JoinArrivals map[string]int `json:"join_arrivals,omitempty"`

	// IsCompensationHandler marks executions spawned by a compensation throw.
	IsCompensationHandler bool `json:"is_compensation_handler,omitempty"`
	// OwnsEventScope marks the handler of a completed scope running inside that
	// scope's event scope. Compensation thrown within it reaches the handlers
	// retained there; the ones it leaves un-thrown are discarded when it completes.
	OwnsEventScope bool `json:"owns_event_scope,omitempty"`
	// ThrowerID is the execution waiting for this handler to complete.
	ThrowerID string `json:"thrower_id,omitempty"`
	// PendingHandlers counts handlers this execution still waits for.
	PendingHandlers int `json:"pending_handlers,omitempty"`
	// IsCompensated marks an event scope whose handlers were all thrown.
	IsCompensated bool `json:"is_compensated,omitempty"`

	// Variables is the local namespace. Only scopes own one.
	Variables map[string]any `json:"variables,omitempty"`

	// Handlers are the un-thrown compensation handlers captured in this scope.
	Handlers []CompensationHandler `json:"handlers,omitempty"`
}

// IsRoot reports whether the execution is the process instance itself.
func (e *Execution) IsRoot() bool {
	return e.ParentID == ""
}

// Clone returns a deep copy safe for independent mutation, nested variable
// values included.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	next := *e
	next.ChildIDs = append([]string(nil), e.ChildIDs...)
	next.JoinArrivals = maps.Clone(e.JoinArrivals)
	next.Variables = CopyVariables(e.Variables)
	if e.Handlers != nil {
		next.Handlers = make([]CompensationHandler, len(e.Handlers))
		for i, h := range e.Handlers {
			h.Snapshot = CopyVariables(h.Snapshot)
			next.Handlers[i] = h
		}
	}
	return &next
}

// ProcessInstance is the arena holding every execution of one running process.
type ProcessInstance struct {
	ID           string                `json:"id"`
	DefinitionID string                `json:"definition_id"`
	RootID       string                `json:"root_id"`
	Executions   map[string]*Execution `json:"executions"`
	Ended        bool                  `json:"ended"`
	EndReason    string                `json:"end_reason,omitempty"`

	// CaptureSeq is the last sequence number handed to a compensation handler.
	CaptureSeq int64 `json:"capture_seq"`
}

// Root returns the process instance execution.
func (p *ProcessInstance) Root() *Execution {
	return p.Executions[p.RootID]
}

// Clone returns a deep copy of the arena.
func (p *ProcessInstance) Clone() *ProcessInstance {
	if p == nil {
		return nil
	}
	next := *p
	next.Executions = make(map[string]*Execution, len(p.Executions))
	for id, e := range p.Executions {
		next.Executions[id] = e.Clone()
	}
	return &next
}

// Task is a waiting task execution as seen by callers.
type Task struct {
	ExecutionID string `json:"execution_id"`
	InstanceID  string `json:"instance_id"`
	ActivityID  string `json:"activity_id"`
	Name        string `json:"name"`
	// Compensation reports whether the task is a compensation handler.
	Compensation bool `json:"compensation,omitempty"`
	// Index is the multi-instance loop counter of the task, or -1.
	Index int `json:"index"`
	// Variables are the values visible from the task.
	Variables map[string]any `json:"variables,omitempty"`
}

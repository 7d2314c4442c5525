package domain

import "fmt"

// ActivityType defines the control flow behavior of an activity.
type ActivityType string

const (
	// ActivityStart is the entry point of a process or sub-process. It continues immediately.
	ActivityStart ActivityType = "start"
	// ActivityTask halts the token until it is signaled (wait state).
	ActivityTask ActivityType = "task"
	// ActivityService runs a registered behavior and continues immediately.
	ActivityService ActivityType = "service"
	// ActivityFork splits the token into one concurrent token per outgoing flow.
	ActivityFork ActivityType = "fork"
	// ActivityJoin merges concurrent tokens (AND-join).
	ActivityJoin ActivityType = "join"
	// ActivitySubProcess opens a new scope and enters its Initial activity.
	ActivitySubProcess ActivityType = "subprocess"
	// ActivityThrowCompensation triggers compensation in the enclosing scope and
	// waits until every spawned handler has completed.
	ActivityThrowCompensation ActivityType = "throw-compensation"
	// ActivityEnd consumes the token.
	ActivityEnd ActivityType = "end"
)

// MultiInstance configures repeated instantiation of one activity.
type MultiInstance struct {
	Cardinality int  `json:"cardinality" yaml:"cardinality"`
	Sequential  bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}

// Activity is one element of a process definition.
type Activity struct {
	ID   string       `json:"id" yaml:"id"`
	Name string       `json:"name,omitempty" yaml:"name,omitempty"`
	Type ActivityType `json:"type" yaml:"type"`

	// Parent is the enclosing sub-process, empty for process-level activities.
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`

	// Outgoing lists the target activity IDs of the sequence flows leaving this activity.
	Outgoing []string `json:"outgoing,omitempty" yaml:"outgoing,omitempty"`

	// Initial is the first activity entered inside a sub-process.
	Initial string `json:"initial,omitempty" yaml:"initial,omitempty"`

	// Behavior names the registry entry executed by service activities.
	Behavior string `json:"behavior,omitempty" yaml:"behavior,omitempty"`

	// MultiInstance, when set, repeats the activity.
	MultiInstance *MultiInstance `json:"multi_instance,omitempty" yaml:"multi_instance,omitempty"`

	// CompensateWith is the ID of the activity that undoes this one.
	CompensateWith string `json:"compensate_with,omitempty" yaml:"compensate_with,omitempty"`

	// ForCompensation marks activities that only run as compensation handlers.
	ForCompensation bool `json:"for_compensation,omitempty" yaml:"for_compensation,omitempty"`

	// ActivityRef restricts a compensation throw to the handlers of one activity.
	ActivityRef string `json:"activity_ref,omitempty" yaml:"activity_ref,omitempty"`
}

// DisplayName returns the human readable name, falling back to the ID.
func (a *Activity) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// IsMultiInstance reports whether the activity is repeated.
func (a *Activity) IsMultiInstance() bool {
	return a.MultiInstance != nil && a.MultiInstance.Cardinality > 0
}

// ProcessDefinition is the immutable graph a process instance runs through.
type ProcessDefinition struct {
	ID         string               `json:"id" yaml:"id"`
	Initial    string               `json:"initial" yaml:"initial"`
	Activities map[string]*Activity `json:"activities" yaml:"activities"`
}

// Activity returns the activity with the given ID.
func (d *ProcessDefinition) Activity(id string) (*Activity, error) {
	a, ok := d.Activities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in definition %s", ErrActivityNotFound, id, d.ID)
	}
	return a, nil
}

// Incoming counts the sequence flows that target the given activity.
func (d *ProcessDefinition) Incoming(id string) int {
	n := 0
	for _, a := range d.Activities {
		for _, out := range a.Outgoing {
			if out == id {
				n++
			}
		}
	}
	return n
}

// Validate checks the structural rules the interpreter relies on.
func (d *ProcessDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("process definition id is required")
	}
	if _, err := d.Activity(d.Initial); err != nil {
		return fmt.Errorf("invalid initial activity: %w", err)
	}
	for id, a := range d.Activities {
		if a.ID != id {
			return fmt.Errorf("activity key %q does not match id %q", id, a.ID)
		}
		for _, out := range a.Outgoing {
			target, err := d.Activity(out)
			if err != nil {
				return fmt.Errorf("activity %s: invalid flow: %w", id, err)
			}
			if target.Parent != a.Parent {
				return fmt.Errorf("activity %s: flow to %s crosses a scope boundary", id, out)
			}
		}
		switch a.Type {
		case ActivitySubProcess:
			initial, err := d.Activity(a.Initial)
			if err != nil {
				return fmt.Errorf("sub-process %s: invalid initial activity: %w", id, err)
			}
			if initial.Parent != id {
				return fmt.Errorf("sub-process %s: initial activity %s is not nested in it", id, a.Initial)
			}
		case ActivityService:
			if a.Behavior == "" {
				return fmt.Errorf("service activity %s has no behavior", id)
			}
		case ActivityThrowCompensation:
			if a.ActivityRef != "" {
				if _, err := d.Activity(a.ActivityRef); err != nil {
					return fmt.Errorf("%w: %s references %s", ErrInvalidCompensationTarget, id, a.ActivityRef)
				}
			}
		case ActivityStart, ActivityTask, ActivityFork, ActivityJoin, ActivityEnd:
		default:
			return fmt.Errorf("activity %s has unknown type %q", id, a.Type)
		}
		if a.CompensateWith != "" {
			handler, err := d.Activity(a.CompensateWith)
			if err != nil {
				return fmt.Errorf("activity %s: invalid compensation handler: %w", id, err)
			}
			if !handler.ForCompensation {
				return fmt.Errorf("activity %s: handler %s is not marked for compensation", id, handler.ID)
			}
		}
	}
	return nil
}

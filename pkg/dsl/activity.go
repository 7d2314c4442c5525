package dsl

import "github.com/aretw0/pvm/pkg/domain"

// ActivityBuilder provides a fluent API for configuring an activity.
type ActivityBuilder struct {
	activity domain.Activity
	builder  *Builder
}

// Start marks the activity as an entry point.
func (a *ActivityBuilder) Start() *ActivityBuilder {
	a.activity.Type = domain.ActivityStart
	return a
}

// Task makes the activity a wait state completed by a signal.
func (a *ActivityBuilder) Task(name string) *ActivityBuilder {
	a.activity.Type = domain.ActivityTask
	a.activity.Name = name
	return a
}

// Service runs the named registry behavior and continues.
func (a *ActivityBuilder) Service(behavior string) *ActivityBuilder {
	a.activity.Type = domain.ActivityService
	a.activity.Behavior = behavior
	return a
}

// Fork splits the token across all outgoing flows.
func (a *ActivityBuilder) Fork() *ActivityBuilder {
	a.activity.Type = domain.ActivityFork
	return a
}

// Join waits for every incoming token.
func (a *ActivityBuilder) Join() *ActivityBuilder {
	a.activity.Type = domain.ActivityJoin
	return a
}

// SubProcess opens a scope entered at initial. Nested activities use In.
func (a *ActivityBuilder) SubProcess(initial string) *ActivityBuilder {
	a.activity.Type = domain.ActivitySubProcess
	a.activity.Initial = initial
	return a
}

// ThrowCompensation compensates the enclosing scope, or only activityRef when given.
func (a *ActivityBuilder) ThrowCompensation(activityRef string) *ActivityBuilder {
	a.activity.Type = domain.ActivityThrowCompensation
	a.activity.ActivityRef = activityRef
	return a
}

// End consumes the token.
func (a *ActivityBuilder) End() *ActivityBuilder {
	a.activity.Type = domain.ActivityEnd
	return a
}

// Named sets a display name.
func (a *ActivityBuilder) Named(name string) *ActivityBuilder {
	a.activity.Name = name
	return a
}

// In places the activity inside a sub-process.
func (a *ActivityBuilder) In(subprocess string) *ActivityBuilder {
	a.activity.Parent = subprocess
	return a
}

// Go adds an unconditional flow to each target.
func (a *ActivityBuilder) Go(targets ...string) *ActivityBuilder {
	a.activity.Outgoing = append(a.activity.Outgoing, targets...)
	return a
}

// Parallel repeats the activity n times concurrently.
func (a *ActivityBuilder) Parallel(n int) *ActivityBuilder {
	a.activity.MultiInstance = &domain.MultiInstance{Cardinality: n}
	return a
}

// Sequential repeats the activity n times, one after the other.
func (a *ActivityBuilder) Sequential(n int) *ActivityBuilder {
	a.activity.MultiInstance = &domain.MultiInstance{Cardinality: n, Sequential: true}
	return a
}

// CompensateWith registers the activity that undoes this one.
func (a *ActivityBuilder) CompensateWith(handler string) *ActivityBuilder {
	a.activity.CompensateWith = handler
	return a
}

// ForCompensation marks the activity as a compensation handler.
func (a *ActivityBuilder) ForCompensation() *ActivityBuilder {
	a.activity.ForCompensation = true
	return a
}

// Build returns the underlying domain.Activity.
// This is primarily used by the Builder, but exposed for advanced usage.
func (a *ActivityBuilder) Build() domain.Activity {
	act := a.activity
	act.Outgoing = append([]string(nil), a.activity.Outgoing...)
	if a.activity.MultiInstance != nil {
		mi := *a.activity.MultiInstance
		act.MultiInstance = &mi
	}
	return act
}

// Add continues with another activity of the same definition.
func (a *ActivityBuilder) Add(id string) *ActivityBuilder {
	return a.builder.Add(id)
}

// Done returns the definition builder.
func (a *ActivityBuilder) Done() *Builder {
	return a.builder
}

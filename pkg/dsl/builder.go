package dsl

import (
	"fmt"

	"github.com/aretw0/pvm/pkg/domain"
)

// Builder manages the process definition construction.
type Builder struct {
	id         string
	initial    string
	order      []string
	activities map[string]*ActivityBuilder
}

// New creates a new process definition builder.
func New(id string) *Builder {
	return &Builder{
		id:         id,
		activities: make(map[string]*ActivityBuilder),
	}
}

// Add creates a new activity in the definition.
// If the activity already exists, it returns the existing builder.
func (b *Builder) Add(id string) *ActivityBuilder {
	if ab, ok := b.activities[id]; ok {
		return ab
	}
	ab := &ActivityBuilder{
		activity: domain.Activity{ID: id},
		builder:  b,
	}
	b.activities[id] = ab
	b.order = append(b.order, id)
	return ab
}

// Initial sets the activity a new process instance starts at.
// Defaults to the first top-level start activity added.
func (b *Builder) Initial(id string) *Builder {
	b.initial = id
	return b
}

// Build compiles and validates the definition.
func (b *Builder) Build() (*domain.ProcessDefinition, error) {
	def := &domain.ProcessDefinition{
		ID:         b.id,
		Initial:    b.initial,
		Activities: make(map[string]*domain.Activity, len(b.activities)),
	}
	for _, id := range b.order {
		a := b.activities[id].Build()
		def.Activities[id] = &a
		if def.Initial == "" && a.Type == domain.ActivityStart && a.Parent == "" {
			def.Initial = id
		}
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid process definition %s: %w", b.id, err)
	}
	return def, nil
}

// MustBuild is like Build but panics on an invalid definition.
func (b *Builder) MustBuild() *domain.ProcessDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

package dsl

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/pvm/pkg/domain"
)

type document struct {
	ID         string            `yaml:"id"`
	Initial    string            `yaml:"initial"`
	Activities []domain.Activity `yaml:"activities"`
}

// Parse builds a definition from its YAML form. Activities are listed in
// order so the first top-level start activity is the default initial one:
//
//	id: trip
//	activities:
//	  - id: start
//	    type: start
//	    outgoing: [hotel]
//	  - id: hotel
//	    type: service
//	    behavior: book-hotel
//	    compensate_with: undo-hotel
func Parse(data []byte) (*domain.ProcessDefinition, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse process definition: %w", err)
	}
	if len(doc.Activities) == 0 {
		return nil, fmt.Errorf("process definition %q has no activities", doc.ID)
	}

	b := New(doc.ID)
	if doc.Initial != "" {
		b.Initial(doc.Initial)
	}
	for _, a := range doc.Activities {
		if a.ID == "" {
			return nil, fmt.Errorf("process definition %q: activity without id", doc.ID)
		}
		if _, dup := b.activities[a.ID]; dup {
			return nil, fmt.Errorf("process definition %q: duplicate activity %s", doc.ID, a.ID)
		}
		b.Add(a.ID).activity = a
	}
	return b.Build()
}

// Package validator reports definition problems the structural checks of
// domain.ProcessDefinition.Validate accept but that make a process misbehave.
package validator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/pvm/pkg/domain"
)

// ValidateGraph crawls the definition from its initial activity, entering
// sub-processes and compensation handlers, and reports unreachable
// activities, handlers nothing compensates with, and joins with a single
// incoming flow.
func ValidateGraph(def *domain.ProcessDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	visited := make(map[string]bool)
	queue := []string{def.Initial}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		a := def.Activities[id]
		next := slices.Clone(a.Outgoing)
		if a.Type == domain.ActivitySubProcess {
			next = append(next, a.Initial)
		}
		if a.CompensateWith != "" {
			next = append(next, a.CompensateWith)
		}
		for _, target := range next {
			if !visited[target] {
				queue = append(queue, target)
			}
		}
	}

	handlers := make(map[string]bool)
	for _, a := range def.Activities {
		if a.CompensateWith != "" {
			handlers[a.CompensateWith] = true
		}
	}

	var errors []string
	ids := make([]string, 0, len(def.Activities))
	for id := range def.Activities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		a := def.Activities[id]
		switch {
		case a.ForCompensation && !handlers[id]:
			errors = append(errors, fmt.Sprintf("compensation handler '%s' is not referenced by any activity", id))
		case !visited[id]:
			errors = append(errors, fmt.Sprintf("activity '%s' is unreachable from '%s'", id, def.Initial))
		}
		if a.Type == domain.ActivityJoin && def.Incoming(id) < 2 {
			errors = append(errors, fmt.Sprintf("join '%s' has %d incoming flow(s)", id, def.Incoming(id)))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("found %d errors:\n- %s", len(errors), strings.Join(errors, "\n- "))
	}
	return nil
}

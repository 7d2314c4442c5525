package middleware

import (
	"fmt"
	"regexp"

	"github.com/aretw0/pvm/pkg/domain"
)

// Mask replaces redacted values.
const Mask = "***"

// Redactor masks the values of variables whose names match a pattern.
// It works on copies so engine state is never touched.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the key patterns.
func NewRedactor(patternStrings []string) (*Redactor, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return &Redactor{patterns: patterns}, nil
}

// Instance returns a copy of inst with variables and compensation snapshots masked.
func (r *Redactor) Instance(inst *domain.ProcessInstance) *domain.ProcessInstance {
	cloned := inst.Clone()
	for _, e := range cloned.Executions {
		e.Variables = r.Variables(e.Variables)
		for i := range e.Handlers {
			e.Handlers[i].Snapshot = r.Variables(e.Handlers[i].Snapshot)
		}
	}
	return cloned
}

// Tasks returns copies of the tasks with their visible variables masked.
func (r *Redactor) Tasks(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		t.Variables = r.Variables(t.Variables)
		out[i] = t
	}
	return out
}

// Variables returns a deep copy of vars with matching keys masked at any depth.
func (r *Redactor) Variables(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	cloned := domain.CopyVariables(vars)
	maskMap(cloned, r.patterns)
	return cloned
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if subMap, ok := v.(map[string]any); ok && !masked {
			maskMap(subMap, patterns)
		}
	}
}

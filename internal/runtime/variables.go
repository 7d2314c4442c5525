package runtime

import (
	"maps"

	"github.com/aretw0/pvm/pkg/domain"
)

// Variable looks name up from e through its ancestors.
func (m *machine) Variable(e *domain.Execution, name string) (any, bool) {
	for cur := e; cur != nil; cur = m.parentOf(cur) {
		if v, ok := cur.Variables[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// SetVariable overwrites name in the namespace that defines it, or creates it
// in the nearest scope of e.
func (m *machine) SetVariable(e *domain.Execution, name string, value any) {
	for cur := e; cur != nil; cur = m.parentOf(cur) {
		if _, ok := cur.Variables[name]; ok {
			cur.Variables[name] = value
			return
		}
	}
	m.SetVariableLocal(e, name, value)
}

// SetVariableLocal writes name in the nearest scope of e.
func (m *machine) SetVariableLocal(e *domain.Execution, name string, value any) {
	scope := m.scopeOf(e)
	if scope.Variables == nil {
		scope.Variables = make(map[string]any)
	}
	scope.Variables[name] = value
}

// VisibleVariables flattens the lookup chain of e; inner scopes shadow outer ones.
func (m *machine) VisibleVariables(e *domain.Execution) map[string]any {
	var chain []*domain.Execution
	for cur := e; cur != nil; cur = m.parentOf(cur) {
		chain = append(chain, cur)
	}
	vars := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		maps.Copy(vars, chain[i].Variables)
	}
	return vars
}

func (m *machine) setAll(e *domain.Execution, vars map[string]any) {
	for k, v := range vars {
		m.SetVariable(e, k, domain.CopyValue(v))
	}
}

// snapshot copies the variables visible from e so later writes never leak into it.
func (m *machine) snapshot(e *domain.Execution) map[string]any {
	return domain.CopyVariables(m.VisibleVariables(e))
}

// scopeView adapts an execution to registry.Scope for service behaviors.
type scopeView struct {
	m    *machine
	exec *domain.Execution
}

func (s scopeView) ExecutionID() string { return s.exec.ID }
func (s scopeView) ActivityID() string  { return s.exec.ActivityID }

func (s scopeView) Variable(name string) (any, bool) { return s.m.Variable(s.exec, name) }

func (s scopeView) SetVariable(name string, value any) { s.m.SetVariable(s.exec, name, value) }

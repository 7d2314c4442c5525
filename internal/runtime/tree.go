package runtime

import (
	"fmt"
	"slices"

	"github.com/aretw0/pvm/pkg/domain"
)

// newInstance creates the arena of a process instance and its root scope.
func (rt *Runtime) newInstance(def *domain.ProcessDefinition, vars map[string]any) *domain.ProcessInstance {
	inst := &domain.ProcessInstance{
		ID:           rt.newID(),
		DefinitionID: def.ID,
		Executions:   make(map[string]*domain.Execution),
	}
	root := &domain.Execution{
		ID:         inst.ID,
		InstanceID: inst.ID,
		ActivityID: def.Initial,
		IsScope:    true,
		IsActive:   true,
		LoopIndex:  -1,
		Variables:  domain.CopyVariables(vars),
	}
	if root.Variables == nil {
		root.Variables = make(map[string]any)
	}
	inst.RootID = root.ID
	inst.Executions[root.ID] = root
	return inst
}

func (m *machine) execution(id string) (*domain.Execution, error) {
	e, ok := m.inst.Executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
	}
	return e, nil
}

func (m *machine) parentOf(e *domain.Execution) *domain.Execution {
	if e.ParentID == "" {
		return nil
	}
	return m.inst.Executions[e.ParentID]
}

func (m *machine) childrenOf(e *domain.Execution) []*domain.Execution {
	children := make([]*domain.Execution, 0, len(e.ChildIDs))
	for _, id := range e.ChildIDs {
		if c, ok := m.inst.Executions[id]; ok {
			children = append(children, c)
		}
	}
	return children
}

// liveChildren returns the children that still carry control flow.
// Event scopes only hold compensation handlers and do not count.
func (m *machine) liveChildren(e *domain.Execution) []*domain.Execution {
	var live []*domain.Execution
	for _, c := range m.childrenOf(e) {
		if !c.IsEnded && !c.IsEventScope {
			live = append(live, c)
		}
	}
	return live
}

// createChild attaches a new execution to parent. A scope child gets its own
// namespace; a non-scope child reads and writes the namespace of its parent chain.
func (m *machine) createChild(parent *domain.Execution, concurrent, scope bool) *domain.Execution {
	child := &domain.Execution{
		ID:           m.rt.newID(),
		InstanceID:   m.inst.ID,
		ParentID:     parent.ID,
		ActivityID:   parent.ActivityID,
		IsScope:      scope,
		IsConcurrent: concurrent,
		IsActive:     true,
		LoopIndex:    -1,
	}
	if scope {
		child.Variables = make(map[string]any)
	}
	parent.ChildIDs = append(parent.ChildIDs, child.ID)
	m.inst.Executions[child.ID] = child
	return child
}

// fork creates n concurrent children sharing the namespace of parent.
func (m *machine) fork(parent *domain.Execution, n int) []*domain.Execution {
	children := make([]*domain.Execution, n)
	for i := range children {
		children[i] = m.createChild(parent, true, false)
	}
	return children
}

func (m *machine) detach(e *domain.Execution) {
	parent := m.parentOf(e)
	if parent == nil {
		return
	}
	parent.ChildIDs = slices.DeleteFunc(parent.ChildIDs, func(id string) bool { return id == e.ID })
}

func (m *machine) reparent(e, to *domain.Execution) {
	if e.ParentID == to.ID {
		return
	}
	m.detach(e)
	e.ParentID = to.ID
	to.ChildIDs = append(to.ChildIDs, e.ID)
}

// prune detaches a superseded execution and discards its subtree.
func (m *machine) prune(e *domain.Execution) {
	m.detach(e)
	m.endSubtree(e)
}

// endSubtree ends e and every descendant, event scopes included, and removes
// them from the arena. Queued operations holding them are skipped later.
func (m *machine) endSubtree(e *domain.Execution) {
	stack := []*domain.Execution{e}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		stack = append(stack, m.childrenOf(cur)...)
		cur.IsEnded = true
		cur.IsActive = false
		delete(m.inst.Executions, cur.ID)
	}
}

// scopeOf returns the nearest ancestor-or-self scope execution.
func (m *machine) scopeOf(e *domain.Execution) *domain.Execution {
	for cur := e; cur != nil; cur = m.parentOf(cur) {
		if cur.IsScope {
			return cur
		}
	}
	return m.inst.Root()
}

// enclosingScope returns the nearest proper ancestor that is a live scope.
// Event scopes are skipped since they no longer run anything.
func (m *machine) enclosingScope(e *domain.Execution) *domain.Execution {
	for cur := m.parentOf(e); cur != nil; cur = m.parentOf(cur) {
		if cur.IsScope && !cur.IsEventScope && !cur.IsEnded {
			return cur
		}
	}
	return m.inst.Root()
}

// walk visits the live tree depth-first in creation order.
func (m *machine) walk(fn func(e *domain.Execution)) {
	root := m.inst.Root()
	if root == nil {
		return
	}
	stack := []*domain.Execution{root}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		fn(cur)
		children := m.childrenOf(cur)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// inCompensation reports whether e runs inside a compensation handler.
func (m *machine) inCompensation(e *domain.Execution) bool {
	for cur := e; cur != nil; cur = m.parentOf(cur) {
		if cur.IsCompensationHandler {
			return true
		}
	}
	return false
}

// checkParent completes a parent that was only waiting for its children.
func (m *machine) checkParent(parent *domain.Execution) error {
	if parent == nil || parent.IsEnded || !parent.AwaitsChildren || parent.IsMultiInstanceBody {
		return nil
	}
	if len(m.liveChildren(parent)) > 0 {
		return nil
	}
	parent.AwaitsChildren = false
	return m.perform(m.rt.scopeComplete, parent)
}

// endInstance ends every execution of the instance, including event scopes.
// The ended root stays in the arena so its variables remain inspectable.
func (m *machine) endInstance(reason string) {
	if m.inst.Ended {
		return
	}
	if root := m.inst.Root(); root != nil {
		for _, c := range m.childrenOf(root) {
			m.endSubtree(c)
		}
		root.ChildIDs = nil
		root.IsEnded = true
		root.IsActive = false
		root.AwaitsChildren = false
		root.Handlers = nil
	}
	m.inst.Ended = true
	m.inst.EndReason = reason
	m.record(domain.HistoryEvent{Type: domain.EventInstanceEnd, ExecutionID: m.inst.RootID})
}

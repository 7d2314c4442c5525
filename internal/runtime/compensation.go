package runtime

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/aretw0/pvm/pkg/domain"
)

// throwFrom runs a throw-compensation activity reached by e. The token waits
// until every handler it spawned has completed.
func (m *machine) throwFrom(e *domain.Execution, act *domain.Activity) error {
	scope := m.scopeOf(e)
	if scope.OwnsEventScope {
		// Inside a scope's own handler the throw targets what the scope retained.
		if es := m.parentOf(scope); es != nil && es.IsEventScope {
			scope = es
		}
	}
	n, err := m.throwCompensation(scope, act.ActivityRef, e)
	if err != nil {
		return err
	}
	if n == 0 {
		return m.perform(m.rt.activityEnd, e)
	}
	e.IsActive = false
	e.PendingHandlers = n
	return nil
}

// throwCompensation consumes the handlers captured in scope (only those of
// activity ref when set) and spawns one handler execution per entry, most
// recently completed first. Entries pointing at event scopes expand depth-first
// into the handlers retained there, unless the activity has a handler of its
// own: that handler runs inside the event scope instead and decides whether to
// throw to the retained handlers. It returns the number of spawned handlers.
func (m *machine) throwCompensation(scope *domain.Execution, ref string, thrower *domain.Execution) (int, error) {
	if ref != "" {
		if _, err := m.def.Activity(ref); err != nil {
			return 0, fmt.Errorf("%w: %s", domain.ErrInvalidCompensationTarget, ref)
		}
	}

	stack := takeHandlers(scope, ref)
	var (
		spawned  []*domain.Execution
		expanded []*domain.Execution
	)
	for len(stack) > 0 {
		n := len(stack) - 1
		h := stack[n]
		stack = stack[:n]

		eventScope := m.inst.Executions[h.EventScopeID]
		if h.HandlerActivityID == "" {
			if eventScope == nil {
				continue
			}
			stack = append(stack, takeHandlers(eventScope, "")...)
			expanded = append(expanded, eventScope)
			continue
		}

		parent := m.inst.Executions[h.ScopeID]
		if eventScope != nil {
			parent = eventScope
		}
		if parent == nil {
			parent = scope
		}
		exec := m.spawnHandler(parent, h, thrower)
		exec.OwnsEventScope = eventScope != nil
		spawned = append(spawned, exec)
	}

	// Event scopes left with nothing to run are consumed right away, innermost first.
	for i := len(expanded) - 1; i >= 0; i-- {
		m.consumeEventScope(expanded[i])
	}

	m.log.Info("compensation thrown", "scope", scope.ID, "activity_ref", ref, "handlers", len(spawned))
	m.record(domain.HistoryEvent{
		Type:        domain.EventCompensationThrown,
		ExecutionID: scope.ID,
		ActivityID:  ref,
		Count:       len(spawned),
	})

	for _, h := range spawned {
		if err := m.perform(m.rt.compensationEnter, h); err != nil {
			return 0, err
		}
	}
	return len(spawned), nil
}

// takeHandlers removes the matching handlers from scope and returns them
// ordered so that popping from the end yields the most recent capture first.
func takeHandlers(scope *domain.Execution, ref string) []domain.CompensationHandler {
	var taken, kept []domain.CompensationHandler
	for _, h := range scope.Handlers {
		if ref == "" || h.ActivityID == ref {
			taken = append(taken, h)
		} else {
			kept = append(kept, h)
		}
	}
	scope.Handlers = kept
	slices.SortStableFunc(taken, func(a, b domain.CompensationHandler) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return taken
}

func (m *machine) spawnHandler(parent *domain.Execution, h domain.CompensationHandler, thrower *domain.Execution) *domain.Execution {
	exec := m.createChild(parent, true, true)
	exec.IsCompensationHandler = true
	exec.ScopeActivityID = h.HandlerActivityID
	exec.ActivityID = h.HandlerActivityID
	exec.LoopIndex = h.Index
	maps.Copy(exec.Variables, domain.CopyVariables(h.Snapshot))
	if thrower != nil {
		exec.ThrowerID = thrower.ID
	}
	return exec
}

// enterCompensation starts the handler activity on a spawned handler execution.
func (m *machine) enterCompensation(h *domain.Execution) error {
	m.log.Debug("entering compensation handler", "execution_id", h.ID, "activity", h.ActivityID, "index", h.LoopIndex)
	return m.perform(m.rt.activityStart, h)
}

// handlerDone resumes the thrower once its last handler completed and consumes
// the event scope the handler ran in.
func (m *machine) handlerDone(h, parent *domain.Execution) error {
	if thrower, ok := m.inst.Executions[h.ThrowerID]; ok && !thrower.IsEnded && thrower.PendingHandlers > 0 {
		thrower.PendingHandlers--
		if thrower.PendingHandlers == 0 {
			thrower.IsActive = true
			if err := m.perform(m.rt.activityEnd, thrower); err != nil {
				return err
			}
		}
	}
	if parent == nil {
		return nil
	}
	if parent.IsEventScope {
		if h.OwnsEventScope {
			m.discardRetained(parent)
		}
		m.consumeEventScope(parent)
		return nil
	}
	return m.checkParent(parent)
}

// discardRetained drops the handlers an owning handler completed without
// throwing, together with the event scopes they point at.
func (m *machine) discardRetained(es *domain.Execution) {
	if len(es.Handlers) > 0 {
		m.log.Debug("retained handlers discarded", "execution_id", es.ID, "handlers", len(es.Handlers))
	}
	es.Handlers = nil
	for _, c := range m.childrenOf(es) {
		if c.IsEventScope {
			m.prune(c)
		}
	}
}

// consumeEventScope prunes event scopes that have no handlers and no running
// handler executions left, walking up through enclosing event scopes.
func (m *machine) consumeEventScope(es *domain.Execution) {
	for es != nil && es.IsEventScope && !es.IsEnded {
		if len(es.Handlers) > 0 || len(m.childrenOf(es)) > 0 {
			return
		}
		es.IsCompensated = true
		parent := m.parentOf(es)
		m.prune(es)
		m.log.Debug("event scope compensated", "execution_id", es.ID)
		es = parent
	}
}

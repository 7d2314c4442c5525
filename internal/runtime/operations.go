package runtime

import (
	"fmt"

	"github.com/aretw0/pvm/pkg/domain"
)

// embodies reports whether e is the scope execution created for activity id,
// as multi-instance instances and compensation handlers are.
func embodies(e *domain.Execution, id string) bool {
	return e.IsScope && e.ScopeActivityID == id
}

func (m *machine) startActivity(e *domain.Execution) error {
	act, err := m.activity(e.ActivityID)
	if err != nil {
		return err
	}
	m.record(domain.HistoryEvent{
		Type:         domain.EventActivityStart,
		ExecutionID:  e.ID,
		ActivityID:   act.ID,
		Compensation: m.inCompensation(e),
	})

	if act.IsMultiInstance() && !embodies(e, act.ID) {
		return m.startMultiInstance(e, act)
	}

	if act.Type == domain.ActivitySubProcess {
		if embodies(e, act.ID) {
			e.ActivityID = act.Initial
			return m.perform(m.rt.activityStart, e)
		}
		e.IsActive = false
		scope := m.createChild(e, false, true)
		scope.ScopeActivityID = act.ID
		scope.ActivityID = act.Initial
		return m.perform(m.rt.activityStart, scope)
	}
	return m.perform(m.rt.activityExecute, e)
}

func (m *machine) executeActivity(e *domain.Execution) error {
	act, err := m.activity(e.ActivityID)
	if err != nil {
		return err
	}
	switch act.Type {
	case domain.ActivityStart, domain.ActivityFork:
		return m.perform(m.rt.activityEnd, e)
	case domain.ActivityService:
		if err := m.rt.behaviors.Execute(m.cc.Context(), act.Behavior, scopeView{m: m, exec: e}); err != nil {
			return fmt.Errorf("activity %s: %w", act.ID, err)
		}
		return m.perform(m.rt.activityEnd, e)
	case domain.ActivityTask:
		// Wait state: a later command signals the execution.
		e.IsActive = true
		return nil
	case domain.ActivityJoin:
		return m.join(e, act)
	case domain.ActivityThrowCompensation:
		return m.throwFrom(e, act)
	case domain.ActivityEnd:
		return m.perform(m.rt.executionEnd, e)
	default:
		return fmt.Errorf("activity %s: cannot execute type %q", act.ID, act.Type)
	}
}

// endActivity completes the current activity of e: an embodied scope completes
// as a whole, anything else captures its compensation and moves on.
func (m *machine) endActivity(e *domain.Execution) error {
	act, err := m.activity(e.ActivityID)
	if err != nil {
		return err
	}
	if embodies(e, act.ID) && act.Type != domain.ActivitySubProcess {
		return m.perform(m.rt.scopeComplete, e)
	}
	if act.CompensateWith != "" {
		m.capture(m.scopeOf(e), domain.CompensationHandler{
			ActivityID:        act.ID,
			HandlerActivityID: act.CompensateWith,
			Snapshot:          m.snapshot(e),
			Index:             e.LoopIndex,
		})
	}
	return m.perform(m.rt.transitionTake, e)
}

func (m *machine) takeTransition(e *domain.Execution) error {
	act, err := m.activity(e.ActivityID)
	if err != nil {
		return err
	}
	m.record(domain.HistoryEvent{
		Type:         domain.EventActivityEnd,
		ExecutionID:  e.ID,
		ActivityID:   act.ID,
		Compensation: m.inCompensation(e),
	})

	switch len(act.Outgoing) {
	case 0:
		return m.perform(m.rt.executionEnd, e)
	case 1:
		e.ActivityID = act.Outgoing[0]
		e.IsActive = true
		return m.perform(m.rt.activityStart, e)
	default:
		return m.split(e, act.Outgoing)
	}
}

// split sends one token down each target. A concurrent token spawns siblings;
// any other execution becomes the parent of n concurrent children.
func (m *machine) split(e *domain.Execution, targets []string) error {
	if e.IsConcurrent && !e.IsScope {
		parent := m.parentOf(e)
		tokens := []*domain.Execution{e}
		for range targets[1:] {
			tokens = append(tokens, m.createChild(parent, true, false))
		}
		for i, t := range tokens {
			t.ActivityID = targets[i]
			if err := m.perform(m.rt.activityStart, t); err != nil {
				return err
			}
		}
		return nil
	}

	e.IsActive = false
	e.AwaitsChildren = true
	for i, c := range m.fork(e, len(targets)) {
		c.ActivityID = targets[i]
		if err := m.perform(m.rt.activityStart, c); err != nil {
			return err
		}
	}
	return nil
}

// join merges concurrent tokens. Arrivals are counted on the parent, so the
// continuation runs exactly once whatever the arrival order.
func (m *machine) join(e *domain.Execution, act *domain.Activity) error {
	if !e.IsConcurrent || e.IsScope {
		return m.perform(m.rt.activityEnd, e)
	}
	host := m.parentOf(e)
	if host.JoinArrivals == nil {
		host.JoinArrivals = make(map[string]int)
	}
	host.JoinArrivals[act.ID]++

	var siblings int
	for _, c := range m.liveChildren(host) {
		if c.ID != e.ID && c.IsConcurrent && !c.IsScope {
			siblings++
		}
	}

	if host.JoinArrivals[act.ID] < m.def.Incoming(act.ID) && siblings > 0 {
		m.log.Debug("join waiting", "activity", act.ID, "arrived", host.JoinArrivals[act.ID])
		m.prune(e)
		return nil
	}
	delete(host.JoinArrivals, act.ID)

	if siblings > 0 {
		return m.perform(m.rt.activityEnd, e)
	}
	m.prune(e)
	host.AwaitsChildren = false
	host.IsActive = true
	host.ActivityID = act.ID
	return m.perform(m.rt.activityEnd, host)
}

func (m *machine) endExecution(e *domain.Execution) error {
	if e.IsScope {
		if len(m.liveChildren(e)) > 0 {
			e.IsActive = false
			e.AwaitsChildren = true
			return nil
		}
		return m.perform(m.rt.scopeComplete, e)
	}
	parent := m.parentOf(e)
	m.prune(e)
	return m.checkParent(parent)
}

// completeScope finishes a scope execution: it captures the scope into its
// enclosing scope, retains it as an event scope while it still holds handlers,
// and resumes whatever waited for it.
func (m *machine) completeScope(s *domain.Execution) error {
	if s.IsRoot() {
		m.endInstance(endReasonCompleted)
		return nil
	}
	act, err := m.activity(s.ScopeActivityID)
	if err != nil {
		return err
	}
	parent := m.parentOf(s)
	target := m.enclosingScope(s)

	entry := domain.CompensationHandler{
		ActivityID: act.ID,
		Snapshot:   m.snapshot(s),
		Index:      s.LoopIndex,
	}
	if !s.IsMultiInstanceBody {
		entry.HandlerActivityID = act.CompensateWith
	}
	retain := len(s.Handlers) > 0
	if retain {
		entry.EventScopeID = s.ID
	}
	if entry.HandlerActivityID != "" || retain {
		m.capture(target, entry)
	}

	if retain {
		s.IsEventScope = true
		s.IsActive = false
		s.AwaitsChildren = false
		s.ActivityID = act.ID
		m.reparent(s, target)
	} else {
		m.prune(s)
	}

	switch {
	case s.IsCompensationHandler:
		return m.handlerDone(s, parent)
	case parent != nil && parent.IsMultiInstanceBody:
		return m.instanceDone(parent)
	case parent != nil:
		parent.IsActive = true
		parent.ActivityID = act.ID
		return m.perform(m.rt.transitionTake, parent)
	}
	return nil
}

// signal completes the wait state e is parked at.
func (m *machine) signal(e *domain.Execution) error {
	act, err := m.activity(e.ActivityID)
	if err != nil {
		return err
	}
	if !isWaiting(e, act) {
		return fmt.Errorf("%w: %s at %s", domain.ErrNotWaiting, e.ID, e.ActivityID)
	}
	return m.perform(m.rt.activityEnd, e)
}

func isWaiting(e *domain.Execution, act *domain.Activity) bool {
	return !e.IsEnded && e.IsActive && !e.AwaitsChildren && !e.IsEventScope && act.Type == domain.ActivityTask
}

func (m *machine) capture(scope *domain.Execution, h domain.CompensationHandler) {
	m.inst.CaptureSeq++
	h.Seq = m.inst.CaptureSeq
	h.ScopeID = scope.ID
	scope.Handlers = append(scope.Handlers, h)
	m.log.Debug("compensation captured", "activity", h.ActivityID, "scope", scope.ID, "index", h.Index)
	m.record(domain.HistoryEvent{
		Type:        domain.EventCompensationCaptured,
		ExecutionID: scope.ID,
		ActivityID:  h.ActivityID,
	})
}

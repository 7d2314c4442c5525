package runtime_test

import (
	"context"
	"testing"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/dsl"
	"github.com/aretw0/pvm/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multiInstanceDefinition(n int) *domain.ProcessDefinition {
	return dsl.New("bookings").
		Add("start").Start().Go("book").
		Add("book").Task("Book").Parallel(n).CompensateWith("undo").Go("throw").
		Add("undo").Task("Undo").ForCompensation().
		Add("throw").ThrowCompensation("").Go("end").
		Add("end").End().
		Done().MustBuild()
}

func TestCompensation_MultiInstanceRunsHandlersLIFO(t *testing.T) {
	h := newHarness(t, multiInstanceDefinition(3))
	id := h.start("bookings", nil)

	books := h.tasksAt(id, "book")
	require.Len(t, books, 3)
	assert.Equal(t, []int{0, 1, 2}, indexes(books))
	for _, task := range books {
		h.signal(task, map[string]any{"ref": task.Index})
	}

	undos := h.tasksAt(id, "undo")
	require.Len(t, undos, 3)
	assert.Equal(t, []int{2, 1, 0}, indexes(undos), "most recently completed instance first")
	for _, task := range undos {
		assert.True(t, task.Compensation)
		assert.Equal(t, task.Index, task.Variables[domain.VarLoopCounter])
		assert.Equal(t, task.Index, task.Variables["ref"])
	}

	started := h.compensationStarts(id)
	require.Len(t, started, 3)
	for i, task := range undos {
		assert.Equal(t, task.ExecutionID, started[i])
	}

	for _, task := range undos {
		assert.False(t, h.instance(id).Ended)
		h.signal(task, nil)
	}
	assert.True(t, h.instance(id).Ended)
}

func TestCompensation_FiveInstances(t *testing.T) {
	h := newHarness(t, multiInstanceDefinition(5))
	id := h.start("bookings", nil)

	books := h.tasksAt(id, "book")
	require.Len(t, books, 5)
	// Complete out of index order; replay follows completion order reversed.
	order := []int{3, 0, 4, 1, 2}
	for _, i := range order {
		h.signal(books[i], nil)
	}

	undos := h.tasksAt(id, "undo")
	require.Len(t, undos, 5)
	assert.Equal(t, []int{2, 1, 4, 0, 3}, indexes(undos))

	var thrown []domain.HistoryEvent
	for _, ev := range h.history(id) {
		if ev.Type == domain.EventCompensationThrown {
			thrown = append(thrown, ev)
		}
	}
	require.Len(t, thrown, 1)
	assert.Equal(t, 5, thrown[0].Count)

	for _, task := range undos {
		h.signal(task, nil)
	}
	inst := h.instance(id)
	assert.True(t, inst.Ended)
	assert.Empty(t, eventScopes(inst))
}

func TestCompensation_SnapshotIsolation(t *testing.T) {
	def := dsl.New("snapshot").
		Add("start").Start().Go("book").
		Add("book").Task("Book").CompensateWith("undo").Go("later").
		Add("undo").Task("Undo").ForCompensation().
		Add("later").Task("Later").Go("throw").
		Add("throw").ThrowCompensation("").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarness(t, def)
	id := h.start("snapshot", nil)

	h.complete(id, "book", map[string]any{"amount": 100, "items": map[string]any{"room": 1}})
	h.complete(id, "later", map[string]any{"amount": 999, "items": map[string]any{"room": 2}})

	undos := h.tasksAt(id, "undo")
	require.Len(t, undos, 1)
	assert.Equal(t, 100, undos[0].Variables["amount"])
	assert.Equal(t, map[string]any{"room": 1}, undos[0].Variables["items"])
	assert.Equal(t, -1, undos[0].Index)

	vars := h.instance(id).Root().Variables
	assert.Equal(t, 999, vars["amount"], "the snapshot never leaks into the live scope")
}

func TestCompensation_OnlyCompletedConstructsAreEligible(t *testing.T) {
	def := dsl.New("branches").
		Add("start").Start().Go("sub").
		Add("sub").SubProcess("s-start").Go("after").
		Add("s-start").Start().In("sub").Go("fork").
		Add("fork").Fork().In("sub").Go("a", "b").
		Add("a").Task("A").In("sub").CompensateWith("undo-a").Go("join").
		Add("b").Task("B").In("sub").Go("join").
		Add("join").Join().In("sub").Go("s-end").
		Add("s-end").End().In("sub").
		Add("undo-a").Task("Undo A").In("sub").ForCompensation().
		Add("after").Task("After").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarness(t, def)
	id := h.start("branches", nil)

	h.complete(id, "a", nil)
	assert.Equal(t, 0, h.throw(id, ""), "the sub-process has not completed yet")

	h.complete(id, "b", nil)
	require.Len(t, h.tasksAt(id, "after"), 1)

	inst := h.instance(id)
	scopes := eventScopes(inst)
	require.Len(t, scopes, 1)
	assert.Equal(t, "sub", scopes[0].ScopeActivityID)
	assert.Equal(t, inst.RootID, scopes[0].ParentID)

	assert.Equal(t, 1, h.throw(id, ""))
	undo := h.tasksAt(id, "undo-a")
	require.Len(t, undo, 1)
	assert.True(t, undo[0].Compensation)

	h.signal(undo[0], nil)
	assert.Empty(t, eventScopes(h.instance(id)), "the consumed event scope is removed")
	assert.Equal(t, 0, h.throw(id, ""))
}

func TestCompensation_HandlerCapturesItsOwnCompensation(t *testing.T) {
	def := dsl.New("rethrow").
		Add("start").Start().Go("a").
		Add("a").Task("A").CompensateWith("undo-a").Go("t1").
		Add("undo-a").Task("Undo A").ForCompensation().CompensateWith("redo-a").
		Add("redo-a").Task("Redo A").ForCompensation().
		Add("t1").ThrowCompensation("").Go("t2").
		Add("t2").ThrowCompensation("").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarness(t, def)
	id := h.start("rethrow", nil)

	h.complete(id, "a", nil)
	undo := h.tasksAt(id, "undo-a")
	require.Len(t, undo, 1)
	h.signal(undo[0], nil)

	redo := h.tasksAt(id, "redo-a")
	require.Len(t, redo, 1, "the second throw compensates the handler itself")
	assert.True(t, redo[0].Compensation)

	h.signal(redo[0], nil)
	assert.True(t, h.instance(id).Ended)
}

func TestCompensation_ActivityRef(t *testing.T) {
	def := dsl.New("ref").
		Add("start").Start().Go("a").
		Add("a").Task("A").CompensateWith("undo-a").Go("b").
		Add("b").Task("B").CompensateWith("undo-b").Go("wait").
		Add("undo-a").Task("Undo A").ForCompensation().
		Add("undo-b").Task("Undo B").ForCompensation().
		Add("wait").Task("Wait").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarness(t, def)
	id := h.start("ref", nil)
	h.complete(id, "a", nil)
	h.complete(id, "b", nil)

	_, err := h.exec.Execute(h.ctx, h.rt.ThrowCompensation(id, "missing"))
	assert.ErrorIs(t, err, domain.ErrInvalidCompensationTarget)

	assert.Equal(t, 1, h.throw(id, "a"))
	assert.Len(t, h.tasksAt(id, "undo-a"), 1)
	assert.Empty(t, h.tasksAt(id, "undo-b"))

	handlers := h.instance(id).Root().Handlers
	require.Len(t, handlers, 1)
	assert.Equal(t, "b", handlers[0].ActivityID)

	assert.Equal(t, 0, h.throw(id, "a"), "handlers are consumed once thrown")
	assert.Equal(t, 1, h.throw(id, ""))
}

func TestCompensation_SecondThrowFindsNothing(t *testing.T) {
	def := dsl.New("twice").
		Add("start").Start().Go("a").
		Add("a").Task("A").CompensateWith("undo-a").Go("t1").
		Add("undo-a").Task("Undo A").ForCompensation().
		Add("t1").ThrowCompensation("").Go("t2").
		Add("t2").ThrowCompensation("").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarness(t, def)
	id := h.start("twice", nil)

	h.complete(id, "a", nil)
	undo := h.tasksAt(id, "undo-a")
	require.Len(t, undo, 1)
	h.signal(undo[0], nil)

	assert.True(t, h.instance(id).Ended)
	var counts []int
	for _, ev := range h.history(id) {
		if ev.Type == domain.EventCompensationThrown {
			counts = append(counts, ev.Count)
		}
	}
	assert.Equal(t, []int{1, 0}, counts)
}

func TestCompensation_NestedMultiInstanceSubProcess(t *testing.T) {
	def := dsl.New("nested").
		Add("start").Start().Go("sub").
		Add("sub").SubProcess("s-start").Parallel(2).Go("throw").
		Add("s-start").Start().In("sub").Go("x").
		Add("x").Task("X").In("sub").CompensateWith("undo-x").Go("s-end").
		Add("s-end").End().In("sub").
		Add("undo-x").Task("Undo X").In("sub").ForCompensation().
		Add("throw").ThrowCompensation("").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarness(t, def)
	id := h.start("nested", nil)

	xs := h.tasksAt(id, "x")
	require.Len(t, xs, 2)
	h.signal(xs[0], nil)
	h.signal(xs[1], nil)

	undos := h.tasksAt(id, "undo-x")
	require.Len(t, undos, 2)
	byExecution := make(map[string]int)
	for _, task := range undos {
		byExecution[task.ExecutionID] = task.Variables[domain.VarLoopCounter].(int)
	}
	var replay []int
	for _, execID := range h.compensationStarts(id) {
		replay = append(replay, byExecution[execID])
	}
	assert.Equal(t, []int{1, 0}, replay)

	for _, task := range undos {
		h.signal(task, nil)
	}
	assert.True(t, h.instance(id).Ended)
}

func TestCompensation_SubProcessOwnHandlerReplacesInnerHandlers(t *testing.T) {
	def := dsl.New("own").
		Add("start").Start().Go("sub").
		Add("sub").SubProcess("s-start").CompensateWith("undo-sub").Go("throw").
		Add("s-start").Start().In("sub").Go("x").
		Add("x").Task("X").In("sub").CompensateWith("undo-x").Go("s-end").
		Add("s-end").End().In("sub").
		Add("undo-x").Task("Undo X").In("sub").ForCompensation().
		Add("undo-sub").Task("Undo Sub").ForCompensation().
		Add("throw").ThrowCompensation("").Go("after").
		Add("after").Task("After").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarness(t, def)
	id := h.start("own", nil)

	h.complete(id, "x", nil)
	undo := h.tasksAt(id, "undo-sub")
	require.Len(t, undo, 1)
	assert.Empty(t, h.tasksAt(id, "undo-x"))

	h.signal(undo[0], nil)
	require.Len(t, h.tasksAt(id, "after"), 1)
	inst := h.instance(id)
	assert.Empty(t, eventScopes(inst), "handlers left un-thrown are discarded with their scope")
	assert.Empty(t, inst.Root().Handlers)
	assert.Zero(t, h.countStarts(id, "undo-x"))
	assert.Zero(t, h.throw(id, ""))
}

func TestCompensation_SubProcessHandlerThrowsToRetainedHandlers(t *testing.T) {
	def := dsl.New("rethrow").
		Add("start").Start().Go("sub").
		Add("sub").SubProcess("s-start").CompensateWith("undo-sub").Go("throw").
		Add("s-start").Start().In("sub").Go("x").
		Add("x").Task("X").In("sub").CompensateWith("undo-x").Go("y").
		Add("y").Task("Y").In("sub").CompensateWith("undo-y").Go("s-end").
		Add("s-end").End().In("sub").
		Add("undo-x").Task("Undo X").In("sub").ForCompensation().
		Add("undo-y").Task("Undo Y").In("sub").ForCompensation().
		Add("undo-sub").SubProcess("u-start").ForCompensation().
		Add("u-start").Start().In("undo-sub").Go("u-throw").
		Add("u-throw").ThrowCompensation("").In("undo-sub").Go("u-log").
		Add("u-log").Task("Log").In("undo-sub").Go("u-end").
		Add("u-end").End().In("undo-sub").
		Add("throw").ThrowCompensation("").Go("after").
		Add("after").Task("After").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarness(t, def)
	id := h.start("rethrow", nil)

	h.complete(id, "x", nil)
	h.complete(id, "y", nil)

	undoX := h.tasksAt(id, "undo-x")
	undoY := h.tasksAt(id, "undo-y")
	require.Len(t, undoX, 1)
	require.Len(t, undoY, 1)
	assert.Empty(t, h.tasksAt(id, "u-log"), "the handler waits for the handlers it threw")

	var order []string
	for _, ev := range h.history(id) {
		if ev.Type == domain.EventActivityStart && (ev.ActivityID == "undo-x" || ev.ActivityID == "undo-y") {
			order = append(order, ev.ActivityID)
		}
	}
	assert.Equal(t, []string{"undo-y", "undo-x"}, order)

	h.signal(undoY[0], nil)
	h.signal(undoX[0], nil)
	require.Len(t, h.tasksAt(id, "u-log"), 1)
	assert.False(t, h.instance(id).Ended)

	h.complete(id, "u-log", nil)
	require.Len(t, h.tasksAt(id, "after"), 1)
	assert.Empty(t, eventScopes(h.instance(id)))
	assert.Equal(t, 1, h.countStarts(id, "undo-x"))
	assert.Equal(t, 1, h.countStarts(id, "undo-y"))
}

func TestCompensation_EventScopeBesideConcurrentBranch(t *testing.T) {
	def := dsl.New("beside").
		Add("start").Start().Go("fork").
		Add("fork").Fork().Go("sub", "c", "d").
		Add("sub").SubProcess("s-start").Go("join").
		Add("s-start").Start().In("sub").Go("x").
		Add("x").Task("X").In("sub").CompensateWith("undo-x").Go("s-end").
		Add("s-end").End().In("sub").
		Add("undo-x").Task("Undo X").In("sub").ForCompensation().
		Add("c").Task("C").Go("join").
		Add("d").Task("D").Go("join").
		Add("join").Join().Go("throw").
		Add("throw").ThrowCompensation("").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarness(t, def)
	id := h.start("beside", nil)

	h.complete(id, "x", nil)
	inst := h.instance(id)
	scopes := eventScopes(inst)
	require.Len(t, scopes, 1)
	assert.Equal(t, inst.RootID, scopes[0].ParentID, "retained under the enclosing scope, not the branch")
	assert.Len(t, h.tasks(id), 2)

	// Cancelling an unrelated branch leaves the event scope alone.
	c := h.tasksAt(id, "c")
	require.Len(t, c, 1)
	_, err := h.exec.Execute(h.ctx, h.rt.CancelExecution(id, c[0].ExecutionID))
	require.NoError(t, err)
	assert.Len(t, eventScopes(h.instance(id)), 1)
	assert.False(t, h.instance(id).Ended)

	h.complete(id, "d", nil)
	undo := h.tasksAt(id, "undo-x")
	require.Len(t, undo, 1)
	h.signal(undo[0], nil)
	assert.True(t, h.instance(id).Ended)
}

func TestCompensation_DeleteWithWaitingHandlers(t *testing.T) {
	h := newHarness(t, multiInstanceDefinition(2))
	id := h.start("bookings", nil)
	for _, task := range h.tasksAt(id, "book") {
		h.signal(task, nil)
	}
	require.Len(t, h.tasksAt(id, "undo"), 2)

	_, err := h.exec.Execute(h.ctx, h.rt.DeleteProcessInstance(id, "operator"))
	require.NoError(t, err)

	_, err = h.exec.Execute(h.ctx, h.rt.Tasks(id))
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)

	events := h.history(id)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventInstanceEnd, last.Type)
}

func TestCompensation_ParallelServiceInstancesCompleteOnce(t *testing.T) {
	behaviors := registry.NewRegistry()
	behaviors.Register("book", func(_ context.Context, s registry.Scope) error {
		idx, _ := s.Variable(domain.VarLoopCounter)
		s.SetVariable("seat", idx)
		return nil
	})
	def := dsl.New("auto").
		Add("start").Start().Go("book").
		Add("book").Service("book").Parallel(3).CompensateWith("undo").Go("pay").
		Add("undo").Task("Undo").ForCompensation().
		Add("pay").Task("Pay").Go("end").
		Add("end").End().
		Done().MustBuild()
	h := newHarnessWith(t, behaviors, def)
	id := h.start("auto", nil)

	inst := h.instance(id)
	require.False(t, inst.Ended)
	require.Len(t, h.tasksAt(id, "pay"), 1)
	assert.Equal(t, 1, h.countStarts(id, "pay"))
	assert.Len(t, inst.Root().Handlers, 1, "the construct is captured once")

	assert.Equal(t, 3, h.throw(id, ""))
	undos := h.tasksAt(id, "undo")
	require.Len(t, undos, 3)
	assert.Equal(t, []int{2, 1, 0}, indexes(undos))
	for _, task := range undos {
		h.signal(task, nil)
	}

	h.complete(id, "pay", nil)
	assert.True(t, h.instance(id).Ended)
	assert.Equal(t, 1, h.countStarts(id, "end"))
}

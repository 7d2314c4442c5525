package runtime_test

import (
	"context"
	"testing"

	"github.com/aretw0/pvm/internal/runtime"
	"github.com/aretw0/pvm/pkg/adapters/memory"
	"github.com/aretw0/pvm/pkg/command"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/registry"
	"github.com/stretchr/testify/require"
)

// harness wires a runtime to in-memory adapters the way the engine does.
type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	rt    *runtime.Runtime
	exec  *command.Executor
	ops   []string
}

func newHarness(t *testing.T, defs ...*domain.ProcessDefinition) *harness {
	t.Helper()
	return newHarnessWith(t, registry.NewRegistry(), defs...)
}

func newHarnessWith(t *testing.T, behaviors *registry.Registry, defs ...*domain.ProcessDefinition) *harness {
	t.Helper()
	repo, err := memory.NewRepository(defs...)
	require.NoError(t, err)

	h := &harness{t: t, ctx: context.Background(), store: memory.NewStore()}
	h.rt = runtime.New(runtime.WithBehaviors(behaviors))
	h.exec = command.NewExecutor(
		command.WithTransactionContextFactory(h.store),
		command.WithSessionFactory(runtime.RuntimeSessionFactory{Store: h.store}),
		command.WithSessionFactory(runtime.RepositorySessionFactory{Repository: repo}),
		command.WithSessionFactory(runtime.HistorySessionFactory{Store: h.store}),
		command.WithLifecycleHooks(domain.LifecycleHooks{
			OnOperation: func(_ context.Context, e *domain.OperationEvent) {
				h.ops = append(h.ops, e.Operation)
			},
		}),
	)
	return h
}

func (h *harness) start(definitionID string, vars map[string]any) string {
	h.t.Helper()
	id, err := command.Run[string](h.ctx, h.exec, h.rt.StartProcessInstance(definitionID, vars))
	require.NoError(h.t, err)
	return id
}

func (h *harness) tasks(instanceID string) []domain.Task {
	h.t.Helper()
	tasks, err := command.Run[[]domain.Task](h.ctx, h.exec, h.rt.Tasks(instanceID))
	require.NoError(h.t, err)
	return tasks
}

func (h *harness) tasksAt(instanceID, activityID string) []domain.Task {
	h.t.Helper()
	var out []domain.Task
	for _, task := range h.tasks(instanceID) {
		if task.ActivityID == activityID {
			out = append(out, task)
		}
	}
	return out
}

func (h *harness) signal(task domain.Task, vars map[string]any) {
	h.t.Helper()
	_, err := h.exec.Execute(h.ctx, h.rt.Signal(task.InstanceID, task.ExecutionID, vars))
	require.NoError(h.t, err)
}

func (h *harness) complete(instanceID, activity string, vars map[string]any) {
	h.t.Helper()
	_, err := h.exec.Execute(h.ctx, h.rt.CompleteTask(instanceID, activity, vars))
	require.NoError(h.t, err)
}

func (h *harness) throw(instanceID, activityRef string) int {
	h.t.Helper()
	n, err := command.Run[int](h.ctx, h.exec, h.rt.ThrowCompensation(instanceID, activityRef))
	require.NoError(h.t, err)
	return n
}

func (h *harness) instance(instanceID string) *domain.ProcessInstance {
	h.t.Helper()
	inst, err := command.Run[*domain.ProcessInstance](h.ctx, h.exec, h.rt.Instance(instanceID))
	require.NoError(h.t, err)
	return inst
}

func (h *harness) history(instanceID string) []domain.HistoryEvent {
	h.t.Helper()
	events, err := h.store.Events(h.ctx, instanceID)
	require.NoError(h.t, err)
	return events
}

// compensationStarts returns the handler executions in the order their
// activities were started.
func (h *harness) compensationStarts(instanceID string) []string {
	var started []string
	for _, ev := range h.history(instanceID) {
		if ev.Type == domain.EventActivityStart && ev.Compensation {
			started = append(started, ev.ExecutionID)
		}
	}
	return started
}

func (h *harness) countStarts(instanceID, activityID string) int {
	n := 0
	for _, ev := range h.history(instanceID) {
		if ev.Type == domain.EventActivityStart && ev.ActivityID == activityID {
			n++
		}
	}
	return n
}

func eventScopes(inst *domain.ProcessInstance) []*domain.Execution {
	var out []*domain.Execution
	for _, e := range inst.Executions {
		if e.IsEventScope {
			out = append(out, e)
		}
	}
	return out
}

func indexes(tasks []domain.Task) []int {
	out := make([]int, len(tasks))
	for i, task := range tasks {
		out[i] = task.Index
	}
	return out
}

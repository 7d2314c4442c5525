package runtime

import (
	"fmt"
	"strings"

	"github.com/aretw0/pvm/pkg/command"
	"github.com/aretw0/pvm/pkg/domain"
)

// Command names.
const (
	CmdDeploy            = "deploy"
	CmdStartInstance     = "start-process-instance"
	CmdSignal            = "signal"
	CmdCompleteTask      = "complete-task"
	CmdThrowCompensation = "throw-compensation"
	CmdCancelExecution   = "cancel-execution"
	CmdDeleteInstance    = "delete-process-instance"
	CmdTasks             = "tasks"
	CmdVariables         = "variables"
	CmdInstance          = "instance"
)

type runtimeCommand struct {
	name string
	run  func(cc *command.Context) (any, error)
}

func (c runtimeCommand) Name() string { return c.name }

func (c runtimeCommand) Execute(cc *command.Context) (any, error) { return c.run(cc) }

// load binds the instance; for modification it must still be running.
func (rt *Runtime) load(cc *command.Context, instanceID string, modify bool) (*machine, error) {
	rs, err := runtimeSession(cc)
	if err != nil {
		return nil, err
	}
	var inst *domain.ProcessInstance
	if modify {
		inst, err = rs.Instance(cc.Context(), instanceID)
	} else {
		inst, err = rs.Peek(cc.Context(), instanceID)
	}
	if err != nil {
		return nil, err
	}
	if modify && inst.Ended {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceEnded, instanceID)
	}
	return rt.bindInstance(cc, inst)
}

// Deploy publishes a process definition.
func (rt *Runtime) Deploy(def *domain.ProcessDefinition) command.Command {
	return runtimeCommand{name: CmdDeploy, run: func(cc *command.Context) (any, error) {
		repo, err := repositorySession(cc)
		if err != nil {
			return nil, err
		}
		return nil, repo.Deploy(def)
	}}
}

// StartProcessInstance creates an instance of a deployed definition and runs it
// until every token is parked or ended. The result is the instance ID.
func (rt *Runtime) StartProcessInstance(definitionID string, vars map[string]any) command.Command {
	return runtimeCommand{name: CmdStartInstance, run: func(cc *command.Context) (any, error) {
		repo, err := repositorySession(cc)
		if err != nil {
			return nil, err
		}
		def, err := repo.Definition(cc.Context(), definitionID)
		if err != nil {
			return nil, err
		}
		rs, err := runtimeSession(cc)
		if err != nil {
			return nil, err
		}
		inst := rt.newInstance(def, vars)
		rs.Insert(inst)

		m, err := rt.bindInstance(cc, inst)
		if err != nil {
			return nil, err
		}
		m.record(domain.HistoryEvent{Type: domain.EventInstanceStart, ExecutionID: inst.RootID, ActivityID: def.Initial})
		m.log.Info("process instance started", "definition", def.ID)
		if err := m.perform(rt.activityStart, inst.Root()); err != nil {
			return nil, err
		}
		return inst.ID, nil
	}}
}

// Signal completes the wait state an execution is parked at, after applying vars.
func (rt *Runtime) Signal(instanceID, executionID string, vars map[string]any) command.Command {
	return runtimeCommand{name: CmdSignal, run: func(cc *command.Context) (any, error) {
		m, err := rt.load(cc, instanceID, true)
		if err != nil {
			return nil, err
		}
		exec, err := m.execution(executionID)
		if err != nil {
			return nil, err
		}
		act, err := m.activity(exec.ActivityID)
		if err != nil {
			return nil, err
		}
		if !isWaiting(exec, act) {
			return nil, fmt.Errorf("%w: %s at %s", domain.ErrNotWaiting, exec.ID, exec.ActivityID)
		}
		m.setAll(exec, vars)
		return nil, m.perform(rt.executionSignal, exec)
	}}
}

// CompleteTask signals the first waiting execution at the activity with the
// given ID or name.
func (rt *Runtime) CompleteTask(instanceID, activity string, vars map[string]any) command.Command {
	return runtimeCommand{name: CmdCompleteTask, run: func(cc *command.Context) (any, error) {
		m, err := rt.load(cc, instanceID, true)
		if err != nil {
			return nil, err
		}
		for _, t := range m.tasks() {
			act, _ := m.def.Activity(t.ActivityID)
			if t.ActivityID != activity && !strings.EqualFold(act.DisplayName(), activity) {
				continue
			}
			exec := m.inst.Executions[t.ExecutionID]
			m.setAll(exec, vars)
			return nil, m.perform(rt.executionSignal, exec)
		}
		return nil, fmt.Errorf("%w: no task %q in instance %s", domain.ErrNotWaiting, activity, instanceID)
	}}
}

// ThrowCompensation compensates the handlers captured at the process level,
// restricted to one activity when activityRef is set. The result is the number
// of handler executions spawned.
func (rt *Runtime) ThrowCompensation(instanceID, activityRef string) command.Command {
	return runtimeCommand{name: CmdThrowCompensation, run: func(cc *command.Context) (any, error) {
		m, err := rt.load(cc, instanceID, true)
		if err != nil {
			return nil, err
		}
		return m.throwCompensation(m.inst.Root(), activityRef, nil)
	}}
}

// CancelExecution ends a branch and everything below it, then lets its parent
// complete if it was only waiting for that branch.
func (rt *Runtime) CancelExecution(instanceID, executionID string) command.Command {
	return runtimeCommand{name: CmdCancelExecution, run: func(cc *command.Context) (any, error) {
		m, err := rt.load(cc, instanceID, true)
		if err != nil {
			return nil, err
		}
		exec, err := m.execution(executionID)
		if err != nil {
			return nil, err
		}
		if exec.IsRoot() {
			m.endInstance("cancelled")
			return nil, nil
		}
		parent := m.parentOf(exec)
		m.prune(exec)
		m.log.Info("execution cancelled", "execution_id", executionID)
		return nil, m.checkParent(parent)
	}}
}

// DeleteProcessInstance ends every execution, event scopes included, and
// removes the instance from the store.
func (rt *Runtime) DeleteProcessInstance(instanceID, reason string) command.Command {
	return runtimeCommand{name: CmdDeleteInstance, run: func(cc *command.Context) (any, error) {
		m, err := rt.load(cc, instanceID, false)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			reason = endReasonDeleted
		}
		m.endInstance(reason)
		rs, err := runtimeSession(cc)
		if err != nil {
			return nil, err
		}
		rs.Delete(instanceID)
		m.log.Info("process instance deleted", "reason", reason)
		return nil, nil
	}}
}

// Tasks lists the executions waiting at a task, in tree order.
func (rt *Runtime) Tasks(instanceID string) command.Command {
	return runtimeCommand{name: CmdTasks, run: func(cc *command.Context) (any, error) {
		m, err := rt.load(cc, instanceID, false)
		if err != nil {
			return nil, err
		}
		return m.tasks(), nil
	}}
}

// Variables returns the variables visible from an execution, or from the
// process instance when executionID is empty.
func (rt *Runtime) Variables(instanceID, executionID string) command.Command {
	return runtimeCommand{name: CmdVariables, run: func(cc *command.Context) (any, error) {
		m, err := rt.load(cc, instanceID, false)
		if err != nil {
			return nil, err
		}
		exec := m.inst.Root()
		if executionID != "" {
			if exec, err = m.execution(executionID); err != nil {
				return nil, err
			}
		}
		return domain.CopyVariables(m.VisibleVariables(exec)), nil
	}}
}

// Instance returns a copy of the execution tree.
func (rt *Runtime) Instance(instanceID string) command.Command {
	return runtimeCommand{name: CmdInstance, run: func(cc *command.Context) (any, error) {
		rs, err := runtimeSession(cc)
		if err != nil {
			return nil, err
		}
		inst, err := rs.Peek(cc.Context(), instanceID)
		if err != nil {
			return nil, err
		}
		return inst.Clone(), nil
	}}
}

func (m *machine) tasks() []domain.Task {
	var tasks []domain.Task
	m.walk(func(e *domain.Execution) {
		act, err := m.def.Activity(e.ActivityID)
		if err != nil || !isWaiting(e, act) {
			return
		}
		tasks = append(tasks, domain.Task{
			ExecutionID:  e.ID,
			InstanceID:   m.inst.ID,
			ActivityID:   act.ID,
			Name:         act.DisplayName(),
			Compensation: m.inCompensation(e),
			Index:        e.LoopIndex,
			Variables:    m.snapshot(e),
		})
	})
	return tasks
}

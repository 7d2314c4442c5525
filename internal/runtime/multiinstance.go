package runtime

import "github.com/aretw0/pvm/pkg/domain"

// startMultiInstance parks e at act and creates the body scope tracking the
// instances. Parallel instances are created at once, sequential ones one by one.
func (m *machine) startMultiInstance(e *domain.Execution, act *domain.Activity) error {
	n := act.MultiInstance.Cardinality
	e.IsActive = false

	body := m.createChild(e, false, true)
	body.IsMultiInstanceBody = true
	body.ScopeActivityID = act.ID
	body.ActivityID = act.ID
	body.IsActive = false
	body.InstancesTotal = n
	body.Variables[domain.VarInstances] = n
	body.Variables[domain.VarCompletedInstances] = 0

	if act.MultiInstance.Sequential {
		return m.perform(m.rt.activityStart, m.spawnInstance(body, 0, false))
	}
	instances := make([]*domain.Execution, n)
	for i := range instances {
		instances[i] = m.spawnInstance(body, i, true)
	}
	for _, inst := range instances {
		if err := m.perform(m.rt.activityStart, inst); err != nil {
			return err
		}
	}
	return nil
}

func (m *machine) spawnInstance(body *domain.Execution, index int, concurrent bool) *domain.Execution {
	inst := m.createChild(body, concurrent, true)
	inst.ScopeActivityID = body.ScopeActivityID
	inst.ActivityID = body.ScopeActivityID
	inst.LoopIndex = index
	inst.Variables[domain.VarLoopCounter] = index
	return inst
}

// instanceDone counts a completed instance on its body. The instance that
// brings the count to the total completes the body, so the construct becomes
// compensable in its enclosing scope exactly once, after every instance.
func (m *machine) instanceDone(body *domain.Execution) error {
	body.InstancesDone++
	body.Variables[domain.VarCompletedInstances] = body.InstancesDone
	if body.InstancesDone >= body.InstancesTotal {
		return m.perform(m.rt.scopeComplete, body)
	}
	act, err := m.activity(body.ScopeActivityID)
	if err != nil {
		return err
	}
	if act.MultiInstance != nil && act.MultiInstance.Sequential {
		return m.perform(m.rt.multiInstanceNext, body)
	}
	return nil
}

// nextInstance starts the next sequential instance.
func (m *machine) nextInstance(body *domain.Execution) error {
	if body.InstancesDone >= body.InstancesTotal {
		return nil
	}
	return m.perform(m.rt.activityStart, m.spawnInstance(body, body.InstancesDone, false))
}

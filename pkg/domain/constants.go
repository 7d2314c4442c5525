package domain

// Variable names maintained by the engine on multi-instance scopes.
const (
	// VarLoopCounter holds the instance index on each multi-instance instance scope.
	VarLoopCounter = "loopCounter"
	// VarInstances holds the declared cardinality on the multi-instance body.
	VarInstances = "nrOfInstances"
	// VarCompletedInstances holds the completed instance count on the multi-instance body.
	VarCompletedInstances = "nrOfCompletedInstances"
)

package engine

// RunStatus is the overall outcome of applying one plan.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed means a FailureAbort action stopped the plan.
	RunStatusFailed RunStatus = "failed"
	// RunStatusPartial means the plan ran to the end with surfaced failures.
	RunStatusPartial RunStatus = "partial"
	// RunStatusSkipped means the event produced an empty plan.
	RunStatusSkipped RunStatus = "skipped"
)

// OperationType names a single side effect against the control plane.
type OperationType string

const (
	OperationCommentCreate     OperationType = "comment.create"
	OperationCommentUpdate     OperationType = "comment.update"
	OperationEnvironmentUpsert OperationType = "environment.upsert"
	OperationEnvironmentDelete OperationType = "environment.delete"
	OperationCheckRunCreate    OperationType = "check_run.create"
	OperationCheckRunComplete  OperationType = "check_run.complete"
	OperationWorkflowDispatch  OperationType = "workflow.dispatch"
)

// ActionStatus is the outcome of a single action.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusSucceeded ActionStatus = "succeeded"
	ActionStatusFailed    ActionStatus = "failed"
	// ActionStatusIgnored is a failure its FailureIgnore policy tolerates.
	ActionStatusIgnored ActionStatus = "ignored"
	// ActionStatusSkipped was never attempted because the plan aborted.
	ActionStatusSkipped ActionStatus = "skipped"
)

// FailurePolicy decides what the executor does when an action fails.
type FailurePolicy string

const (
	// FailureAbort stops the plan and surfaces the error. The successful
	// prefix is kept.
	FailureAbort FailurePolicy = "abort"

	// FailureContinue records the error, applies the remaining actions and
	// surfaces the error once the plan finishes.
	FailureContinue FailurePolicy = "continue"

	// FailureIgnore logs the failure and never surfaces it.
	FailureIgnore FailurePolicy = "ignore"
)

// Conclusion is the terminal outcome of a check run.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionFailure Conclusion = "failure"
)

package engine

import (
	"fmt"
	"time"
)

// Repository identifies the repository an event belongs to.
type Repository struct {
	// Owner is the account or organization login.
	Owner string `json:"owner" validate:"required"`

	// Name is the repository name without the owner.
	Name string `json:"name" validate:"required"`

	// ID is the numeric repository id, if known.
	ID int64 `json:"id,omitempty"`
}

// FullName returns "owner/name".
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// RepoConfig is the effective per-repository configuration, resolved once per event.
type RepoConfig struct {
	// Workspace is the deployment console workspace used for dashboard links.
	Workspace string `json:"sstWorkspace" yaml:"sstWorkspace" validate:"required"`

	// DefaultBranch is the ref used to dispatch teardown workflows.
	DefaultBranch string `json:"defaultBranch" yaml:"defaultBranch" validate:"required"`

	// WorkflowID is the workflow file name or id to dispatch.
	WorkflowID string `json:"workflowId" yaml:"workflowId" validate:"required"`

	// BranchMappings maps a pushed branch name to its static stage.
	BranchMappings map[string]string `json:"branchMappings" yaml:"branchMappings" validate:"dive,keys,required,endkeys,required"`
}

// StageFor returns the static stage mapped to branch.
func (c *RepoConfig) StageFor(branch string) (Stage, bool) {
	stage, ok := c.BranchMappings[branch]
	if !ok || stage == "" {
		return "", false
	}
	return Stage(stage), true
}

// IsStaticStage reports whether stage is the target of some branch mapping.
func (c *RepoConfig) IsStaticStage(stage Stage) bool {
	for _, mapped := range c.BranchMappings {
		if mapped != "" && Stage(mapped) == stage {
			return true
		}
	}
	return false
}

// Comment is an issue comment on a pull request.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	AppID     int64     `json:"app_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckRun is a check run attached to a commit.
type CheckRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	HeadSHA    string    `json:"head_sha"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion,omitempty"`
	AppID      int64     `json:"app_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Check run status values reported by the control plane.
const (
	CheckRunStatusQueued     = "queued"
	CheckRunStatusInProgress = "in_progress"
	CheckRunStatusCompleted  = "completed"
)

// Deployment is a deployment record for an environment.
type Deployment struct {
	ID          int64     `json:"id"`
	Environment string    `json:"environment"`
	SHA         string    `json:"sha"`
	Ref         string    `json:"ref"`
	CreatedAt   time.Time `json:"created_at"`
}

// CheckRunSpec describes a check run to create.
type CheckRunSpec struct {
	Name    string `json:"name"`
	HeadSHA string `json:"head_sha"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// CheckRunCompletion describes how to complete a check run.
type CheckRunCompletion struct {
	Name       string     `json:"name"`
	Conclusion Conclusion `json:"conclusion"`
	Title      string     `json:"title"`
	Summary    string     `json:"summary"`
	DetailsURL string     `json:"details_url,omitempty"`
}

// Workflow actions passed to the dispatched workflow.
const (
	WorkflowActionDeploy = "deploy"
	WorkflowActionRemove = "remove"
)

// WorkflowDispatch describes a workflow_dispatch call.
type WorkflowDispatch struct {
	WorkflowID string `json:"workflow_id"`
	Ref        string `json:"ref"`
	Stage      Stage  `json:"stage"`
	Action     string `json:"action"`
}

// Inputs returns the workflow inputs payload.
func (d WorkflowDispatch) Inputs() map[string]interface{} {
	return map[string]interface{}{
		"stage":  string(d.Stage),
		"action": d.Action,
	}
}

// Action is a single ordered side effect in a plan.
type Action struct {
	// ID is the unique identifier for this action.
	ID string `json:"id"`

	// Operation is the side effect to apply.
	Operation OperationType `json:"operation"`

	// Policy decides what happens when the action fails.
	Policy FailurePolicy `json:"policy"`

	// IgnoreNotFound treats a not-found failure as success.
	IgnoreNotFound bool `json:"ignore_not_found,omitempty"`

	IssueNumber int    `json:"issue_number,omitempty"`
	CommentID   int64  `json:"comment_id,omitempty"`
	Body        string `json:"body,omitempty"`
	Environment string `json:"environment,omitempty"`
	CheckRunID  int64  `json:"check_run_id,omitempty"`

	CheckRun   *CheckRunSpec       `json:"check_run,omitempty"`
	Completion *CheckRunCompletion `json:"completion,omitempty"`
	Dispatch   *WorkflowDispatch   `json:"dispatch,omitempty"`
}

// Target returns a short description of the object the action touches.
func (a *Action) Target() string {
	switch a.Operation {
	case OperationCommentCreate:
		return fmt.Sprintf("issue#%d", a.IssueNumber)
	case OperationCommentUpdate:
		return fmt.Sprintf("comment#%d", a.CommentID)
	case OperationEnvironmentUpsert, OperationEnvironmentDelete:
		return "environment/" + a.Environment
	case OperationCheckRunCreate:
		if a.CheckRun != nil {
			return "check_run@" + a.CheckRun.HeadSHA
		}
	case OperationCheckRunComplete:
		return fmt.Sprintf("check_run#%d", a.CheckRunID)
	case OperationWorkflowDispatch:
		if a.Dispatch != nil {
			return a.Dispatch.WorkflowID + "@" + a.Dispatch.Ref
		}
	}
	return string(a.Operation)
}

// Plan is the ordered list of actions computed for one event.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Event is the event kind the plan was computed for.
	Event EventKind `json:"event"`

	// Repository is the repository the actions apply to.
	Repository Repository `json:"repository"`

	// Stage is the stage the event resolved to, if any.
	Stage Stage `json:"stage,omitempty"`

	// Actions are applied strictly in order.
	Actions []Action `json:"actions"`

	// Compensation completes a check run created earlier in the same plan
	// when a later action aborts the plan.
	Compensation *CheckRunCompletion `json:"compensation,omitempty"`

	// Reason explains why the plan is empty.
	Reason string `json:"reason,omitempty"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`
}

// IsEmpty returns true if the plan has nothing to apply.
func (p *Plan) IsEmpty() bool {
	return len(p.Actions) == 0
}

// ActionResult records the outcome of applying one action.
type ActionResult struct {
	ActionID    string        `json:"action_id"`
	Operation   OperationType `json:"operation"`
	Target      string        `json:"target"`
	Status      ActionStatus  `json:"status"`
	CreatedID   int64         `json:"created_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorClass  string        `json:"error_class,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// RunSummary counts action outcomes for a run.
type RunSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Ignored   int `json:"ignored"`
	Skipped   int `json:"skipped"`
}

// Run is one application of a plan.
type Run struct {
	ID          string         `json:"id"`
	PlanID      string         `json:"plan_id"`
	DeliveryID  string         `json:"delivery_id,omitempty"`
	Event       EventKind      `json:"event"`
	Repository  Repository     `json:"repository"`
	Stage       Stage          `json:"stage,omitempty"`
	Status      RunStatus      `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	Results     []ActionResult `json:"results"`
	Summary     RunSummary     `json:"summary"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`

	// Err joins every surfaced action failure. Nil when the run needs no redelivery.
	Err error `json:"-"`
}

// Retryable reports whether redelivering the event could change the outcome.
func (r *Run) Retryable() bool {
	return r.Err != nil && IsRetryable(r.Err)
}

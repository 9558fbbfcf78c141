package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Observation is the remote state read before planning. Fields are nil
// when the object was not looked up or does not exist.
type Observation struct {
	Comment    *Comment    `json:"comment,omitempty"`
	CheckRun   *CheckRun   `json:"check_run,omitempty"`
	Deployment *Deployment `json:"deployment,omitempty"`
	Outputs    *Outputs    `json:"outputs,omitempty"`
}

// Check run copy shared by every plan.
const (
	titleInProgress = "Deployment in Progress"
	titleSucceeded  = "Deployment Successful"
	titleFailed     = "Deployment Failed"
)

// Planner turns an event, its effective config and the observed remote
// state into an ordered plan. Planning performs no I/O.
type Planner struct {
	renderer Renderer
	now      func() time.Time
	newID    func() string
}

// NewPlanner creates a planner that renders comment bodies with renderer.
func NewPlanner(renderer Renderer) *Planner {
	return &Planner{
		renderer: renderer,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Plan computes the plan for event. It never fails: events that require no
// work produce an empty plan with a Reason.
func (p *Planner) Plan(event *Event, cfg *RepoConfig, obs Observation) *Plan {
	plan := &Plan{
		ID:         p.newID(),
		Event:      event.Kind,
		Repository: event.Repository,
		CreatedAt:  p.now(),
	}

	switch event.Kind {
	case EventPullRequestOpened, EventPullRequestSynchronize:
		p.planPullRequestDeploy(plan, event.PullRequest, cfg, obs)
	case EventDeploymentStatusCreated:
		p.planDeploymentStatus(plan, event.DeploymentStatus, cfg, obs)
	case EventPullRequestClosed:
		p.planPullRequestClosed(plan, event.PullRequest, cfg, obs)
	case EventPush:
		p.planPush(plan, event.Push, cfg)
	default:
		plan.Reason = fmt.Sprintf("unsupported event %s", event.Kind)
	}

	return plan
}

func (p *Planner) planPullRequestDeploy(plan *Plan, pr *PullRequestEvent, cfg *RepoConfig, obs Observation) {
	stage := EphemeralStage(pr.Number)
	plan.Stage = stage

	body := p.renderer.Started(cfg.Workspace, string(stage))
	if obs.Comment != nil {
		p.add(plan, Action{
			Operation: OperationCommentUpdate,
			Policy:    FailureAbort,
			CommentID: obs.Comment.ID,
			Body:      body,
		})
	} else {
		p.add(plan, Action{
			Operation:   OperationCommentCreate,
			Policy:      FailureAbort,
			IssueNumber: pr.Number,
			Body:        body,
		})
	}

	p.add(plan, Action{
		Operation:   OperationEnvironmentUpsert,
		Policy:      FailureAbort,
		Environment: string(stage),
	})

	p.add(plan, Action{
		Operation: OperationCheckRunCreate,
		Policy:    FailureAbort,
		CheckRun: &CheckRunSpec{
			Name:    stage.CheckRunName(),
			HeadSHA: pr.HeadSHA,
			Title:   titleInProgress,
			Summary: fmt.Sprintf("Deployment to **%s** is in progress.", stage),
		},
	})

	p.add(plan, Action{
		Operation: OperationWorkflowDispatch,
		Policy:    FailureAbort,
		Dispatch: &WorkflowDispatch{
			WorkflowID: cfg.WorkflowID,
			Ref:        pr.HeadRef,
			Stage:      stage,
			Action:     WorkflowActionDeploy,
		},
	})

	plan.Compensation = &CheckRunCompletion{
		Name:       stage.CheckRunName(),
		Conclusion: ConclusionFailure,
		Title:      stage.CheckRunName(),
		Summary:    fmt.Sprintf("Deployment to **%s** could not be started.", stage),
	}
}

func (p *Planner) planDeploymentStatus(plan *Plan, ds *DeploymentStatusEvent, cfg *RepoConfig, obs Observation) {
	stage := Stage(ds.Environment)
	plan.Stage = stage

	conclusion, ok := conclusionFor(ds.State)
	if !ok {
		plan.Reason = fmt.Sprintf("deployment state %q is not terminal", ds.State)
		return
	}

	static := cfg.IsStaticStage(stage)
	if !static && !stage.IsEphemeral() {
		plan.Reason = fmt.Sprintf("stage %q is neither mapped nor ephemeral", stage)
		return
	}

	if obs.CheckRun == nil {
		plan.Reason = fmt.Sprintf("no in-progress check run for %s", ds.SHA)
		return
	}

	completion := &CheckRunCompletion{
		Name:       obs.CheckRun.Name,
		Conclusion: conclusion,
		DetailsURL: ds.LogURL,
	}
	if completion.Name == "" {
		completion.Name = stage.CheckRunName()
	}
	if conclusion == ConclusionSuccess {
		completion.Title = titleSucceeded
		completion.Summary = fmt.Sprintf("Deployment to **%s** was successful.", stage)
	} else {
		completion.Title = titleFailed
		completion.Summary = fmt.Sprintf("Deployment to **%s** failed.", stage)
	}

	// Static stages take precedence and never touch a comment.
	if static {
		p.add(plan, Action{
			Operation:  OperationCheckRunComplete,
			Policy:     FailureAbort,
			CheckRunID: obs.CheckRun.ID,
			Completion: completion,
		})
		return
	}

	if obs.Comment == nil {
		plan.Reason = fmt.Sprintf("no status comment for %s", stage)
		return
	}

	var body string
	if conclusion == ConclusionSuccess {
		urls, degraded := map[string]string{}, false
		if obs.Outputs != nil {
			if obs.Outputs.URLs != nil {
				urls = obs.Outputs.URLs
			}
			degraded = obs.Outputs.Degraded
		}
		body = p.renderer.Success(string(stage), urls, degraded)
	} else {
		body = p.renderer.Failure(cfg.Workspace, string(stage), ds.LogURL)
	}

	p.add(plan, Action{
		Operation:  OperationCheckRunComplete,
		Policy:     FailureAbort,
		CheckRunID: obs.CheckRun.ID,
		Completion: completion,
	})
	p.add(plan, Action{
		Operation: OperationCommentUpdate,
		Policy:    FailureAbort,
		CommentID: obs.Comment.ID,
		Body:      body,
	})
}

func (p *Planner) planPullRequestClosed(plan *Plan, pr *PullRequestEvent, cfg *RepoConfig, obs Observation) {
	stage := EphemeralStage(pr.Number)
	plan.Stage = stage

	if obs.Deployment == nil {
		plan.Reason = fmt.Sprintf("no deployment exists for %s", stage)
		return
	}

	p.add(plan, Action{
		Operation:      OperationEnvironmentDelete,
		Policy:         FailureContinue,
		IgnoreNotFound: true,
		Environment:    string(stage),
	})
	p.add(plan, Action{
		Operation: OperationWorkflowDispatch,
		Policy:    FailureIgnore,
		Dispatch: &WorkflowDispatch{
			WorkflowID: cfg.WorkflowID,
			Ref:        cfg.DefaultBranch,
			Stage:      stage,
			Action:     WorkflowActionRemove,
		},
	})
}

func (p *Planner) planPush(plan *Plan, push *PushEvent, cfg *RepoConfig) {
	branch := push.Branch()
	stage, ok := cfg.StageFor(branch)
	if !ok {
		plan.Reason = fmt.Sprintf("branch %q has no stage mapping", branch)
		return
	}
	plan.Stage = stage

	p.add(plan, Action{
		Operation: OperationWorkflowDispatch,
		Policy:    FailureAbort,
		Dispatch: &WorkflowDispatch{
			WorkflowID: cfg.WorkflowID,
			Ref:        push.Ref,
			Stage:      stage,
			Action:     WorkflowActionDeploy,
		},
	})
	p.add(plan, Action{
		Operation: OperationCheckRunCreate,
		Policy:    FailureAbort,
		CheckRun: &CheckRunSpec{
			Name:    stage.CheckRunName(),
			HeadSHA: push.After,
			Title:   titleInProgress,
			Summary: fmt.Sprintf("Deployment to **%s** is in progress.", stage),
		},
	})
}

func (p *Planner) add(plan *Plan, action Action) {
	action.ID = p.newID()
	plan.Actions = append(plan.Actions, action)
}

func conclusionFor(state string) (Conclusion, bool) {
	switch state {
	case "success":
		return ConclusionSuccess, true
	case "failure":
		return ConclusionFailure, true
	default:
		return "", false
	}
}

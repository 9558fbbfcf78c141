package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/telemetry"
)

// Executor applies plans against a control plane, one action at a time.
// Actions are never retried; redelivery of the event is the retry path.
type Executor struct {
	cp     ControlPlane
	logger zerolog.Logger
	now    func() time.Time
}

// NewExecutor creates an executor bound to cp.
func NewExecutor(cp ControlPlane, logger zerolog.Logger) *Executor {
	return &Executor{
		cp:     cp,
		logger: logger,
		now:    time.Now,
	}
}

// Apply executes plan in order and returns the run record.
func (e *Executor) Apply(ctx context.Context, plan *Plan) *Run {
	run := &Run{
		ID:         uuid.New().String(),
		PlanID:     plan.ID,
		Event:      plan.Event,
		Repository: plan.Repository,
		Stage:      plan.Stage,
		Status:     RunStatusRunning,
		Reason:     plan.Reason,
		Results:    make([]ActionResult, 0, len(plan.Actions)),
		StartedAt:  e.now(),
		Summary:    RunSummary{Total: len(plan.Actions)},
	}

	if plan.IsEmpty() {
		run.Status = RunStatusSkipped
		run.CompletedAt = e.now()
		return run
	}

	runLog := telemetry.LoggerFrom(ctx, e.logger).With().Str("run_id", run.ID).Logger()
	ctx = runLog.WithContext(ctx)
	log := runLog.With().Str("component", "executor").Logger()

	var (
		surfaced        []error
		aborted         bool
		createdCheckRun int64
	)

	for i := range plan.Actions {
		action := &plan.Actions[i]

		if aborted {
			run.Results = append(run.Results, ActionResult{
				ActionID:  action.ID,
				Operation: action.Operation,
				Target:    action.Target(),
				Status:    ActionStatusSkipped,
			})
			continue
		}

		result, err := e.executeAction(ctx, plan, action)
		if err == nil && action.Operation == OperationCheckRunCreate && result.CreatedID != 0 {
			createdCheckRun = result.CreatedID
		}

		if err != nil {
			policy := action.Policy
			if policy == "" {
				policy = FailureAbort
			}
			switch policy {
			case FailureIgnore:
				result.Status = ActionStatusIgnored
				log.Warn().
					Err(err).
					Str("action_id", action.ID).
					Str("action", string(action.Operation)).
					Str("target", action.Target()).
					Msg("Action failed, ignoring")
			case FailureContinue:
				surfaced = append(surfaced, err)
				log.Error().
					Err(err).
					Str("action_id", action.ID).
					Str("action", string(action.Operation)).
					Str("target", action.Target()).
					Msg("Action failed, continuing with remaining actions")
			default:
				surfaced = append(surfaced, err)
				aborted = true
				log.Error().
					Err(err).
					Str("action_id", action.ID).
					Str("action", string(action.Operation)).
					Str("target", action.Target()).
					Msg("Action failed, aborting plan")
			}
		}

		run.Results = append(run.Results, result)
	}

	if aborted && plan.Compensation != nil && createdCheckRun != 0 {
		if err := e.compensate(ctx, &log, plan, createdCheckRun); err != nil {
			surfaced = append(surfaced, err)
		}
	}

	run.Summary = summarize(run.Results)
	run.CompletedAt = e.now()
	switch {
	case aborted:
		run.Status = RunStatusFailed
	case len(surfaced) > 0:
		run.Status = RunStatusPartial
	default:
		run.Status = RunStatusSucceeded
	}
	run.Err = errors.Join(surfaced...)

	return run
}

// executeAction applies a single action and records its result.
func (e *Executor) executeAction(ctx context.Context, plan *Plan, action *Action) (ActionResult, error) {
	result := ActionResult{
		ActionID:  action.ID,
		Operation: action.Operation,
		Target:    action.Target(),
		Status:    ActionStatusPending,
		StartedAt: e.now(),
	}

	actionCtx := telemetry.WithActionContext(ctx, action.ID, string(action.Operation), result.Target)
	log := telemetry.LoggerFrom(actionCtx, e.logger).With().Str("component", "executor").Logger()

	createdID, err := e.dispatch(actionCtx, plan.Repository, action)
	if err != nil && action.IgnoreNotFound && IsNotFound(err) {
		log.Info().Msg("Target already absent")
		err = nil
	}

	result.CompletedAt = e.now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	if err != nil {
		err = classifyError(err, action)
		result.Status = ActionStatusFailed
		result.Error = err.Error()
		result.ErrorClass = ErrorClassOf(err)
		telemetry.EndActionContext(actionCtx, string(action.Operation), string(result.Status),
			result.ErrorClass, ErrorCodeOf(err), err)
		return result, err
	}

	result.Status = ActionStatusSucceeded
	result.CreatedID = createdID
	telemetry.EndActionContext(actionCtx, string(action.Operation), string(result.Status), "", "", nil)

	log.Debug().Dur("duration", result.Duration).Msg("Action applied")

	return result, nil
}

// dispatch routes an action to the matching control plane call.
func (e *Executor) dispatch(ctx context.Context, repo Repository, action *Action) (int64, error) {
	switch action.Operation {
	case OperationCommentCreate:
		c, err := e.cp.CreateIssueComment(ctx, repo, action.IssueNumber, action.Body)
		if err != nil {
			return 0, err
		}
		return c.ID, nil

	case OperationCommentUpdate:
		return 0, e.cp.UpdateIssueComment(ctx, repo, action.CommentID, action.Body)

	case OperationEnvironmentUpsert:
		return 0, e.cp.UpsertEnvironment(ctx, repo, action.Environment)

	case OperationEnvironmentDelete:
		return 0, e.cp.DeleteEnvironment(ctx, repo, action.Environment)

	case OperationCheckRunCreate:
		if action.CheckRun == nil {
			return 0, NewPermanentError("check run spec missing", nil).WithCode(ErrCodeValidation)
		}
		cr, err := e.cp.CreateCheckRun(ctx, repo, *action.CheckRun)
		if err != nil {
			return 0, err
		}
		return cr.ID, nil

	case OperationCheckRunComplete:
		if action.Completion == nil {
			return 0, NewPermanentError("check run completion missing", nil).WithCode(ErrCodeValidation)
		}
		return 0, e.cp.CompleteCheckRun(ctx, repo, action.CheckRunID, *action.Completion)

	case OperationWorkflowDispatch:
		if action.Dispatch == nil {
			return 0, NewPermanentError("workflow dispatch missing", nil).WithCode(ErrCodeValidation)
		}
		return 0, e.cp.DispatchWorkflow(ctx, repo, *action.Dispatch)

	default:
		return 0, NewPermanentError(fmt.Sprintf("unknown operation %q", action.Operation), nil).
			WithCode(ErrCodeValidation)
	}
}

// compensate completes the check run created earlier in an aborted plan.
func (e *Executor) compensate(ctx context.Context, log *zerolog.Logger, plan *Plan, checkRunID int64) error {
	log.Warn().
		Int64("check_run_id", checkRunID).
		Msg("Marking check run as failed after aborted plan")

	if err := e.cp.CompleteCheckRun(ctx, plan.Repository, checkRunID, *plan.Compensation); err != nil {
		log.Error().
			Err(err).
			Int64("check_run_id", checkRunID).
			Msg("Failed to mark check run as failed")
		return fmt.Errorf("failed to complete check run %d after abort: %w", checkRunID, err)
	}
	return nil
}

// classifyError ensures every action failure carries a classification and
// the operation it came from.
func classifyError(err error, action *Action) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		if ee.Operation == "" {
			ee.Operation = string(action.Operation)
		}
		if ee.Resource == "" {
			ee.Resource = action.Target()
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError("action interrupted", err).
			WithCode(ErrCodeTimeout).
			WithOperation(string(action.Operation)).
			WithResource(action.Target())
	}
	return NewTransientError("action failed", err).
		WithCode(ErrCodeUpstreamFailed).
		WithOperation(string(action.Operation)).
		WithResource(action.Target())
}

func summarize(results []ActionResult) RunSummary {
	summary := RunSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case ActionStatusSucceeded:
			summary.Succeeded++
		case ActionStatusFailed:
			summary.Failed++
		case ActionStatusIgnored:
			summary.Ignored++
		case ActionStatusSkipped:
			summary.Skipped++
		}
	}
	return summary
}

package engine

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BoardAI/catalysst/pkg/telemetry"
)

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	// AppID identifies objects authored by this app. It is fixed for the
	// lifetime of the reconciler.
	AppID int64 `validate:"gt=0"`

	// Resolver produces the effective repository configuration.
	Resolver ConfigResolver `validate:"required"`

	// Renderer renders status comment bodies.
	Renderer Renderer `validate:"required"`

	// Logger is used when the context carries no logger.
	Logger zerolog.Logger `validate:"-"`
}

// Reconciler maps one event plus the current remote state into a plan and
// applies it. It holds no state between events.
type Reconciler struct {
	appID    int64
	resolver ConfigResolver
	planner  *Planner
	logger   zerolog.Logger
}

// NewReconciler creates a reconciler from opts.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if err := validator.New().Struct(opts); err != nil {
		return nil, NewPermanentError("invalid reconciler options", err).WithCode(ErrCodeValidation)
	}

	return &Reconciler{
		appID:    opts.AppID,
		resolver: opts.Resolver,
		planner:  NewPlanner(opts.Renderer),
		logger:   opts.Logger,
	}, nil
}

// Reconcile handles one event. The returned error covers failures before any
// mutation (invalid event, config or observation failures). Failures while
// applying the plan are reported through Run.Err.
func (r *Reconciler) Reconcile(ctx context.Context, cp ControlPlane, event *Event) (*Run, error) {
	op := telemetry.StartOperation(ctx, "reconcile."+string(event.Kind),
		telemetry.AttrDeliveryID.String(event.DeliveryID),
		telemetry.AttrEvent.String(string(event.Kind)),
		telemetry.AttrRepository.String(event.Repository.FullName()),
	)
	ctx = r.withRepoLogger(op.Ctx, event)

	var plan *Plan
	err := event.Validate()
	if err == nil {
		plan, err = r.preview(ctx, cp, event)
	}
	if err != nil {
		op.End(err)
		telemetry.RecordReconcile(ctx, string(event.Kind), string(RunStatusFailed), op.Timer.Duration())
		return nil, err
	}

	if op.Span != nil {
		op.Span.SetAttributes(
			telemetry.AttrStage.String(string(plan.Stage)),
			telemetry.AttrPlanID.String(plan.ID),
			attribute.Int("actions", len(plan.Actions)),
		)
	}

	planLog := telemetry.LoggerFrom(ctx, r.logger).With().
		Str("stage", string(plan.Stage)).
		Str("plan_id", plan.ID).
		Logger()
	ctx = planLog.WithContext(ctx)
	log := planLog.With().Str("component", "reconciler").Logger()

	if plan.IsEmpty() {
		log.Info().Str("reason", plan.Reason).Msg("Nothing to reconcile")
	} else {
		log.Info().Int("actions", len(plan.Actions)).Msg("Applying plan")
	}

	run := NewExecutor(cp, r.logger).Apply(ctx, plan)
	run.DeliveryID = event.DeliveryID

	if op.Span != nil {
		op.Span.SetAttributes(
			telemetry.AttrRunID.String(run.ID),
			telemetry.AttrRunStatus.String(string(run.Status)),
		)
	}
	op.End(run.Err)
	telemetry.RecordReconcile(ctx, string(event.Kind), string(run.Status), op.Timer.Duration())

	ev := log.Info()
	if run.Err != nil {
		ev = log.Error().Err(run.Err).Bool("retryable", run.Retryable())
	}
	ev.Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("succeeded", run.Summary.Succeeded).
		Int("failed", run.Summary.Failed).
		Int("skipped", run.Summary.Skipped).
		Msg("Reconciliation finished")

	return run, nil
}

// Preview resolves config, observes remote state and computes the plan for
// event without applying it.
func (r *Reconciler) Preview(ctx context.Context, cp ControlPlane, event *Event) (*Plan, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return r.preview(r.withRepoLogger(ctx, event), cp, event)
}

func (r *Reconciler) preview(ctx context.Context, cp ControlPlane, event *Event) (*Plan, error) {
	cfg, err := r.resolver.Resolve(ctx, cp, event.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config for %s: %w", event.Repository.FullName(), err)
	}

	obs, err := r.observe(ctx, cp, event, cfg)
	if err != nil {
		return nil, err
	}

	return r.planner.Plan(event, cfg, obs), nil
}

// withRepoLogger adds the event's repository to the context logger.
func (r *Reconciler) withRepoLogger(ctx context.Context, event *Event) context.Context {
	logger := telemetry.LoggerFrom(ctx, r.logger).With().
		Str("repo", event.Repository.FullName()).
		Logger()
	return logger.WithContext(ctx)
}

// observe reads only the remote state the event's plan depends on.
func (r *Reconciler) observe(ctx context.Context, cp ControlPlane, event *Event, cfg *RepoConfig) (Observation, error) {
	var obs Observation
	locator := NewLocator(cp, r.appID, r.logger)
	repo := event.Repository

	switch event.Kind {
	case EventPullRequestOpened, EventPullRequestSynchronize:
		comment, err := locator.FindStatusComment(ctx, repo, event.PullRequest.Number)
		if err != nil {
			return obs, err
		}
		obs.Comment = comment

	case EventPullRequestClosed:
		stage := EphemeralStage(event.PullRequest.Number)
		deployment, err := locator.LatestDeployment(ctx, repo, string(stage))
		if err != nil {
			return obs, err
		}
		obs.Deployment = deployment

	case EventDeploymentStatusCreated:
		ds := event.DeploymentStatus
		if _, ok := conclusionFor(ds.State); !ok {
			return obs, nil
		}
		stage := Stage(ds.Environment)
		static := cfg.IsStaticStage(stage)
		number, ephemeral := stage.PRNumber()
		if !static && !ephemeral {
			return obs, nil
		}

		checkRun, err := locator.FindInProgressCheckRun(ctx, repo, ds.SHA)
		if err != nil {
			return obs, err
		}
		obs.CheckRun = checkRun
		if static || checkRun == nil {
			return obs, nil
		}

		comment, err := locator.FindStatusComment(ctx, repo, number)
		if err != nil {
			return obs, err
		}
		obs.Comment = comment
		if comment == nil || ds.State != "success" {
			return obs, nil
		}

		outputs, err := locator.FetchOutputs(ctx, repo, stage)
		if err != nil {
			return obs, err
		}
		obs.Outputs = outputs
	}

	return obs, nil
}

package engine

import (
	"context"
)

// ControlPlane is the installation-scoped source-control API the reconciler
// observes and mutates. Implementations translate transport failures into
// EngineError values; absence of a remote object must carry ErrCodeNotFound.
type ControlPlane interface {
	// ListIssueComments returns the first page (up to 100) of comments on a pull request.
	ListIssueComments(ctx context.Context, repo Repository, number int) ([]Comment, error)

	// CreateIssueComment posts a new comment and returns it.
	CreateIssueComment(ctx context.Context, repo Repository, number int, body string) (*Comment, error)

	// UpdateIssueComment overwrites the body of an existing comment.
	UpdateIssueComment(ctx context.Context, repo Repository, commentID int64, body string) error

	// ListCheckRuns returns the first page (up to 100) of check runs for a
	// commit, filtered server-side to those created by appID.
	ListCheckRuns(ctx context.Context, repo Repository, sha string, appID int64) ([]CheckRun, error)

	// CreateCheckRun creates an in-progress check run and returns it.
	CreateCheckRun(ctx context.Context, repo Repository, spec CheckRunSpec) (*CheckRun, error)

	// CompleteCheckRun marks a check run completed.
	CompleteCheckRun(ctx context.Context, repo Repository, checkRunID int64, completion CheckRunCompletion) error

	// UpsertEnvironment creates or updates a deployment environment.
	UpsertEnvironment(ctx context.Context, repo Repository, name string) error

	// DeleteEnvironment deletes a deployment environment.
	DeleteEnvironment(ctx context.Context, repo Repository, name string) error

	// ListDeployments returns the first page of deployments for an environment, newest first.
	ListDeployments(ctx context.Context, repo Repository, environment string) ([]Deployment, error)

	// DispatchWorkflow triggers a workflow_dispatch event.
	DispatchWorkflow(ctx context.Context, repo Repository, dispatch WorkflowDispatch) error

	// GetEnvironmentVariable reads a variable defined on an environment.
	GetEnvironmentVariable(ctx context.Context, repo Repository, environment, name string) (string, error)

	// GetFileContent reads a file from the repository's default branch.
	GetFileContent(ctx context.Context, repo Repository, path string) ([]byte, error)
}

// FileSource reads repository files by path.
type FileSource interface {
	GetFileContent(ctx context.Context, repo Repository, path string) ([]byte, error)
}

// ConfigResolver produces the effective configuration for a repository.
type ConfigResolver interface {
	Resolve(ctx context.Context, source FileSource, repo Repository) (*RepoConfig, error)
}

// Renderer produces status comment bodies. Implementations must be pure
// apart from reading the clock.
type Renderer interface {
	// Started renders the comment posted when a deployment is triggered.
	// workspace selects the console dashboard that is linked.
	Started(workspace, stage string) string

	// Success renders one row per output; an empty URL means the output is
	// absent. degraded notes that the published outputs could not be read.
	Success(stage string, urls map[string]string, degraded bool) string

	// Failure renders a comment linking to the workflow logs.
	Failure(workspace, stage, logsURL string) string
}

// ControlPlaneFactory returns a ControlPlane scoped to a source-control installation.
type ControlPlaneFactory interface {
	ForInstallation(ctx context.Context, installationID int64) (ControlPlane, error)
}

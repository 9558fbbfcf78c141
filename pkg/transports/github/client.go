// Package github implements the engine's control plane on the GitHub REST API
// and authenticates as a GitHub App installation.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/engine"
)

// pageSize is the number of items requested from list endpoints. Only the
// first page is ever read.
const pageSize = 100

// Client is an installation-scoped engine.ControlPlane.
type Client struct {
	api    *gh.Client
	logger zerolog.Logger
	now    func() time.Time

	// onUnauthorized runs when the API rejects the token with 401.
	onUnauthorized func()
}

var _ engine.ControlPlane = (*Client)(nil)

// NewClient wraps an authenticated go-github client.
func NewClient(api *gh.Client, logger zerolog.Logger) *Client {
	return &Client{
		api:    api,
		logger: logger.With().Str("component", "github-client").Logger(),
		now:    time.Now,
	}
}

// newAPIClient builds a go-github client rooted at baseURL.
func newAPIClient(httpClient *http.Client, baseURL string) (*gh.Client, error) {
	client := gh.NewClient(httpClient)
	if baseURL == "" {
		return client, nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	client.BaseURL = u
	return client, nil
}

// call runs fn, records its metrics, and classifies its error.
func (c *Client) call(ctx context.Context, method, resource string, fn func() (*gh.Response, error)) error {
	start := time.Now()
	resp, err := fn()
	recordAPICall(ctx, method, resp, start)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		cerr := classifyError(method, resource, resp, err)
		c.logger.Debug().
			Err(cerr).
			Str("method", method).
			Str("resource", resource).
			Dur("duration", time.Since(start)).
			Msg("GitHub API call failed")
		return cerr
	}
	return nil
}

// issueComment mirrors the REST shape including performed_via_github_app,
// which go-github's IssueComment does not expose.
type issueComment struct {
	ID                    int64     `json:"id"`
	Body                  string    `json:"body"`
	CreatedAt             time.Time `json:"created_at"`
	PerformedViaGithubApp *struct {
		ID int64 `json:"id"`
	} `json:"performed_via_github_app"`
}

func (ic issueComment) toComment() engine.Comment {
	comment := engine.Comment{
		ID:        ic.ID,
		Body:      ic.Body,
		CreatedAt: ic.CreatedAt,
	}
	if ic.PerformedViaGithubApp != nil {
		comment.AppID = ic.PerformedViaGithubApp.ID
	}
	return comment
}

func (c *Client) ListIssueComments(ctx context.Context, repo engine.Repository, number int) ([]engine.Comment, error) {
	u := fmt.Sprintf("repos/%s/%s/issues/%d/comments?per_page=%d", repo.Owner, repo.Name, number, pageSize)

	var raw []issueComment
	err := c.call(ctx, "ListIssueComments", issueResource(repo, number), func() (*gh.Response, error) {
		req, err := c.api.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		return c.api.Do(ctx, req, &raw)
	})
	if err != nil {
		return nil, err
	}

	comments := make([]engine.Comment, 0, len(raw))
	for _, ic := range raw {
		comments = append(comments, ic.toComment())
	}
	return comments, nil
}

func (c *Client) CreateIssueComment(ctx context.Context, repo engine.Repository, number int, body string) (*engine.Comment, error) {
	u := fmt.Sprintf("repos/%s/%s/issues/%d/comments", repo.Owner, repo.Name, number)

	var created issueComment
	err := c.call(ctx, "CreateIssueComment", issueResource(repo, number), func() (*gh.Response, error) {
		req, err := c.api.NewRequest(http.MethodPost, u, &gh.IssueComment{Body: gh.String(body)})
		if err != nil {
			return nil, err
		}
		return c.api.Do(ctx, req, &created)
	})
	if err != nil {
		return nil, err
	}

	comment := created.toComment()
	return &comment, nil
}

func (c *Client) UpdateIssueComment(ctx context.Context, repo engine.Repository, commentID int64, body string) error {
	resource := fmt.Sprintf("%s/comments/%d", repo.FullName(), commentID)
	return c.call(ctx, "UpdateIssueComment", resource, func() (*gh.Response, error) {
		_, resp, err := c.api.Issues.EditComment(ctx, repo.Owner, repo.Name, commentID, &gh.IssueComment{
			Body: gh.String(body),
		})
		return resp, err
	})
}

func (c *Client) ListCheckRuns(ctx context.Context, repo engine.Repository, sha string, appID int64) ([]engine.CheckRun, error) {
	opts := &gh.ListCheckRunsOptions{
		AppID:       gh.Int64(appID),
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}

	var result *gh.ListCheckRunsResults
	err := c.call(ctx, "ListCheckRuns", repo.FullName()+"@"+sha, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		result, resp, err = c.api.Checks.ListCheckRunsForRef(ctx, repo.Owner, repo.Name, sha, opts)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	runs := make([]engine.CheckRun, 0, len(result.CheckRuns))
	for _, run := range result.CheckRuns {
		runs = append(runs, toCheckRun(run))
	}
	return runs, nil
}

func toCheckRun(run *gh.CheckRun) engine.CheckRun {
	return engine.CheckRun{
		ID:         run.GetID(),
		Name:       run.GetName(),
		HeadSHA:    run.GetHeadSHA(),
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
		AppID:      run.GetApp().GetID(),
		StartedAt:  run.GetStartedAt().Time,
	}
}

func (c *Client) CreateCheckRun(ctx context.Context, repo engine.Repository, spec engine.CheckRunSpec) (*engine.CheckRun, error) {
	opts := gh.CreateCheckRunOptions{
		Name:      spec.Name,
		HeadSHA:   spec.HeadSHA,
		Status:    gh.String(engine.CheckRunStatusInProgress),
		StartedAt: &gh.Timestamp{Time: c.now()},
		Output: &gh.CheckRunOutput{
			Title:   gh.String(spec.Title),
			Summary: gh.String(spec.Summary),
		},
	}

	var created *gh.CheckRun
	err := c.call(ctx, "CreateCheckRun", repo.FullName()+"@"+spec.HeadSHA, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		created, resp, err = c.api.Checks.CreateCheckRun(ctx, repo.Owner, repo.Name, opts)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	run := toCheckRun(created)
	return &run, nil
}

func (c *Client) CompleteCheckRun(ctx context.Context, repo engine.Repository, checkRunID int64, completion engine.CheckRunCompletion) error {
	opts := gh.UpdateCheckRunOptions{
		Name:        completion.Name,
		Status:      gh.String(engine.CheckRunStatusCompleted),
		Conclusion:  gh.String(string(completion.Conclusion)),
		CompletedAt: &gh.Timestamp{Time: c.now()},
		Output: &gh.CheckRunOutput{
			Title:   gh.String(completion.Title),
			Summary: gh.String(completion.Summary),
		},
	}
	if completion.DetailsURL != "" {
		opts.DetailsURL = gh.String(completion.DetailsURL)
	}

	resource := fmt.Sprintf("%s/check-runs/%d", repo.FullName(), checkRunID)
	return c.call(ctx, "CompleteCheckRun", resource, func() (*gh.Response, error) {
		_, resp, err := c.api.Checks.UpdateCheckRun(ctx, repo.Owner, repo.Name, checkRunID, opts)
		return resp, err
	})
}

func (c *Client) UpsertEnvironment(ctx context.Context, repo engine.Repository, name string) error {
	return c.call(ctx, "UpsertEnvironment", environmentResource(repo, name), func() (*gh.Response, error) {
		_, resp, err := c.api.Repositories.CreateUpdateEnvironment(ctx, repo.Owner, repo.Name, name, nil)
		return resp, err
	})
}

func (c *Client) DeleteEnvironment(ctx context.Context, repo engine.Repository, name string) error {
	return c.call(ctx, "DeleteEnvironment", environmentResource(repo, name), func() (*gh.Response, error) {
		return c.api.Repositories.DeleteEnvironment(ctx, repo.Owner, repo.Name, name)
	})
}

func (c *Client) ListDeployments(ctx context.Context, repo engine.Repository, environment string) ([]engine.Deployment, error) {
	opts := &gh.DeploymentsListOptions{
		Environment: environment,
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}

	var raw []*gh.Deployment
	err := c.call(ctx, "ListDeployments", environmentResource(repo, environment), func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		raw, resp, err = c.api.Repositories.ListDeployments(ctx, repo.Owner, repo.Name, opts)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	deployments := make([]engine.Deployment, 0, len(raw))
	for _, d := range raw {
		deployments = append(deployments, engine.Deployment{
			ID:          d.GetID(),
			Environment: d.GetEnvironment(),
			SHA:         d.GetSHA(),
			Ref:         d.GetRef(),
			CreatedAt:   d.GetCreatedAt().Time,
		})
	}
	return deployments, nil
}

// DispatchWorkflow accepts either a numeric workflow id or a workflow file name.
func (c *Client) DispatchWorkflow(ctx context.Context, repo engine.Repository, dispatch engine.WorkflowDispatch) error {
	event := gh.CreateWorkflowDispatchEventRequest{
		Ref:    dispatch.Ref,
		Inputs: dispatch.Inputs(),
	}

	resource := fmt.Sprintf("%s/workflows/%s@%s", repo.FullName(), dispatch.WorkflowID, dispatch.Ref)
	return c.call(ctx, "DispatchWorkflow", resource, func() (*gh.Response, error) {
		if id, err := strconv.ParseInt(dispatch.WorkflowID, 10, 64); err == nil {
			return c.api.Actions.CreateWorkflowDispatchEventByID(ctx, repo.Owner, repo.Name, id, event)
		}
		return c.api.Actions.CreateWorkflowDispatchEventByFileName(ctx, repo.Owner, repo.Name, dispatch.WorkflowID, event)
	})
}

func (c *Client) GetEnvironmentVariable(ctx context.Context, repo engine.Repository, environment, name string) (string, error) {
	var variable *gh.ActionsVariable
	resource := environmentResource(repo, environment) + "/variables/" + name
	err := c.call(ctx, "GetEnvironmentVariable", resource, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		variable, resp, err = c.api.Actions.GetEnvVariable(ctx, repo.Owner, repo.Name, environment, name)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return variable.Value, nil
}

func (c *Client) GetFileContent(ctx context.Context, repo engine.Repository, path string) ([]byte, error) {
	var file *gh.RepositoryContent
	resource := repo.FullName() + ":" + path
	err := c.call(ctx, "GetFileContent", resource, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		file, _, resp, err = c.api.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, nil)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, engine.NewNotFoundError("path is a directory", nil).WithResource(resource)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, engine.NewPermanentError("failed to decode file content", err).
			WithCode(engine.ErrCodeMalformedConfig).
			WithResource(resource)
	}
	return []byte(content), nil
}

func issueResource(repo engine.Repository, number int) string {
	return fmt.Sprintf("%s#%d", repo.FullName(), number)
}

func environmentResource(repo engine.Repository, name string) string {
	return repo.FullName() + "/environments/" + name
}

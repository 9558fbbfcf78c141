package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeControlPlane is an in-memory ControlPlane that records every call.
type fakeControlPlane struct {
	mu sync.Mutex

	comments     map[int][]Comment
	checkRuns    map[string][]CheckRun
	environments map[string]bool
	deployments  map[string][]Deployment
	variables    map[string]map[string]string
	files        map[string][]byte
	dispatches   []WorkflowDispatch

	// errs makes the named method fail with the given error.
	errs map[string]error

	appID  int64
	nextID int64
	calls  []string
	clock  time.Time
}

func newFakeControlPlane(appID int64) *fakeControlPlane {
	return &fakeControlPlane{
		comments:     make(map[int][]Comment),
		checkRuns:    make(map[string][]CheckRun),
		environments: make(map[string]bool),
		deployments:  make(map[string][]Deployment),
		variables:    make(map[string]map[string]string),
		files:        make(map[string][]byte),
		errs:         make(map[string]error),
		appID:        appID,
		nextID:       1000,
		clock:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

var mutatingCalls = map[string]bool{
	"CreateIssueComment": true,
	"UpdateIssueComment": true,
	"CreateCheckRun":     true,
	"CompleteCheckRun":   true,
	"UpsertEnvironment":  true,
	"DeleteEnvironment":  true,
	"DispatchWorkflow":   true,
}

func (f *fakeControlPlane) record(name string) error {
	f.calls = append(f.calls, name)
	return f.errs[name]
}

func (f *fakeControlPlane) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeControlPlane) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeControlPlane) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if mutatingCalls[c] {
			n++
		}
	}
	return n
}

func (f *fakeControlPlane) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeControlPlane) addComment(number int, appID int64, body string) Comment {
	f.nextID++
	c := Comment{ID: f.nextID, Body: body, AppID: appID, CreatedAt: f.tick()}
	f.comments[number] = append(f.comments[number], c)
	return c
}

func (f *fakeControlPlane) addCheckRun(sha, name, status string, appID int64) CheckRun {
	f.nextID++
	cr := CheckRun{ID: f.nextID, Name: name, HeadSHA: sha, Status: status, AppID: appID, StartedAt: f.tick()}
	f.checkRuns[sha] = append(f.checkRuns[sha], cr)
	return cr
}

func (f *fakeControlPlane) addDeployment(environment, sha string) Deployment {
	f.nextID++
	d := Deployment{ID: f.nextID, Environment: environment, SHA: sha, CreatedAt: f.tick()}
	f.deployments[environment] = append([]Deployment{d}, f.deployments[environment]...)
	return d
}

func (f *fakeControlPlane) findComment(id int64) *Comment {
	for n := range f.comments {
		for i := range f.comments[n] {
			if f.comments[n][i].ID == id {
				return &f.comments[n][i]
			}
		}
	}
	return nil
}

func (f *fakeControlPlane) findCheckRun(id int64) *CheckRun {
	for sha := range f.checkRuns {
		for i := range f.checkRuns[sha] {
			if f.checkRuns[sha][i].ID == id {
				return &f.checkRuns[sha][i]
			}
		}
	}
	return nil
}

func (f *fakeControlPlane) ListIssueComments(ctx context.Context, repo Repository, number int) ([]Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListIssueComments"); err != nil {
		return nil, err
	}
	return append([]Comment(nil), f.comments[number]...), nil
}

func (f *fakeControlPlane) CreateIssueComment(ctx context.Context, repo Repository, number int, body string) (*Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateIssueComment"); err != nil {
		return nil, err
	}
	c := f.addComment(number, f.appID, body)
	return &c, nil
}

func (f *fakeControlPlane) UpdateIssueComment(ctx context.Context, repo Repository, commentID int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateIssueComment"); err != nil {
		return err
	}
	c := f.findComment(commentID)
	if c == nil {
		return NewNotFoundError("comment not found", nil)
	}
	c.Body = body
	return nil
}

func (f *fakeControlPlane) ListCheckRuns(ctx context.Context, repo Repository, sha string, appID int64) ([]CheckRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListCheckRuns"); err != nil {
		return nil, err
	}
	var out []CheckRun
	for _, cr := range f.checkRuns[sha] {
		if cr.AppID == appID {
			out = append(out, cr)
		}
	}
	return out, nil
}

func (f *fakeControlPlane) CreateCheckRun(ctx context.Context, repo Repository, spec CheckRunSpec) (*CheckRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateCheckRun"); err != nil {
		return nil, err
	}
	cr := f.addCheckRun(spec.HeadSHA, spec.Name, CheckRunStatusInProgress, f.appID)
	return &cr, nil
}

func (f *fakeControlPlane) CompleteCheckRun(ctx context.Context, repo Repository, checkRunID int64, completion CheckRunCompletion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CompleteCheckRun"); err != nil {
		return err
	}
	cr := f.findCheckRun(checkRunID)
	if cr == nil {
		return NewNotFoundError("check run not found", nil)
	}
	cr.Status = CheckRunStatusCompleted
	cr.Conclusion = string(completion.Conclusion)
	return nil
}

func (f *fakeControlPlane) UpsertEnvironment(ctx context.Context, repo Repository, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpsertEnvironment"); err != nil {
		return err
	}
	f.environments[name] = true
	return nil
}

func (f *fakeControlPlane) DeleteEnvironment(ctx context.Context, repo Repository, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteEnvironment"); err != nil {
		return err
	}
	if !f.environments[name] {
		return NewNotFoundError("environment not found", nil)
	}
	delete(f.environments, name)
	return nil
}

func (f *fakeControlPlane) ListDeployments(ctx context.Context, repo Repository, environment string) ([]Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListDeployments"); err != nil {
		return nil, err
	}
	return append([]Deployment(nil), f.deployments[environment]...), nil
}

func (f *fakeControlPlane) DispatchWorkflow(ctx context.Context, repo Repository, dispatch WorkflowDispatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DispatchWorkflow"); err != nil {
		return err
	}
	f.dispatches = append(f.dispatches, dispatch)
	return nil
}

func (f *fakeControlPlane) GetEnvironmentVariable(ctx context.Context, repo Repository, environment, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetEnvironmentVariable"); err != nil {
		return "", err
	}
	v, ok := f.variables[environment][name]
	if !ok {
		return "", NewNotFoundError("variable not found", nil)
	}
	return v, nil
}

func (f *fakeControlPlane) GetFileContent(ctx context.Context, repo Repository, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetFileContent"); err != nil {
		return nil, err
	}
	data, ok := f.files[path]
	if !ok {
		return nil, NewNotFoundError("file not found", nil)
	}
	return data, nil
}

// staticResolver returns a fixed config.
type staticResolver struct {
	cfg *RepoConfig
	err error
}

func (s *staticResolver) Resolve(ctx context.Context, source FileSource, repo Repository) (*RepoConfig, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.cfg, nil
}

// stubRenderer renders predictable one-line bodies.
type stubRenderer struct{}

func (stubRenderer) Started(workspace, stage string) string {
	return "started:" + stage
}

func (stubRenderer) Success(stage string, urls map[string]string, degraded bool) string {
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, urls[name]))
	}
	body := "success:" + stage + ":" + strings.Join(parts, ",")
	if degraded {
		body += ":degraded"
	}
	return body
}

func (stubRenderer) Failure(workspace, stage, logsURL string) string {
	return "failure:" + stage + ":" + logsURL
}

func testConfig() *RepoConfig {
	return &RepoConfig{
		Workspace:      "procuro",
		DefaultBranch:  "feat/ci-cd-actions",
		WorkflowID:     "sst.yml",
		BranchMappings: map[string]string{"staging": "staging", "main": "prod"},
	}
}

var testRepo = Repository{Owner: "acme", Name: "shop", ID: 42}

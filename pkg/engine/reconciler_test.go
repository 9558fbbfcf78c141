package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

const testAppID int64 = 314

func newTestReconciler(t *testing.T, resolver ConfigResolver) *Reconciler {
	t.Helper()
	if resolver == nil {
		resolver = &staticResolver{cfg: testConfig()}
	}
	r, err := NewReconciler(ReconcilerOptions{
		AppID:    testAppID,
		Resolver: resolver,
		Renderer: stubRenderer{},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewReconciler failed: %v", err)
	}
	return r
}

func TestNewReconciler_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts ReconcilerOptions
	}{
		{name: "missing app id", opts: ReconcilerOptions{Resolver: &staticResolver{}, Renderer: stubRenderer{}}},
		{name: "missing resolver", opts: ReconcilerOptions{AppID: 1, Renderer: stubRenderer{}}},
		{name: "missing renderer", opts: ReconcilerOptions{AppID: 1, Resolver: &staticResolver{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReconciler(tt.opts); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestReconcile_PullRequestOpened(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	r := newTestReconciler(t, nil)

	run, err := r.Reconcile(context.Background(), cp, prEvent(EventPullRequestOpened, 7))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Fatalf("Expected succeeded, got %s (%v)", run.Status, run.Err)
	}

	for name, want := range map[string]int{
		"CreateIssueComment": 1,
		"UpdateIssueComment": 0,
		"UpsertEnvironment":  1,
		"CreateCheckRun":     1,
		"DispatchWorkflow":   1,
	} {
		if got := cp.count(name); got != want {
			t.Errorf("Expected %d %s calls, got %d", want, name, got)
		}
	}

	if cp.checkRuns["abc123"][0].Status != CheckRunStatusInProgress {
		t.Error("Expected in-progress check run")
	}
	d := cp.dispatches[0]
	if d.Stage != "pr-7" || d.Action != WorkflowActionDeploy {
		t.Errorf("Unexpected dispatch: %+v", d)
	}
}

func TestReconcile_SynchronizeReusesComment(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	cp.addComment(7, 999, "someone else's bot")
	mine := cp.addComment(7, testAppID, "old")
	cp.addComment(7, testAppID, "newer duplicate")
	r := newTestReconciler(t, nil)

	if _, err := r.Reconcile(context.Background(), cp, prEvent(EventPullRequestSynchronize, 7)); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if cp.count("CreateIssueComment") != 0 {
		t.Error("Expected no new comment")
	}
	if got := cp.findComment(mine.ID).Body; got != "started:pr-7" {
		t.Errorf("Expected oldest owned comment to be updated, got %q", got)
	}
}

func TestReconcile_DeploymentSuccessIsIdempotent(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	comment := cp.addComment(7, testAppID, "started:pr-7")
	cp.addCheckRun("abc123", "SST - pr-7", CheckRunStatusInProgress, testAppID)
	cp.variables["pr-7"] = map[string]string{OutputsVariable: `{"urls":{"api":"https://x","web":null}}`}
	r := newTestReconciler(t, nil)
	event := deploymentEvent("pr-7", "success")

	if _, err := r.Reconcile(context.Background(), cp, event); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	firstBody := cp.findComment(comment.ID).Body
	firstRun := cp.checkRuns["abc123"][0]

	if _, err := r.Reconcile(context.Background(), cp, event); err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}

	if got := cp.findComment(comment.ID).Body; got != firstBody {
		t.Errorf("Expected identical comment after replay, got %q vs %q", got, firstBody)
	}
	if firstBody != "success:pr-7:api=https://x,web=" {
		t.Errorf("Unexpected comment body: %q", firstBody)
	}
	if cp.checkRuns["abc123"][0] != firstRun || firstRun.Conclusion != "success" {
		t.Errorf("Expected check run to stay completed/success, got %+v", cp.checkRuns["abc123"][0])
	}
	if len(cp.comments[7]) != 1 {
		t.Errorf("Expected a single comment, got %d", len(cp.comments[7]))
	}
}

func TestReconcile_DeploymentFailure(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	comment := cp.addComment(7, testAppID, "started:pr-7")
	cp.addCheckRun("abc123", "SST - pr-7", CheckRunStatusInProgress, testAppID)
	r := newTestReconciler(t, nil)

	run, err := r.Reconcile(context.Background(), cp, deploymentEvent("pr-7", "failure"))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Fatalf("Expected succeeded, got %s", run.Status)
	}

	cr := cp.checkRuns["abc123"][0]
	if cr.Status != CheckRunStatusCompleted || cr.Conclusion != "failure" {
		t.Errorf("Expected completed/failure, got %+v", cr)
	}
	if got := cp.findComment(comment.ID).Body; got != "failure:pr-7:https://ci.example.com/runs/1" {
		t.Errorf("Unexpected comment body: %q", got)
	}
	if cp.count("CreateIssueComment") != 0 {
		t.Error("Expected no new comment")
	}
	if cp.count("GetEnvironmentVariable") != 0 {
		t.Error("Expected outputs not to be read on failure")
	}
}

func TestReconcile_DeploymentMissingState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cp *fakeControlPlane)
	}{
		{
			name: "no comment",
			setup: func(cp *fakeControlPlane) {
				cp.addCheckRun("abc123", "SST - pr-7", CheckRunStatusInProgress, testAppID)
			},
		},
		{
			name: "no check run",
			setup: func(cp *fakeControlPlane) {
				cp.addComment(7, testAppID, "started:pr-7")
			},
		},
		{
			name: "check run from another app",
			setup: func(cp *fakeControlPlane) {
				cp.addComment(7, testAppID, "started:pr-7")
				cp.addCheckRun("abc123", "SST - pr-7", CheckRunStatusInProgress, 7)
			},
		},
		{
			name: "check run already completed",
			setup: func(cp *fakeControlPlane) {
				cp.addComment(7, testAppID, "started:pr-7")
				cp.addCheckRun("abc123", "SST - pr-7", CheckRunStatusCompleted, testAppID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := newFakeControlPlane(testAppID)
			tt.setup(cp)
			r := newTestReconciler(t, nil)

			run, err := r.Reconcile(context.Background(), cp, deploymentEvent("pr-7", "success"))
			if err != nil {
				t.Fatalf("Reconcile failed: %v", err)
			}
			if run.Status != RunStatusSkipped {
				t.Errorf("Expected skipped, got %s", run.Status)
			}
			if cp.mutations() != 0 {
				t.Errorf("Expected zero mutations, got calls %v", cp.calls)
			}
		})
	}
}

func TestReconcile_StaticDeploymentStatus(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	cp.addCheckRun("abc123", "SST - prod", CheckRunStatusInProgress, testAppID)
	r := newTestReconciler(t, nil)

	if _, err := r.Reconcile(context.Background(), cp, deploymentEvent("prod", "success")); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if cp.count("CompleteCheckRun") != 1 {
		t.Errorf("Expected one completion, got %d", cp.count("CompleteCheckRun"))
	}
	if cp.count("ListIssueComments") != 0 || cp.count("UpdateIssueComment") != 0 {
		t.Error("Expected static stages to leave comments alone")
	}
}

func TestReconcile_MalformedOutputsDegrades(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	comment := cp.addComment(7, testAppID, "started:pr-7")
	cp.addCheckRun("abc123", "SST - pr-7", CheckRunStatusInProgress, testAppID)
	cp.variables["pr-7"] = map[string]string{OutputsVariable: `{urls: not json`}
	r := newTestReconciler(t, nil)

	run, err := r.Reconcile(context.Background(), cp, deploymentEvent("pr-7", "success"))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Fatalf("Expected succeeded, got %s", run.Status)
	}
	if got := cp.findComment(comment.ID).Body; got != "success:pr-7::degraded" {
		t.Errorf("Expected degraded success comment, got %q", got)
	}
}

func TestReconcile_OutputsReadFailureStopsBeforeMutation(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	cp.addComment(7, testAppID, "started:pr-7")
	cp.addCheckRun("abc123", "SST - pr-7", CheckRunStatusInProgress, testAppID)
	cp.errs["GetEnvironmentVariable"] = NewTransientError("server error", nil)
	r := newTestReconciler(t, nil)

	_, err := r.Reconcile(context.Background(), cp, deploymentEvent("pr-7", "success"))
	if err == nil {
		t.Fatal("Expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("Expected retryable error, got %v", err)
	}
	if cp.mutations() != 0 {
		t.Errorf("Expected zero mutations, got %v", cp.calls)
	}
}

func TestReconcile_PullRequestClosed(t *testing.T) {
	t.Run("no deployments", func(t *testing.T) {
		cp := newFakeControlPlane(testAppID)
		r := newTestReconciler(t, nil)

		run, err := r.Reconcile(context.Background(), cp, prEvent(EventPullRequestClosed, 7))
		if err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
		if run.Status != RunStatusSkipped {
			t.Errorf("Expected skipped, got %s", run.Status)
		}
		if len(cp.calls) != 1 || cp.calls[0] != "ListDeployments" {
			t.Errorf("Expected only the deployment listing, got %v", cp.calls)
		}
	})

	t.Run("teardown", func(t *testing.T) {
		cp := newFakeControlPlane(testAppID)
		cp.environments["pr-7"] = true
		cp.addDeployment("pr-7", "abc123")
		r := newTestReconciler(t, nil)

		if _, err := r.Reconcile(context.Background(), cp, prEvent(EventPullRequestClosed, 7)); err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
		if cp.environments["pr-7"] {
			t.Error("Expected environment to be deleted")
		}
		if len(cp.dispatches) != 1 || cp.dispatches[0].Action != WorkflowActionRemove ||
			cp.dispatches[0].Ref != "feat/ci-cd-actions" {
			t.Errorf("Unexpected dispatches: %+v", cp.dispatches)
		}
	})
}

func TestReconcile_Push(t *testing.T) {
	t.Run("unmapped branch", func(t *testing.T) {
		cp := newFakeControlPlane(testAppID)
		r := newTestReconciler(t, nil)

		if _, err := r.Reconcile(context.Background(), cp, pushEvent("refs/heads/feature/x")); err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
		if cp.count("DispatchWorkflow") != 0 {
			t.Error("Expected zero dispatches")
		}
	})

	t.Run("mapped branch", func(t *testing.T) {
		cp := newFakeControlPlane(testAppID)
		r := newTestReconciler(t, nil)

		if _, err := r.Reconcile(context.Background(), cp, pushEvent("refs/heads/staging")); err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
		if len(cp.dispatches) != 1 || cp.dispatches[0].Stage != "staging" {
			t.Errorf("Unexpected dispatches: %+v", cp.dispatches)
		}
		if len(cp.checkRuns["def456"]) != 1 {
			t.Error("Expected a check run on the pushed commit")
		}
	})
}

func TestReconcile_Errors(t *testing.T) {
	t.Run("invalid event", func(t *testing.T) {
		cp := newFakeControlPlane(testAppID)
		r := newTestReconciler(t, nil)

		_, err := r.Reconcile(context.Background(), cp, &Event{Kind: EventPullRequestOpened, Repository: testRepo})
		if err == nil || IsRetryable(err) {
			t.Fatalf("Expected permanent validation error, got %v", err)
		}
		if len(cp.calls) != 0 {
			t.Errorf("Expected no calls, got %v", cp.calls)
		}
	})

	t.Run("config failure", func(t *testing.T) {
		cp := newFakeControlPlane(testAppID)
		resolver := &staticResolver{err: NewTransientError("fetch failed", errors.New("503"))}
		r := newTestReconciler(t, resolver)

		_, err := r.Reconcile(context.Background(), cp, prEvent(EventPullRequestOpened, 7))
		if !IsTransient(err) {
			t.Fatalf("Expected transient error, got %v", err)
		}
		if cp.mutations() != 0 {
			t.Error("Expected no mutations")
		}
	})

	t.Run("comment listing failure", func(t *testing.T) {
		cp := newFakeControlPlane(testAppID)
		cp.errs["ListIssueComments"] = NewThrottledError("rate limited", nil).WithCode(ErrCodeRateLimited)
		r := newTestReconciler(t, nil)

		_, err := r.Reconcile(context.Background(), cp, prEvent(EventPullRequestOpened, 7))
		if !IsThrottled(err) {
			t.Fatalf("Expected throttled error, got %v", err)
		}
		if cp.mutations() != 0 {
			t.Error("Expected no mutations")
		}
	})
}

func TestPreview_DoesNotMutate(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	r := newTestReconciler(t, nil)

	plan, err := r.Preview(context.Background(), cp, prEvent(EventPullRequestOpened, 7))
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(plan.Actions) != 4 {
		t.Errorf("Expected 4 planned actions, got %d", len(plan.Actions))
	}
	if cp.mutations() != 0 {
		t.Errorf("Expected no mutations, got %v", cp.calls)
	}
}

func TestReconcile_LogsCarryContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf).Level(zerolog.DebugLevel)
	ctx := base.With().Str("delivery_id", "d-42").Logger().WithContext(context.Background())

	cp := newFakeControlPlane(testAppID)
	r := newTestReconciler(t, nil)
	run, err := r.Reconcile(ctx, cp, prEvent(EventPullRequestOpened, 7))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	var applied int
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("Invalid log line %q: %v", scanner.Text(), err)
		}
		if entry["delivery_id"] != "d-42" || entry["repo"] != "acme/shop" {
			t.Errorf("Log line lost request fields: %v", entry)
		}
		if entry["message"] != "Action applied" {
			continue
		}
		applied++
		if entry["run_id"] != run.ID {
			t.Errorf("run_id = %v, want %s", entry["run_id"], run.ID)
		}
		if id, _ := entry["action_id"].(string); id == "" {
			t.Errorf("Missing action_id: %v", entry)
		}
	}
	if applied != len(run.Results) {
		t.Errorf("Expected %d applied lines, got %d", len(run.Results), applied)
	}
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocator_FindStatusComment(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		comments []Comment
		wantID   int64
	}{
		{
			name:   "no comments",
			wantID: 0,
		},
		{
			name: "only foreign comments",
			comments: []Comment{
				{ID: 1, AppID: 2, CreatedAt: base},
			},
			wantID: 0,
		},
		{
			name: "oldest owned wins",
			comments: []Comment{
				{ID: 30, AppID: testAppID, CreatedAt: base.Add(2 * time.Minute)},
				{ID: 10, AppID: 2, CreatedAt: base},
				{ID: 20, AppID: testAppID, CreatedAt: base.Add(time.Minute)},
			},
			wantID: 20,
		},
		{
			name: "equal timestamps fall back to lowest id",
			comments: []Comment{
				{ID: 8, AppID: testAppID, CreatedAt: base},
				{ID: 4, AppID: testAppID, CreatedAt: base},
			},
			wantID: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := newFakeControlPlane(testAppID)
			cp.comments[7] = tt.comments
			locator := NewLocator(cp, testAppID, zerolog.Nop())

			got, err := locator.FindStatusComment(context.Background(), testRepo, 7)
			if err != nil {
				t.Fatalf("FindStatusComment failed: %v", err)
			}
			if tt.wantID == 0 {
				if got != nil {
					t.Errorf("Expected nil, got %+v", got)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("Expected comment %d, got %+v", tt.wantID, got)
			}
		})
	}
}

func TestLocator_FindInProgressCheckRun(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	cp.addCheckRun("sha", "SST - pr-1", CheckRunStatusCompleted, testAppID)
	first := cp.addCheckRun("sha", "SST - pr-1", CheckRunStatusInProgress, testAppID)
	cp.addCheckRun("sha", "SST - pr-1", CheckRunStatusInProgress, testAppID)
	cp.addCheckRun("sha", "other", CheckRunStatusInProgress, 1)

	locator := NewLocator(cp, testAppID, zerolog.Nop())
	got, err := locator.FindInProgressCheckRun(context.Background(), testRepo, "sha")
	if err != nil {
		t.Fatalf("FindInProgressCheckRun failed: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Errorf("Expected oldest in-progress run %d, got %+v", first.ID, got)
	}

	none, err := locator.FindInProgressCheckRun(context.Background(), testRepo, "missing")
	if err != nil || none != nil {
		t.Errorf("Expected nil without error, got %+v, %v", none, err)
	}
}

func TestLocator_NotFoundIsAbsence(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	cp.errs["ListIssueComments"] = NewNotFoundError("pull request not found", nil)
	cp.errs["ListDeployments"] = NewNotFoundError("repository not found", nil)
	locator := NewLocator(cp, testAppID, zerolog.Nop())

	if c, err := locator.FindStatusComment(context.Background(), testRepo, 1); err != nil || c != nil {
		t.Errorf("Expected absence, got %+v, %v", c, err)
	}
	if d, err := locator.LatestDeployment(context.Background(), testRepo, "pr-1"); err != nil || d != nil {
		t.Errorf("Expected absence, got %+v, %v", d, err)
	}
}

func TestLocator_OtherFailuresPropagate(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	cp.errs["ListCheckRuns"] = NewTransientError("bad gateway", nil)
	locator := NewLocator(cp, testAppID, zerolog.Nop())

	_, err := locator.FindInProgressCheckRun(context.Background(), testRepo, "sha")
	if !IsTransient(err) {
		t.Errorf("Expected transient error, got %v", err)
	}
}

func TestLocator_LatestDeployment(t *testing.T) {
	cp := newFakeControlPlane(testAppID)
	cp.addDeployment("pr-3", "a")
	newest := cp.addDeployment("pr-3", "b")
	locator := NewLocator(cp, testAppID, zerolog.Nop())

	got, err := locator.LatestDeployment(context.Background(), testRepo, "pr-3")
	if err != nil {
		t.Fatalf("LatestDeployment failed: %v", err)
	}
	if got == nil || got.ID != newest.ID {
		t.Errorf("Expected deployment %d, got %+v", newest.ID, got)
	}
}

func TestLocator_FetchOutputs(t *testing.T) {
	tests := []struct {
		name         string
		value        *string
		wantURLs     map[string]string
		wantDegraded bool
	}{
		{
			name:     "missing variable",
			wantURLs: map[string]string{},
		},
		{
			name:     "valid outputs",
			value:    strPtr(`{"urls":{"api":"https://api.example.com","web":null}}`),
			wantURLs: map[string]string{"api": "https://api.example.com", "web": ""},
		},
		{
			name:         "malformed outputs",
			value:        strPtr(`not-json`),
			wantURLs:     map[string]string{},
			wantDegraded: true,
		},
		{
			name:     "no urls key",
			value:    strPtr(`{}`),
			wantURLs: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := newFakeControlPlane(testAppID)
			if tt.value != nil {
				cp.variables["pr-1"] = map[string]string{OutputsVariable: *tt.value}
			}
			locator := NewLocator(cp, testAppID, zerolog.Nop())

			out, err := locator.FetchOutputs(context.Background(), testRepo, "pr-1")
			if err != nil {
				t.Fatalf("FetchOutputs failed: %v", err)
			}
			if out.Degraded != tt.wantDegraded {
				t.Errorf("Expected degraded=%v, got %v", tt.wantDegraded, out.Degraded)
			}
			if len(out.URLs) != len(tt.wantURLs) {
				t.Fatalf("Expected %v, got %v", tt.wantURLs, out.URLs)
			}
			for k, v := range tt.wantURLs {
				if got, ok := out.URLs[k]; !ok || got != v {
					t.Errorf("Expected %s=%q, got %q", k, v, got)
				}
			}
		})
	}
}

func TestParseOutputs_MalformedIsClassified(t *testing.T) {
	_, err := ParseOutputs("[")
	if ErrorCodeOf(err) != ErrCodeMalformedOutputs {
		t.Errorf("Expected %s, got %v", ErrCodeMalformedOutputs, err)
	}
}

func strPtr(s string) *string {
	return &s
}

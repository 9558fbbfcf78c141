package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/telemetry"
)

// Locator finds the remote objects owned by this app for a stage.
// Lookups scan only the first page returned by the control plane.
type Locator struct {
	cp     ControlPlane
	appID  int64
	logger zerolog.Logger
}

// NewLocator creates a locator that recognizes objects authored by appID.
func NewLocator(cp ControlPlane, appID int64, logger zerolog.Logger) *Locator {
	return &Locator{
		cp:     cp,
		appID:  appID,
		logger: logger,
	}
}

// log returns the context logger, falling back to the locator's own.
func (l *Locator) log(ctx context.Context) *zerolog.Logger {
	logger := telemetry.LoggerFrom(ctx, l.logger).With().Str("component", "locator").Logger()
	return &logger
}

// FindStatusComment returns the oldest comment on the pull request authored
// via this app, or nil when none exists.
func (l *Locator) FindStatusComment(ctx context.Context, repo Repository, number int) (*Comment, error) {
	comments, err := l.cp.ListIssueComments(ctx, repo, number)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list comments for %s#%d: %w", repo.FullName(), number, err)
	}

	var owned []Comment
	for _, c := range comments {
		if c.AppID == l.appID {
			owned = append(owned, c)
		}
	}
	if len(owned) == 0 {
		return nil, nil
	}

	sort.SliceStable(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.Before(owned[j].CreatedAt)
		}
		return owned[i].ID < owned[j].ID
	})
	if len(owned) > 1 {
		l.log(ctx).Warn().
			Int("pull_request", number).
			Int("matches", len(owned)).
			Int64("comment_id", owned[0].ID).
			Msg("Multiple status comments found, using the oldest")
	}

	found := owned[0]
	return &found, nil
}

// FindInProgressCheckRun returns the oldest in-progress check run authored
// by this app for sha, or nil when none exists.
func (l *Locator) FindInProgressCheckRun(ctx context.Context, repo Repository, sha string) (*CheckRun, error) {
	runs, err := l.cp.ListCheckRuns(ctx, repo, sha, l.appID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list check runs for %s@%s: %w", repo.FullName(), sha, err)
	}

	var open []CheckRun
	for _, r := range runs {
		if r.Status == CheckRunStatusInProgress {
			open = append(open, r)
		}
	}
	if len(open) == 0 {
		return nil, nil
	}

	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].StartedAt.Equal(open[j].StartedAt) {
			return open[i].StartedAt.Before(open[j].StartedAt)
		}
		return open[i].ID < open[j].ID
	})
	if len(open) > 1 {
		l.log(ctx).Warn().
			Str("sha", sha).
			Int("matches", len(open)).
			Int64("check_run_id", open[0].ID).
			Msg("Multiple in-progress check runs found, using the oldest")
	}

	found := open[0]
	return &found, nil
}

// LatestDeployment returns the newest deployment for environment, or nil.
func (l *Locator) LatestDeployment(ctx context.Context, repo Repository, environment string) (*Deployment, error) {
	deployments, err := l.cp.ListDeployments(ctx, repo, environment)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list deployments for %s/%s: %w", repo.FullName(), environment, err)
	}
	if len(deployments) == 0 {
		return nil, nil
	}

	latest := deployments[0]
	for _, d := range deployments[1:] {
		if d.CreatedAt.After(latest.CreatedAt) ||
			(d.CreatedAt.Equal(latest.CreatedAt) && d.ID > latest.ID) {
			latest = d
		}
	}
	return &latest, nil
}

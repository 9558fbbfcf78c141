package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/BoardAI/catalysst/pkg/engine"
	"github.com/BoardAI/catalysst/pkg/telemetry"
)

// classifyError maps an API failure onto the engine's error classes.
func classifyError(operation, resource string, resp *gh.Response, err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return engine.NewThrottledError("rate limit exceeded", err).
			WithCode(engine.ErrCodeRateLimited).
			WithOperation(operation).
			WithResource(resource).
			WithDetail("reset", rateErr.Rate.Reset.Time)
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		e := engine.NewThrottledError("secondary rate limit exceeded", err).
			WithCode(engine.ErrCodeRateLimited).
			WithOperation(operation).
			WithResource(resource)
		if d := abuseErr.GetRetryAfter(); d > 0 {
			e = e.WithDetail("retry_after", d)
		}
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return engine.NewTransientError("request timed out", err).
			WithCode(engine.ErrCodeTimeout).
			WithOperation(operation).
			WithResource(resource)
	}

	var e *engine.EngineError
	switch status := statusOf(resp, err); {
	case status == http.StatusNotFound:
		e = engine.NewNotFoundError("not found", err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = engine.NewPermanentError("permission denied", err).WithCode(engine.ErrCodePermissionDenied)
	case status == http.StatusTooManyRequests:
		e = engine.NewThrottledError("too many requests", err).WithCode(engine.ErrCodeRateLimited)
	case status == http.StatusConflict:
		e = engine.NewConflictError("conflict", err).WithCode(engine.ErrCodeConflict)
	case status == http.StatusUnprocessableEntity:
		e = engine.NewPermanentError("request rejected", err).WithCode(engine.ErrCodeValidation)
	case status == 0 || status >= 500:
		e = engine.NewTransientError("upstream request failed", err).WithCode(engine.ErrCodeUpstreamFailed)
	default:
		e = engine.NewPermanentError("request failed", err).WithDetail("status", status)
	}

	return e.WithOperation(operation).WithResource(resource)
}

func statusOf(resp *gh.Response, err error) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode
	}
	return 0
}

func recordAPICall(ctx context.Context, method string, resp *gh.Response, start time.Time) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	tel.Metrics.RecordAPICall(method, status, time.Since(start))
}

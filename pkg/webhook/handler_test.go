package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/config"
	"github.com/BoardAI/catalysst/pkg/engine"
	"github.com/BoardAI/catalysst/pkg/telemetry"
)

var testSecret = []byte("s3cr3t")

type fakeFactory struct {
	err       error
	requested []int64
}

func (f *fakeFactory) ForInstallation(_ context.Context, id int64) (engine.ControlPlane, error) {
	f.requested = append(f.requested, id)
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

type fakeReconciler struct {
	mu     sync.Mutex
	events []*engine.Event
	run    *engine.Run
	err    error
}

func (f *fakeReconciler) Reconcile(_ context.Context, _ engine.ControlPlane, event *engine.Event) (*engine.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	if f.err != nil {
		return nil, f.err
	}
	if f.run != nil {
		return f.run, nil
	}
	return &engine.Run{ID: "run-1", Event: event.Kind, Status: engine.RunStatusSucceeded}, nil
}

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, testSecret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newDelivery(eventType, payload, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", "delivery-123")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	return req
}

func newTestHandler(t *testing.T, factory *fakeFactory, rec *fakeReconciler) *Handler {
	t.Helper()
	h, err := NewHandler(Options{
		Secret:     testSecret,
		Factory:    factory,
		Reconciler: rec,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return h
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHandler_Reconciled(t *testing.T) {
	factory := &fakeFactory{}
	rec := &fakeReconciler{}
	h := newTestHandler(t, factory, rec)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newDelivery("pull_request", pullRequestOpened, sign([]byte(pullRequestOpened))))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp.Outcome != OutcomeReconciled || resp.DeliveryID != "delivery-123" {
		t.Errorf("Response = %+v", resp)
	}
	if resp.Run == nil || resp.Run.ID != "run-1" {
		t.Errorf("Run = %+v", resp.Run)
	}
	if len(factory.requested) != 1 || factory.requested[0] != 42 {
		t.Errorf("Factory requested %v, want [42]", factory.requested)
	}
	if len(rec.events) != 1 || rec.events[0].DeliveryID != "delivery-123" {
		t.Errorf("Reconciler saw %+v", rec.events)
	}
}

func TestHandler_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		eventType   string
		payload     string
		signature   func(payload string) string
		wantStatus  int
		wantOutcome string
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			eventType:  "push",
			payload:    pushMain,
			signature:  func(p string) string { return sign([]byte(p)) },
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:        "missing signature",
			eventType:   "push",
			payload:     pushMain,
			signature:   func(string) string { return "" },
			wantStatus:  http.StatusUnauthorized,
			wantOutcome: OutcomeRejected,
		},
		{
			name:        "bad signature",
			eventType:   "push",
			payload:     pushMain,
			signature:   func(string) string { return sign([]byte("something else")) },
			wantStatus:  http.StatusUnauthorized,
			wantOutcome: OutcomeRejected,
		},
		{
			name:        "malformed payload",
			eventType:   "push",
			payload:     `{"ref": `,
			signature:   func(p string) string { return sign([]byte(p)) },
			wantStatus:  http.StatusBadRequest,
			wantOutcome: OutcomeMalformed,
		},
		{
			name:        "ignored event",
			eventType:   "ping",
			payload:     `{"zen": "Keep it logically awesome."}`,
			signature:   func(p string) string { return sign([]byte(p)) },
			wantStatus:  http.StatusAccepted,
			wantOutcome: OutcomeIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeReconciler{}
			h := newTestHandler(t, &fakeFactory{}, rec)

			req := newDelivery(tt.eventType, tt.payload, tt.signature(tt.payload))
			if tt.method != "" {
				req.Method = tt.method
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantOutcome != "" {
				if resp := decode(t, w); resp.Outcome != tt.wantOutcome {
					t.Errorf("Outcome = %q, want %q", resp.Outcome, tt.wantOutcome)
				}
			}
			if len(rec.events) != 0 {
				t.Errorf("Reconciler should not run, saw %d events", len(rec.events))
			}
		})
	}
}

func TestHandler_FailureStatus(t *testing.T) {
	tests := []struct {
		name       string
		factoryErr error
		reconErr   error
		runErr     error
		wantStatus int
	}{
		{
			name:       "retryable run failure",
			runErr:     engine.NewTransientError("dispatch failed", nil),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "throttled run failure",
			runErr:     engine.NewThrottledError("rate limited", nil).WithCode(engine.ErrCodeRateLimited),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "permanent run failure",
			runErr:     engine.NewPermanentError("forbidden", nil).WithCode(engine.ErrCodePermissionDenied),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "invalid event before mutation",
			reconErr:   engine.NewPermanentError("invalid event", nil).WithCode(engine.ErrCodeValidation),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "observation failure before mutation",
			reconErr:   engine.NewTransientError("list comments", errors.New("connection reset")),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "installation token failure",
			factoryErr: engine.NewPermanentError("bad credentials", nil).WithCode(engine.ErrCodePermissionDenied),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeReconciler{err: tt.reconErr}
			if tt.runErr != nil {
				rec.run = &engine.Run{ID: "run-2", Status: engine.RunStatusFailed, Err: tt.runErr}
			}
			h := newTestHandler(t, &fakeFactory{err: tt.factoryErr}, rec)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, newDelivery("push", pushMain, sign([]byte(pushMain))))

			if w.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			resp := decode(t, w)
			if resp.Outcome != OutcomeFailed || resp.Error == "" {
				t.Errorf("Response = %+v", resp)
			}
		})
	}
}

func TestHandler_GeneratesDeliveryID(t *testing.T) {
	rec := &fakeReconciler{}
	h := newTestHandler(t, &fakeFactory{}, rec)

	req := newDelivery("push", pushMain, sign([]byte(pushMain)))
	req.Header.Del("X-GitHub-Delivery")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", w.Code, w.Body.String())
	}
	if id := decode(t, w).DeliveryID; len(id) != 36 {
		t.Errorf("DeliveryID = %q, want generated uuid", id)
	}
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "no secret", opts: Options{Factory: &fakeFactory{}, Reconciler: &fakeReconciler{}}},
		{name: "no factory", opts: Options{Secret: testSecret, Reconciler: &fakeReconciler{}}},
		{name: "no reconciler", opts: Options{Secret: testSecret, Factory: &fakeFactory{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHandler(tt.opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestHandler_SignedDeliveriesNeverThrottled(t *testing.T) {
	cfg := config.DefaultServiceConfig()
	limiter := NewMemoryRateLimiter()
	defer limiter.Close()

	rec := &fakeReconciler{}
	h, err := NewHandler(Options{
		Secret:            testSecret,
		Factory:           &fakeFactory{},
		Reconciler:        rec,
		Logger:            zerolog.Nop(),
		Limiter:           limiter,
		RejectedPerMinute: cfg.RateLimit.RejectedPerMinute,
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	mux := NewMux(ServerOptions{WebhookPath: "/", Webhook: h, Logger: zerolog.Nop()})

	deliveries := cfg.RateLimit.RejectedPerMinute + 30
	for i := 0; i < deliveries; i++ {
		req := newDelivery("push", pushMain, sign([]byte(pushMain)))
		req.RemoteAddr = "140.82.115.10:443"
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Delivery %d: status = %d, want 200: %s", i+1, w.Code, w.Body.String())
		}
	}
	if len(rec.events) != deliveries {
		t.Errorf("Reconciler saw %d events, want %d", len(rec.events), deliveries)
	}
}

func TestHandler_ThrottlesRejectedDeliveries(t *testing.T) {
	metrics := newTestMetrics(t)
	limiter := NewMemoryRateLimiter()
	defer limiter.Close()

	rec := &fakeReconciler{}
	h, err := NewHandler(Options{
		Secret:            testSecret,
		Factory:           &fakeFactory{},
		Reconciler:        rec,
		Logger:            zerolog.Nop(),
		Metrics:           metrics,
		Limiter:           limiter,
		RejectedPerMinute: 2,
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	deliver := func(signature string) *httptest.ResponseRecorder {
		req := newDelivery("push", pushMain, signature)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, deliver("sha256=00").Code)
	}
	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusUnauthorized || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Codes = %v, want [401 401 429]", codes)
	}

	w := deliver("sha256=00")
	if w.Header().Get("Retry-After") == "" {
		t.Error("Missing Retry-After on 429")
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if resp := decode(t, w); resp.Outcome != OutcomeRejected {
		t.Errorf("Outcome = %q, want rejected", resp.Outcome)
	}

	// A throttled client still gets its signed deliveries through.
	if w := deliver(sign([]byte(pushMain))); w.Code != http.StatusOK {
		t.Errorf("Signed delivery status = %d, want 200", w.Code)
	}
	if !strings.Contains(scrape(t, metrics), `catalysst_rate_limit_hits_total{route="webhook"}`) {
		t.Error("Rate limit hit not recorded")
	}
}

func TestHandler_ContextLoggerCarriesDelivery(t *testing.T) {
	var buf bytes.Buffer
	rec := &loggingReconciler{}
	h, err := NewHandler(Options{
		Secret:     testSecret,
		Factory:    &fakeFactory{},
		Reconciler: rec,
		Logger:     zerolog.New(&buf),
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newDelivery("push", pushMain, sign([]byte(pushMain))))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", w.Code, w.Body.String())
	}

	line, _, _ := strings.Cut(buf.String(), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Invalid log line %q: %v", line, err)
	}
	if entry["message"] != "reconciling" || entry["delivery_id"] != "delivery-123" || entry["installation_id"] != float64(42) {
		t.Errorf("Reconciler log line = %v", entry)
	}
}

// loggingReconciler logs through the context logger it is handed.
type loggingReconciler struct{}

func (loggingReconciler) Reconcile(ctx context.Context, _ engine.ControlPlane, event *engine.Event) (*engine.Run, error) {
	logger := telemetry.LoggerFrom(ctx, zerolog.Nop())
	logger.Info().Msg("reconciling")
	return &engine.Run{ID: "run-1", Event: event.Kind, Status: engine.RunStatusSucceeded}, nil
}

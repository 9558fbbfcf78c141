package webhook

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/telemetry"
)

// ServerOptions configures the HTTP surface around a webhook handler.
type ServerOptions struct {
	Addr        string
	WebhookPath string

	// Webhook serves deliveries on WebhookPath.
	Webhook http.Handler

	Telemetry *telemetry.Telemetry
	Logger    zerolog.Logger

	// MetricsPath mounts the Prometheus handler on the same mux when set.
	MetricsPath string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewMux builds the routes: health, optional metrics, and the webhook.
func NewMux(opts ServerOptions) http.Handler {
	var metrics *telemetry.Metrics
	if opts.Telemetry != nil {
		metrics = opts.Telemetry.Metrics
	}

	path := opts.WebhookPath
	if path == "" {
		path = "/"
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", Instrument("/healthz", metrics)(http.HandlerFunc(healthz)))
	if opts.MetricsPath != "" && metrics != nil {
		mux.Handle(opts.MetricsPath, metrics.Handler())
	}
	mux.Handle(path, Chain(opts.Webhook,
		Recover(opts.Logger),
		Instrument(path, metrics),
		WithTelemetry(opts.Telemetry),
	))
	return mux
}

// NewServer returns an http.Server serving NewMux(opts).
func NewServer(opts ServerOptions) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           NewMux(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/engine"
)

// Factory hands out installation-scoped clients for one GitHub App.
type Factory struct {
	cfg        *Config
	auth       *AppAuth
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ engine.ControlPlaneFactory = (*Factory)(nil)

// NewFactory validates cfg and prepares App authentication.
func NewFactory(cfg *Config, logger zerolog.Logger) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid github config: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	auth, err := NewAppAuth(cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}

	return &Factory{
		cfg:        cfg,
		auth:       auth,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ForInstallation returns a control plane authenticated as the installation.
func (f *Factory) ForInstallation(ctx context.Context, installationID int64) (engine.ControlPlane, error) {
	if installationID <= 0 {
		return nil, engine.NewPermanentError("delivery has no installation", nil).
			WithCode(engine.ErrCodeValidation)
	}

	token, err := f.auth.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}

	api, err := newAPIClient(f.httpClient, f.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	logger := f.logger.With().Int64("installation_id", installationID).Logger()
	client := NewClient(api.WithAuthToken(token), logger)
	client.onUnauthorized = func() { f.auth.Forget(installationID) }
	return client, nil
}

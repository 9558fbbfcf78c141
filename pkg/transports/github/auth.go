package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/engine"
)

// jwtClockSkew backdates the issued-at claim to tolerate clock drift.
const jwtClockSkew = 60 * time.Second

// AppAuth authenticates as a GitHub App and exchanges the App identity for
// installation tokens, which are cached until shortly before they expire.
type AppAuth struct {
	appID    int64
	key      *rsa.PrivateKey
	lifetime time.Duration
	margin   time.Duration
	client   *gh.Client
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	tokens  map[int64]installationToken
	minting map[int64]chan struct{} // one mint in flight per installation
}

type installationToken struct {
	token     string
	expiresAt time.Time
}

// NewAppAuth parses the App key and prepares a JWT-authenticated API client.
func NewAppAuth(cfg *Config, httpClient *http.Client, logger zerolog.Logger) (*AppAuth, error) {
	key, err := jwtlib.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}

	a := &AppAuth{
		appID:    cfg.AppID,
		key:      key,
		lifetime: cfg.JWTLifetime,
		margin:   cfg.TokenRefreshMargin,
		now:      time.Now,
		logger:   logger.With().Str("component", "github-auth").Int64("app_id", cfg.AppID).Logger(),
		tokens:   make(map[int64]installationToken),
		minting:  make(map[int64]chan struct{}),
	}

	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	appHTTP := *httpClient
	appHTTP.Transport = &appTransport{auth: a, base: base}

	a.client, err = newAPIClient(&appHTTP, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// JWT signs a short-lived App token.
func (a *AppAuth) JWT() (string, error) {
	now := a.now()
	claims := jwtlib.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.appID, 10),
		IssuedAt:  jwtlib.NewNumericDate(now.Add(-jwtClockSkew)),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(a.lifetime)),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	return token.SignedString(a.key)
}

// InstallationToken returns a token for the installation, minting a new one
// when none is cached or the cached one is about to expire. Concurrent
// callers for the same installation share one mint; other installations
// are not held up by it.
func (a *AppAuth) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if tok, ok := a.cached(installationID); ok {
		return tok, nil
	}

	release, err := a.acquire(ctx, installationID)
	if err != nil {
		return "", err
	}
	defer release()

	if tok, ok := a.cached(installationID); ok {
		return tok, nil
	}

	start := time.Now()
	tok, resp, err := a.client.Apps.CreateInstallationToken(ctx, installationID, nil)
	recordAPICall(ctx, "CreateInstallationToken", resp, start)
	if err != nil {
		return "", classifyError("CreateInstallationToken", fmt.Sprintf("installation/%d", installationID), resp, err)
	}

	entry := installationToken{
		token:     tok.GetToken(),
		expiresAt: tok.GetExpiresAt().Time,
	}
	a.mu.Lock()
	a.tokens[installationID] = entry
	a.mu.Unlock()

	a.logger.Debug().
		Int64("installation_id", installationID).
		Time("expires_at", entry.expiresAt).
		Msg("Minted installation token")

	return entry.token, nil
}

// Forget drops a cached token after the API rejected it.
func (a *AppAuth) Forget(installationID int64) {
	a.mu.Lock()
	delete(a.tokens, installationID)
	a.mu.Unlock()
}

func (a *AppAuth) cached(installationID int64) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.tokens[installationID]
	if !ok || !a.now().Add(a.margin).Before(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}

// acquire takes the installation's mint slot, giving up when ctx is done.
func (a *AppAuth) acquire(ctx context.Context, installationID int64) (func(), error) {
	a.mu.Lock()
	slot, ok := a.minting[installationID]
	if !ok {
		slot = make(chan struct{}, 1)
		a.minting[installationID] = slot
	}
	a.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, engine.NewTransientError("gave up waiting for installation token", ctx.Err()).
			WithCode(engine.ErrCodeTimeout).
			WithResource(fmt.Sprintf("installation/%d", installationID))
	}
}

// appTransport authenticates requests with a fresh App JWT.
type appTransport struct {
	auth *AppAuth
	base http.RoundTripper
}

func (t *appTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.auth.JWT()
	if err != nil {
		return nil, fmt.Errorf("failed to sign app jwt: %w", err)
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(req)
}

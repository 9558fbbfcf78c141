package config

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/engine"
)

// DefaultsProvider supplies the configuration a repository file is merged over.
type DefaultsProvider interface {
	Defaults() *engine.RepoConfig
}

type builtinDefaults struct{}

func (builtinDefaults) Defaults() *engine.RepoConfig {
	return Defaults()
}

// Resolver resolves the effective configuration of a repository by merging
// the first readable candidate file over the defaults.
type Resolver struct {
	defaults  DefaultsProvider
	paths     []string
	validator *validator.Validate
	logger    zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithDefaultsProvider replaces the built-in defaults, e.g. with a watched
// server defaults file.
func WithDefaultsProvider(p DefaultsProvider) ResolverOption {
	return func(r *Resolver) {
		r.defaults = p
	}
}

// NewResolver creates a resolver.
func NewResolver(logger zerolog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		defaults:  builtinDefaults{},
		paths:     CandidatePaths,
		validator: validator.New(),
		logger:    logger.With().Str("component", "config-resolver").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve implements engine.ConfigResolver.
//
// A missing file moves on to the next path. A file that does not parse or
// validate is logged and skipped. Any other read failure is returned so the
// delivery can be retried instead of silently falling back to defaults.
func (r *Resolver) Resolve(ctx context.Context, source engine.FileSource, repo engine.Repository) (*engine.RepoConfig, error) {
	base := Clone(r.defaults.Defaults())

	for _, path := range r.paths {
		data, err := source.GetFileContent(ctx, repo, path)
		if err != nil {
			if engine.IsNotFound(err) {
				continue
			}
			if engine.ErrorCodeOf(err) == engine.ErrCodeMalformedConfig {
				r.logger.Warn().
					Err(err).
					Str("repo", repo.FullName()).
					Str("path", path).
					Msg("Ignoring unreadable config file")
				continue
			}
			rerr := engine.NewTransientError("failed to read config file", err).
				WithResource(repo.FullName() + ":" + path).
				WithOperation("config.resolve")
			if code := engine.ErrorCodeOf(err); code != "" {
				rerr = rerr.WithCode(code)
			}
			return nil, rerr
		}

		file, err := ParseFile(data)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("repo", repo.FullName()).
				Str("path", path).
				Msg("Ignoring unparsable config file")
			continue
		}

		merged := Merge(base, file)
		if err := r.validator.Struct(merged); err != nil {
			r.logger.Warn().
				Err(err).
				Str("repo", repo.FullName()).
				Str("path", path).
				Msg("Ignoring invalid config file")
			continue
		}

		r.logger.Debug().
			Str("repo", repo.FullName()).
			Str("path", path).
			Msg("Loaded repository config")
		return merged, nil
	}

	return base, nil
}

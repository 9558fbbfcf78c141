package commands

import (
	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/comments"
	"github.com/BoardAI/catalysst/pkg/config"
	"github.com/BoardAI/catalysst/pkg/engine"
	"github.com/BoardAI/catalysst/pkg/telemetry"
	"github.com/BoardAI/catalysst/pkg/transports/github"
)

// runtime holds the components shared by serve, replay and config.
type runtime struct {
	factory    *github.Factory
	defaults   *config.DefaultsWatcher // nil without cfg.DefaultsPath
	resolver   *config.Resolver
	reconciler *engine.Reconciler
}

// newRuntime wires the service components from cfg. metrics may be nil.
// Callers must Close the runtime.
func newRuntime(cfg *config.ServiceConfig, logger zerolog.Logger, metrics *telemetry.Metrics) (*runtime, error) {
	ghCfg := github.DefaultConfig(cfg.AppID, []byte(cfg.PrivateKey))
	ghCfg.BaseURL = cfg.GitHubAPIURL

	factory, err := github.NewFactory(ghCfg, logger.With().Str("component", "github").Logger())
	if err != nil {
		return nil, err
	}

	rt := &runtime{factory: factory}

	var opts []config.ResolverOption
	if cfg.DefaultsPath != "" {
		rt.defaults, err = config.NewDefaultsWatcher(cfg.DefaultsPath, logger, metrics)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithDefaultsProvider(rt.defaults))
	}
	rt.resolver = config.NewResolver(logger, opts...)

	rt.reconciler, err = engine.NewReconciler(engine.ReconcilerOptions{
		AppID:    cfg.AppID,
		Resolver: rt.resolver,
		Renderer: comments.New(),
		Logger:   logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

// Close stops the defaults watcher, if any.
func (rt *runtime) Close() error {
	if rt.defaults == nil {
		return nil
	}
	return rt.defaults.Close()
}

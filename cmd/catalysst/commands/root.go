package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/BoardAI/catalysst/pkg/config"
)

var (
	// Global flags
	configPath string
	jsonOutput bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "catalysst",
		Short: "Catalysst - preview and stage deployments for SST apps",
		Long: `Catalysst is a GitHub App that reconciles pull requests, pushes and
deployment statuses into per-pull-request preview environments and
long-lived stage deployments.

Every webhook delivery is turned into a plan of control-plane actions
(comments, check runs, environments, workflow dispatches) computed from
the current remote state, then applied in order.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CATALYSST_CONFIG"),
		"service config file path (env CATALYSST_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newReplayCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newRenderCommand())

	return rootCmd
}

// loadServiceConfig reads and validates the service configuration.
func loadServiceConfig() (*config.ServiceConfig, error) {
	cfg, err := config.LoadService(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

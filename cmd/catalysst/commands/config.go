package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/BoardAI/catalysst/pkg/config"
	"github.com/BoardAI/catalysst/pkg/engine"
)

func newConfigCommand() *cobra.Command {
	var (
		dir            string
		defaultsPath   string
		installationID int64
	)

	cmd := &cobra.Command{
		Use:   "config [owner/repo]",
		Short: "Show the effective repository configuration",
		Long: `Show the configuration a repository's events are planned against.

The first readable candidate file is merged over the defaults:
  - sst-config.yml, sst-config.yaml
  - .github/sst-config.yml, .github/sst-config.yaml

With --dir the files are read from a local checkout and no credentials
are needed. Otherwise they are read from the repository's default branch
as the given installation, merged over the service's defaultsPath unless
--defaults is given.`,
		Example: `  # Check a local checkout
  catalysst config --dir .

  # Check a local checkout against server defaults
  catalysst config --dir . --defaults defaults.yaml

  # Read the remote repository
  catalysst config acme/shop --installation 4242`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.Logger

			var (
				source   engine.FileSource
				repo     engine.Repository
				resolver engine.ConfigResolver
			)
			switch {
			case dir != "":
				var opts []config.ResolverOption
				if defaultsPath != "" {
					watcher, err := config.NewDefaultsWatcher(defaultsPath, logger, nil)
					if err != nil {
						return err
					}
					opts = append(opts, config.WithDefaultsProvider(watcher))
				}
				source = dirSource{root: dir}
				repo = engine.Repository{Owner: "local", Name: filepath.Base(dir)}
				resolver = config.NewResolver(logger, opts...)
			case len(args) == 1:
				owner, name, ok := strings.Cut(args[0], "/")
				if !ok || owner == "" || name == "" {
					return fmt.Errorf("repository must be owner/name, got %q", args[0])
				}
				repo = engine.Repository{Owner: owner, Name: name}

				cfg, err := loadServiceConfig()
				if err != nil {
					return err
				}
				if defaultsPath != "" {
					cfg.DefaultsPath = defaultsPath
				}
				rt, err := newRuntime(cfg, logger, nil)
				if err != nil {
					return err
				}
				defer rt.Close()
				cp, err := rt.factory.ForInstallation(ctx, installationID)
				if err != nil {
					return err
				}
				source = cp
				resolver = rt.resolver
			default:
				return errors.New("either a repository or --dir is required")
			}

			effective, err := resolver.Resolve(ctx, source, repo)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), effective)
			}
			out, err := config.Describe(effective)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "read config files from a local checkout")
	cmd.Flags().StringVar(&defaultsPath, "defaults", "", "server defaults file to merge over")
	cmd.Flags().Int64Var(&installationID, "installation", 0, "installation id for remote reads")

	return cmd
}

// dirSource reads repository files from a local directory.
type dirSource struct {
	root string
}

func (s dirSource) GetFileContent(_ context.Context, _ engine.Repository, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, engine.NewNotFoundError("file not found", err).WithResource(path)
	}
	return data, err
}

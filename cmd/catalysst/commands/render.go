package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BoardAI/catalysst/pkg/comments"
	"github.com/BoardAI/catalysst/pkg/config"
)

func newRenderCommand() *cobra.Command {
	var (
		workspace string
		stage     string
		logsURL   string
		urls      []string
		degraded  bool
	)

	cmd := &cobra.Command{
		Use:       "render <started|success|failure>",
		Short:     "Preview a status comment",
		Long:      `Render the pull request status comment for a deployment phase.`,
		ValidArgs: []string{"started", "success", "failure"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		Example: `  # Comment posted when a preview deployment starts
  catalysst render started --stage pr-7

  # Comment posted after a successful deployment
  catalysst render success --stage pr-7 --url web=https://pr-7.example.dev --url api=`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := comments.New()

			var body string
			switch args[0] {
			case "started":
				body = r.Started(workspace, stage)
			case "success":
				parsed := make(map[string]string, len(urls))
				for _, kv := range urls {
					name, value, ok := strings.Cut(kv, "=")
					if !ok || name == "" {
						return fmt.Errorf("invalid --url %q, want name=url", kv)
					}
					parsed[name] = value
				}
				body = r.Success(stage, parsed, degraded)
			case "failure":
				body = r.Failure(workspace, stage, logsURL)
			}

			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", config.DefaultWorkspace, "console workspace")
	cmd.Flags().StringVarP(&stage, "stage", "s", "", "stage name")
	cmd.Flags().StringVar(&logsURL, "logs", "", "workflow logs URL (failure only)")
	cmd.Flags().StringArrayVar(&urls, "url", nil, "deployment URL as name=url (success only, repeatable)")
	cmd.Flags().BoolVar(&degraded, "degraded", false, "note that outputs could not be read (success only)")
	_ = cmd.MarkFlagRequired("stage")

	return cmd
}

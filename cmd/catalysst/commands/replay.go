package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/BoardAI/catalysst/pkg/webhook"
)

func newReplayCommand() *cobra.Command {
	var (
		eventType      string
		installationID int64
		dryRun         bool
	)

	cmd := &cobra.Command{
		Use:   "replay <payload.json>",
		Short: "Reconcile a saved webhook payload",
		Long: `Reconcile a webhook payload saved from the app's delivery log.

The payload is translated exactly as the server would translate it. With
--dry-run the remote state is observed and the plan printed, but no
action is applied.`,
		Example: `  # Print the plan a pull request delivery would produce
  catalysst replay pr-opened.json --event pull_request --dry-run

  # Apply a push delivery against a different installation
  catalysst replay push.json --event push --installation 4242`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServiceConfig()
			if err != nil {
				return err
			}

			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}

			event, err := webhook.Translate(eventType, "replay-"+uuid.NewString(), payload)
			if err != nil {
				return err
			}
			if event == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Delivery is ignored; nothing to do")
				return nil
			}
			if installationID > 0 {
				event.InstallationID = installationID
			}

			rt, err := newRuntime(cfg, log.Logger, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := log.Logger.With().
				Str("delivery_id", event.DeliveryID).
				Str("event", eventType).
				Logger().
				WithContext(cmd.Context())
			cp, err := rt.factory.ForInstallation(ctx, event.InstallationID)
			if err != nil {
				return err
			}

			if dryRun {
				plan, err := rt.reconciler.Preview(ctx, cp, event)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), plan)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Plan %s for %s (%s)\n", plan.ID, plan.Repository.FullName(), plan.Event)
				if plan.Stage != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Stage: %s\n", plan.Stage)
				}
				if len(plan.Actions) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No actions: %s\n", plan.Reason)
					return nil
				}
				for i, action := range plan.Actions {
					fmt.Fprintf(cmd.OutOrStdout(), "%2d. %-22s %-40s [%s]\n", i+1, action.Operation, action.Target(), action.Policy)
				}
				return nil
			}

			run, err := rt.reconciler.Reconcile(ctx, cp, event)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), run); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %s (%d succeeded, %d failed, %d skipped)\n",
					run.ID, run.Status, run.Summary.Succeeded, run.Summary.Failed, run.Summary.Skipped)
			}
			if run.Err != nil {
				return fmt.Errorf("run %s failed (retryable=%t): %w", run.ID, run.Retryable(), run.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&eventType, "event", "e", "", "webhook event type (pull_request, push, deployment_status)")
	cmd.Flags().Int64Var(&installationID, "installation", 0, "installation id (overrides the payload)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without applying it")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/designanalyzer/api/pkg/apiclient"
)

var submitCmd = &cobra.Command{
	Use:   "submit <url>",
	Short: "Start an analysis of a page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		callback, _ := cmd.Flags().GetString("callback")
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")

		client := newClient()
		sub, err := client.Submit(ctx, args[0], callback)
		if err != nil {
			return err
		}

		if !wait {
			return printJSON(cmd.OutOrStdout(), sub)
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "job %s accepted\n", sub.ID)
		return waitAndPrint(ctx, cmd, client, sub.ID, interval)
	},
}

func init() {
	submitCmd.Flags().String("callback", "", "URL to POST the final status to")
	submitCmd.Flags().Bool("wait", false, "Wait for the job to finish and print its status")
	submitCmd.Flags().Duration("interval", time.Second, "Polling interval with --wait")
	rootCmd.AddCommand(submitCmd)
}

// waitAndPrint follows a job to its end, reporting stage changes on stderr. A
// failed job is an error so the exit code reflects it.
func waitAndPrint(ctx context.Context, cmd *cobra.Command, client *apiclient.Client, id string, interval time.Duration) error {
	lastStage := ""
	status, err := client.Wait(ctx, id, interval, func(s *apiclient.Status) {
		if s.CurrentStage != "" && s.CurrentStage != lastStage {
			lastStage = s.CurrentStage
			fmt.Fprintf(cmd.ErrOrStderr(), "[%3d%%] %s\n", s.Progress, s.CurrentStage)
		}
	})
	if err != nil {
		return err
	}

	if err := printJSON(cmd.OutOrStdout(), status); err != nil {
		return err
	}
	if status.State == apiclient.StateFailed {
		return fmt.Errorf("job %s failed: %s", id, status.Error)
	}
	return nil
}

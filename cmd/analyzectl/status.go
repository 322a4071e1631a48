package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Print the current status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <id>",
	Short: "Print the report of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newClient().Result(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait <id>",
	Short: "Wait for a job to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		interval, _ := cmd.Flags().GetDuration("interval")
		return waitAndPrint(ctx, cmd, newClient(), args[0], interval)
	},
}

func init() {
	waitCmd.Flags().Duration("interval", time.Second, "Polling interval")
	rootCmd.AddCommand(statusCmd, resultCmd, waitCmd)
}

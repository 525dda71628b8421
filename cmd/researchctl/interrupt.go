package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"research-gateway/internal/client"
)

var interruptCmd = &cobra.Command{
	Use:   "interrupt <thread-id>",
	Short: "Show the plan review a thread is waiting on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID := args[0]
		pending, err := newClient(cmd).PendingInterrupt(cmd.Context(), threadID)
		if errors.Is(err, client.ErrNotFound) {
			fmt.Fprintf(cmd.OutOrStdout(), "Thread '%s' has no pending interrupt.\n", threadID)
			return nil
		}
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(pending, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <thread-id>",
	Short: "Stop the active stream of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).Stop(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped stream for thread '%s'\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(interruptCmd)
	rootCmd.AddCommand(stopCmd)
}

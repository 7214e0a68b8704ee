package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/outpost/id"
)

func runNowCmd(envFiles func() []string) *cobra.Command {
	return &cobra.Command{
		Use:   "run-now <schedule-id>",
		Short: "Run a schedule entry immediately and print the audit outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scheduleID, err := id.ParseScheduleID(args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, envFiles())
			if err != nil {
				return err
			}
			defer rt.close()

			audit, err := rt.engine.RunNow(ctx, scheduleID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", audit.ID, audit.Outcome)
			if audit.Error != "" {
				fmt.Fprintln(out, audit.Error)
			}
			return nil
		},
	}
}

func resetCmd(envFiles func() []string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <schedule-id>",
		Short: "Clear a schedule entry's dead-letter state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scheduleID, err := id.ParseScheduleID(args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, envFiles())
			if err != nil {
				return err
			}
			defer rt.close()

			return rt.engine.ResetDeadLetter(ctx, scheduleID)
		},
	}
}

// Command outpost runs the event queue worker and its administrative
// commands against a configured store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "outpost:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFiles []string

	command := &cobra.Command{
		Use:           "outpost",
		Short:         "Durable CMS event queue, scheduler and webhook fanout",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")

	load := func() []string { return envFiles }
	command.AddCommand(workerCmd(load))
	command.AddCommand(migrateCmd(load))
	command.AddCommand(enqueueCmd(load))
	command.AddCommand(runNowCmd(load))
	command.AddCommand(resetCmd(load))
	return command
}

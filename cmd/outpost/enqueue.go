package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/outpost/event"
)

func enqueueCmd(envFiles func() []string) *cobra.Command {
	var (
		siteID    string
		actorType string
		actorID   string
		payload   string
	)

	command := &cobra.Command{
		Use:   "enqueue <event>",
		Short: "Persist one event envelope on the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload is not valid JSON")
			}

			rt, err := newRuntime(ctx, envFiles())
			if err != nil {
				return err
			}
			defer rt.close()

			item, err := rt.engine.Enqueue(ctx, &event.Envelope{
				Name:      args[0],
				SiteID:    siteID,
				ActorType: event.ActorType(actorType),
				ActorID:   actorID,
				Payload:   json.RawMessage(payload),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), item.ID)
			return nil
		},
	}

	command.Flags().StringVar(&siteID, "site", "", "Site the event belongs to")
	command.Flags().StringVar(&actorType, "actor-type", string(event.ActorSystem), "anonymous, user, admin or system")
	command.Flags().StringVar(&actorID, "actor-id", "", "Actor identifier")
	command.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	return command
}

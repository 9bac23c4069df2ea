package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phrazzld/clinicdesk/internal/consumer"
	"github.com/phrazzld/clinicdesk/internal/events"
)

func newChannelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "Print the channel table as YAML",
		Long: `Prints every channel a viewer can receive, with the payload type it
carries. The table is versioned; a viewer built against one version can
check it against this output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			bus, err := events.NewBus(consumer.New(log), log, events.Channels()...)
			if err != nil {
				return fmt.Errorf("failed to create event bus: %w", err)
			}

			doc, err := bus.Describe().MarshalYAMLDocument()
			if err != nil {
				return fmt.Errorf("failed to render channel table: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}
}

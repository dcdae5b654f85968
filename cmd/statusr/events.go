package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/statusr"
	"github.com/loykin/statusr/internal/eventlog"
	"github.com/loykin/statusr/pkg/client"
)

func createEventsCommand(globalFlags *GlobalFlags) *cobra.Command {
	eventsFlags := &EventsFlags{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the most recent events, newest first",
		Long: `Read the newest records of the local event log, or of a running daemon
when --api-url is given.

Examples:
  statusr events --limit=10
  statusr events --json
  statusr events --api-url=http://localhost:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eventsFlags.ConfigPath = globalFlags.ConfigPath
			return runEvents(cmd.Context(), eventsFlags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&eventsFlags.Limit, "limit", eventlog.DefaultReadLimit, "maximum number of events")
	cmd.Flags().BoolVar(&eventsFlags.JSON, "json", false, "print JSON Lines instead of the console format")
	cmd.Flags().StringVar(&eventsFlags.APIUrl, "api-url", "", "daemon URL including base path (e.g. http://host:8000)")
	cmd.Flags().DurationVar(&eventsFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

func runEvents(ctx context.Context, flags *EventsFlags, out io.Writer) error {
	var events []statusr.Event
	if flags.APIUrl != "" {
		c := client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
		res, err := c.Events(ctx, flags.Limit)
		if err != nil {
			return fmt.Errorf("query daemon: %w", err)
		}
		for _, e := range res.Events {
			events = append(events, statusr.Event(e))
		}
	} else {
		cfg, _, err := loadConfig(flags.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		events, err = eventlog.Open(cfg.EventLog.Options()).ReadLast(flags.Limit)
		if err != nil {
			return err
		}
	}

	if flags.JSON {
		enc := json.NewEncoder(out)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	if len(events) == 0 {
		_, _ = fmt.Fprintln(out, "No events.")
		return nil
	}
	for _, e := range events {
		if _, err := fmt.Fprintf(out, "%s\n\n", statusr.FormatEvent(e)); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/statusr"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with all subcommands attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createPollCommand(globalFlags),
		createEventsCommand(globalFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "statusr",
		Short: "Status page event ingestion",
		Long: `Statusr polls provider status pages and receives their webhooks,
keeps only events it has not seen before and stores them in a bounded
JSON Lines event log.

Examples:
  statusr poll --config=statusr.toml           # Two poll rounds, print new events
  statusr serve --config=statusr.toml          # Scheduler + webhook/query API
  statusr events --limit=20                    # Read the local event log
  statusr events --api-url=http://host:8000    # Query a running daemon`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the statusr version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "statusr", statusr.Version)
		},
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/statusr"
)

func createPollCommand(globalFlags *GlobalFlags) *cobra.Command {
	pollFlags := &PollFlags{}
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll every target a few rounds and print new events",
		Long: `Poll all configured targets concurrently, print events not seen before,
wait the poll interval and repeat for the configured number of rounds.

Examples:
  statusr poll --config=statusr.toml
  statusr poll --config=statusr.toml --rounds=1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pollFlags.ConfigPath = globalFlags.ConfigPath
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPoll(ctx, pollFlags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&pollFlags.Rounds, "rounds", 0, "number of poll rounds (default poll.rounds)")
	cmd.Flags().DurationVar(&pollFlags.Interval, "interval", 0, "pause between rounds (default poll.interval)")
	return cmd
}

// runPoll returns an error only when configuration is unusable. Failed
// targets are logged and retried next round.
func runPoll(ctx context.Context, flags *PollFlags, out io.Writer) error {
	cfg, logger, err := loadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.RequireTargets(); err != nil {
		return err
	}
	rounds := cfg.Poll.Rounds
	if flags.Rounds > 0 {
		rounds = flags.Rounds
	}
	interval := cfg.Poll.Interval
	if flags.Interval > 0 {
		interval = flags.Interval
	}

	if out == nil {
		out = os.Stdout
	}
	svc, err := statusr.NewService(cfg, out, logger)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	if _, err := svc.Seed(ctx); err != nil {
		logger.Warn("Failed to seed detector from event log", "error", err)
	}

	for round := 1; round <= rounds; round++ {
		res, err := svc.PollOnce(ctx)
		if err != nil {
			logger.Warn("Poll round had errors", "round", round, "error", err)
		}
		total := 0
		for _, events := range res {
			total += len(events)
		}
		logger.Debug("Poll round finished", "round", round, "new", total)

		if round == rounds {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

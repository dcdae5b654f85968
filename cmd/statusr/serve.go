package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/statusr"
)

const shutdownTimeout = 10 * time.Second

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the scheduler and the webhook/query API",
		Long: `Start the statusr daemon: every target is polled on its interval,
webhooks are accepted on {base_path}/webhook and recent events are served
on {base_path}/events.

Examples:
  statusr serve --config=statusr.toml
  statusr serve statusr.toml --listen=:9000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "API listen address (overrides server.listen)")
	cmd.Flags().BoolVar(&serveFlags.NonBlocking, "non-blocking", false, "start everything and return immediately (testing)")
	return cmd
}

func runServe(ctx context.Context, flags *ServeFlags) error {
	cfg, logger, err := loadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}

	// metrics on their own listener only when one is configured
	metricsOnAPI := false
	if cfg.Metrics.Enabled {
		if err := statusr.RegisterMetricsDefault(); err != nil {
			logger.Warn("Failed to register metrics", "error", err)
		} else if cfg.Metrics.Listen != "" {
			go func() {
				if err := statusr.ServeMetrics(cfg.Metrics.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics server error", "error", err)
				}
			}()
		} else {
			metricsOnAPI = true
		}
	}

	svc, err := statusr.NewService(cfg, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if n, err := svc.Seed(ctx); err != nil {
		logger.Warn("Failed to seed detector from event log", "error", err)
	} else if n > 0 {
		logger.Info("Detector seeded", "records", n)
	}

	sch, err := svc.Scheduler()
	if err != nil {
		return fmt.Errorf("failed to schedule targets: %w", err)
	}
	if len(sch.Targets()) == 0 {
		logger.Warn("No targets configured; only webhooks will be ingested")
	}
	if err := sch.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	server, err := svc.NewHTTPServer(metricsOnAPI)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = sch.Stop(stopCtx)
		return fmt.Errorf("failed to create API server: %w", err)
	}
	protocol := "HTTP"
	if server.TLSConfig != nil {
		protocol = "HTTPS"
	}
	logger.Info("Starting statusr server", "protocol", protocol, "listen", cfg.Server.Listen,
		"base_path", cfg.Server.BasePath, "targets", len(sch.Targets()))

	if !flags.NonBlocking {
		<-ctx.Done()
	}

	logger.Info("Shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = server.Shutdown(stopCtx)
	if serr := sch.Stop(stopCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

package main

import (
	"log/slog"

	"github.com/loykin/statusr"
)

// loadConfig reads path, or defaults plus environment when path is empty,
// and installs the configured logger as the slog default.
func loadConfig(path string) (*statusr.Config, *slog.Logger, error) {
	cfg, err := statusr.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Log.NewSlogger()
	slog.SetDefault(logger)
	return cfg, logger, nil
}

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/motolink/pkg/config"
)

// loadConfig reads the file named by --config and applies the command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	// --log-level takes precedence over --verbose
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	if path, _ := cmd.Flags().GetString("frame-log"); path != "" {
		cfg.FrameLog = path
	}
	return cfg, nil
}

// configureLogger creates the logger for a command. Logs go to stderr so
// stdout carries only command output.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	if _, err := cfg.Level(); err != nil {
		return nil, fmt.Errorf("%w (must be debug, info, warn, or error)", err)
	}
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}

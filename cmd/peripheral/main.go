package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/peripheral-blue/config"
	"github.com/user/peripheral-blue/logger"
)

var rootCmd = &cobra.Command{
	Use:   "peripheral",
	Short: "Simulated BLE peripheral server",
	Long: `Publishes a GATT service over a simulated radio.

- serve: listen for centrals on a Unix socket
- demo: run the demonstration scenario on an in-process radio
- central: talk to a served peripheral (scan, read, write, subscribe)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogger(cmd)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(centralCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (default: the demonstration peripheral)")
}

// configureLogger applies --log-level. Commands that load a config apply
// its level afterwards unless the flag was given.
func configureLogger(cmd *cobra.Command) error {
	levelStr, _ := cmd.Flags().GetString("log-level")
	if levelStr == "" {
		return nil
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}

	if !cmd.Flags().Changed("log-level") {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(level)
	}
	return cfg, nil
}

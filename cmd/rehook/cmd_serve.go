// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbeema/rehook/pkg/config"
	"github.com/mbeema/rehook/pkg/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rehook daemon",
	Long: `Run the rehook daemon.

The daemon owns the syscall table and the activation state, and accepts
control requests on a unix socket. On shutdown the active hook set is
disabled.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("no-watch", false, "do not reload the config file when it changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, level, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting rehook daemon",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("config", path),
	)

	opts := daemon.Options{Version: version, Level: &level}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); !noWatch {
		opts.ConfigPath = path
	}

	d, err := daemon.New(cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		d.Stop()
		return fmt.Errorf("start daemon: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP for config reload
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()

			shutdownDone := make(chan error, 1)
			go func() { shutdownDone <- d.Stop() }()

			select {
			case err := <-shutdownDone:
				if err != nil {
					logger.Error("error during shutdown", zap.Error(err))
					return err
				}
				logger.Info("rehook daemon stopped")
				return nil
			case <-time.After(30 * time.Second):
				return fmt.Errorf("shutdown timed out after 30s")
			}

		case <-hupCh:
			if path == "" {
				logger.Warn("received SIGHUP but no config file is in use")
				continue
			}
			logger.Info("received SIGHUP, reloading configuration")
			next, err := config.Load(path)
			if err != nil {
				logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			if err := d.Reload(next); err != nil {
				logger.Error("failed to apply new config", zap.Error(err))
			}
		}
	}
}

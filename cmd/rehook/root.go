// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mbeema/rehook/pkg/config"
	"github.com/mbeema/rehook/pkg/control"
)

var rootCmd = &cobra.Command{
	Use:   "rehook",
	Short: "Toggle the minimal and target syscall hook sets",
	Long: `rehook switches between two mutually exclusive syscall hook sets.

At most one set is active at a time. Enabling one set while the other is
active fails; disable the active set first.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", config.DefaultPath, "path to configuration file")
	pf.String("socket", "", "control socket path (overrides control.socket_path)")
	pf.String("token", "", "control token (overrides control.token)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", pf.Lookup("config"))
	viper.BindPFlag("socket", pf.Lookup("socket"))
	viper.BindPFlag("token", pf.Lookup("token"))
	viper.BindPFlag("log-level", pf.Lookup("log-level"))

	viper.BindEnv("config", "REHOOK_CONFIG")
	viper.BindEnv("socket", "REHOOK_CONTROL_SOCKET")
	viper.BindEnv("token", "REHOOK_CONTROL_TOKEN")
	viper.BindEnv("log-level", "REHOOK_LOG_LEVEL")
}

// loadConfig reads the config file named by --config. A missing file at the
// default location falls back to defaults; an explicit path must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := viper.GetString("config")
	explicit := cmd.Flags().Changed("config") || os.Getenv("REHOOK_CONFIG") != ""

	cfg, err := config.LoadOrDefault(path, !explicit)
	if err != nil {
		return nil, "", err
	}

	if v := viper.GetString("socket"); v != "" {
		cfg.Control.SocketPath = v
	}
	if v := viper.GetString("token"); v != "" {
		cfg.Control.Token = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	return cfg, path, nil
}

// newClient builds a control client from the effective configuration.
func newClient(cmd *cobra.Command) (*control.Client, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	token, err := cfg.Control.ResolveToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("no control token: use --token, REHOOK_CONTROL_TOKEN or control.token in %s", viper.GetString("config"))
	}
	c := control.NewClient(cfg.Control.SocketPath, token)
	c.Timeout = cfg.Control.IOTimeout
	return c, nil
}

// newLogger builds the daemon logger: console output on stderr, plus JSON
// lines to a rotated file when log_file.path is set. The returned level can
// be changed at runtime.
func newLogger(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, level, fmt.Errorf("parse log level: %w", err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level),
	}

	if lf := cfg.LogFile; lf.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   lf.Path,
			MaxSize:    lf.MaxSizeMB,
			MaxBackups: lf.MaxBackups,
			MaxAge:     lf.MaxAgeDays,
			Compress:   lf.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), level, nil
}

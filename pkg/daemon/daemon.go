// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mbeema/rehook/pkg/activation"
	"github.com/mbeema/rehook/pkg/config"
	"github.com/mbeema/rehook/pkg/control"
	"github.com/mbeema/rehook/pkg/export"
	"github.com/mbeema/rehook/pkg/health"
	"github.com/mbeema/rehook/pkg/hook"
	"github.com/mbeema/rehook/pkg/journal"
)

// ErrNoToken is returned by New when neither control.token nor
// control.token_file yields a token.
var ErrNoToken = errors.New("control token is not configured")

// Options carries what New cannot read from the config.
type Options struct {
	Version string
	// ConfigPath enables live reload of the file when non-empty.
	ConfigPath string
	// Level is adjusted on reload when set.
	Level *zap.AtomicLevel
	// Table replaces the native syscall table.
	Table *hook.SlotTable
}

// Daemon wires the hook table, activation coordinator, control socket and
// the observers of state transitions together.
// Config is stored as atomic pointer, safe for concurrent access.
type Daemon struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger
	opts   Options

	platform    hook.Platform
	table       *hook.SlotTable
	filters     map[string]*hook.CredentialFilter
	installer   *hook.Installer
	coordinator *activation.Coordinator
	stateFile   *activation.StateFile
	journal     *journal.Journal
	exporter    *export.Manager
	gate        *control.Gate
	server      *control.Server
	watcher     *config.Watcher

	healthServer *health.Server
	healthStats  *health.Stats

	mu       sync.Mutex
	cancel   context.CancelFunc
	started  bool
	stopOnce sync.Once
}

// New builds every component from cfg. Nothing is hooked and no socket is
// opened until Start.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Daemon{
		logger:  logger,
		opts:    opts,
		filters: make(map[string]*hook.CredentialFilter, 2),
	}
	d.cfg.Store(cfg)

	token, err := cfg.Control.ResolveToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoToken
	}

	// Syscall table: native on supported platforms, injectable for tests
	d.platform = hook.DetectPlatform()
	d.table = opts.Table
	if d.table == nil {
		if !d.platform.Native {
			logger.Warn("native syscall table unavailable, hook sets will not install",
				zap.String("reason", d.platform.Reason))
		}
		d.table, err = hook.NewNativeTable(logger.Named("hook"))
		if err != nil {
			return nil, fmt.Errorf("create syscall table: %w", err)
		}
	}

	minimal, err := d.buildSet(hook.SetMinimal, cfg.Hooks.Minimal, cfg.Filter)
	if err != nil {
		return nil, err
	}
	target, err := d.buildSet(hook.SetTarget, cfg.Hooks.Target, cfg.Filter)
	if err != nil {
		return nil, err
	}

	d.installer = hook.NewInstaller(d.table, logger.Named("hook"))
	d.coordinator, err = activation.NewCoordinator(activation.NewStateCell(), d.installer, minimal, target, logger.Named("activation"))
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	// Observers run in registration order: state file, journal, audit export
	d.stateFile, err = activation.CreateStateFile(cfg.StateDir, logger)
	if err != nil {
		return nil, err
	}
	d.coordinator.OnTransition(d.stateFile.Observe)

	if cfg.Journal.Enabled {
		d.journal, err = journal.Open(cfg.Journal.Path, logger.Named("journal"))
		if err != nil {
			d.stateFile.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		d.coordinator.OnTransition(d.journal.Observe)
	}

	d.exporter, err = export.NewManager(&cfg.Exporters, logger.Named("export"))
	if err != nil {
		d.closeStores()
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	d.coordinator.OnTransition(d.exporter.Observe)

	d.gate = control.NewGate(d.coordinator, token, logger.Named("control"))
	d.server = control.NewServer(control.ServerConfig{
		SocketPath:     cfg.Control.SocketPath,
		MaxConnections: cfg.Control.MaxConnections,
		IOTimeout:      cfg.Control.IOTimeout,
	}, d.gate, logger.Named("control"))

	filters := make(map[string]health.FilterSource, len(d.filters))
	for name, f := range d.filters {
		filters[name] = f
	}
	d.healthStats = health.NewStats(health.Sources{
		Coordinator: d.coordinator,
		Gate:        d.gate,
		Table:       d.table,
		Filters:     filters,
		Export:      d.exporter,
	})
	if cfg.Health.Enabled {
		d.healthServer = health.NewServer(cfg.Health.Port, opts.Version, d.healthStats, logger.Named("health"))
	}

	return d, nil
}

// buildSet resolves a configured hook set against the syscall name table
// and gives it its own credential filter.
func (d *Daemon) buildSet(name string, sc config.HookSetConfig, fc config.FilterConfig) (*hook.SetDescriptor, error) {
	nrs, err := hook.ResolveSyscalls(sc.Syscalls)
	if err != nil {
		return nil, fmt.Errorf("hooks.%s: %w", name, err)
	}
	filter := hook.NewCredentialFilter(fc.PrivilegedUID, fc.Enforce)
	set, err := hook.NewSet(name, nrs, filter, sc.Arity)
	if err != nil {
		return nil, fmt.Errorf("hooks.%s: %w", name, err)
	}
	d.filters[name] = filter
	return set, nil
}

// Start begins serving control requests.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.exporter.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start exporter: %w", err)
	}

	if err := d.server.Start(ctx); err != nil {
		cancel()
		d.exporter.Stop()
		return fmt.Errorf("start control server: %w", err)
	}

	if d.healthServer != nil {
		if err := d.healthServer.Start(ctx); err != nil {
			d.logger.Warn("health server failed to start", zap.Error(err))
			d.healthServer = nil
		}
	}

	if d.opts.ConfigPath != "" {
		d.watcher = config.NewWatcher(d.opts.ConfigPath, func(next *config.Config) {
			if err := d.Reload(next); err != nil {
				d.logger.Error("failed to apply reloaded config", zap.Error(err))
			}
		}, d.logger.Named("config"))
		if err := d.watcher.Start(ctx); err != nil {
			d.logger.Warn("config watcher failed to start", zap.Error(err))
			d.watcher = nil
		}
	}

	d.started = true
	if d.healthServer != nil {
		d.healthServer.SetReady(true)
	}

	cfg := d.cfg.Load()
	d.logger.Info("rehook daemon started",
		zap.String("socket", d.server.Addr()),
		zap.String("kernel", d.platform.KernelVersion),
		zap.String("arch", d.platform.Arch),
		zap.Int("table_slots", d.table.Len()),
		zap.Strings("minimal", cfg.Hooks.Minimal.Syscalls),
		zap.Strings("target", cfg.Hooks.Target.Syscalls),
		zap.Bool("enforce", cfg.Filter.Enforce),
		zap.Bool("journal", d.journal != nil),
	)
	return nil
}

// Stop stops accepting requests, unhooks the active set and releases every
// resource. It is safe to call more than once.
func (d *Daemon) Stop() error {
	var firstErr error
	d.stopOnce.Do(func() {
		// The watcher callback takes d.mu, so the watcher is stopped first.
		d.mu.Lock()
		w := d.watcher
		d.mu.Unlock()
		if w != nil {
			w.Stop()
		}

		d.mu.Lock()
		defer d.mu.Unlock()

		if d.healthServer != nil {
			d.healthServer.SetReady(false)
		}
		if d.started {
			d.server.Stop()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.coordinator.Close(ctx); err != nil {
			d.logger.Error("failed to unhook active set", zap.Error(err))
			firstErr = err
		}

		d.exporter.Stop()
		if d.cancel != nil {
			d.cancel()
		}
		if d.healthServer != nil {
			d.healthServer.Stop()
		}
		d.closeStores()

		snap := d.coordinator.Snapshot()
		gs := d.gate.Stats()
		d.logger.Info("rehook daemon stopped",
			zap.Uint64("transitions", snap.Transitions),
			zap.Int64("conflicts", snap.Conflicts),
			zap.Int64("requests", gs.Requests),
			zap.Int64("unauthorized", gs.Unauthorized),
			zap.Int("still_hooked", d.table.HookedCount()),
		)
	})
	return firstErr
}

func (d *Daemon) closeStores() {
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("failed to close journal", zap.Error(err))
		}
	}
	if d.stateFile != nil {
		d.stateFile.Close()
		d.stateFile.Remove()
	}
}

// Reload applies the live-reloadable parts of cfg: control token, filter
// policy and log level. Hook set definitions and paths keep their startup
// values until restart.
func (d *Daemon) Reload(next *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.cfg.Load()
	for _, field := range cur.Reloadable(next) {
		d.logger.Warn("config field changed but requires restart", zap.String("field", field))
	}

	token, err := next.Control.ResolveToken()
	if err != nil {
		d.healthStats.ConfigReloadErrors.Add(1)
		return fmt.Errorf("resolve control token: %w", err)
	}
	if token == "" {
		d.healthStats.ConfigReloadErrors.Add(1)
		return ErrNoToken
	}

	var level zapcore.Level
	if d.opts.Level != nil {
		level, err = zapcore.ParseLevel(next.LogLevel)
		if err != nil {
			d.healthStats.ConfigReloadErrors.Add(1)
			return fmt.Errorf("parse log level: %w", err)
		}
	}

	d.gate.SetToken(token)
	for _, f := range d.filters {
		f.SetPolicy(next.Filter.PrivilegedUID, next.Filter.Enforce)
	}
	if d.opts.Level != nil {
		d.opts.Level.SetLevel(level)
	}

	// Fixed fields keep their running values so Reloadable keeps comparing
	// against what is actually in effect.
	merged := *next
	merged.Hooks = cur.Hooks
	merged.StateDir = cur.StateDir
	merged.Journal = cur.Journal
	merged.Control.SocketPath = cur.Control.SocketPath
	d.cfg.Store(&merged)
	d.healthStats.ConfigReloads.Add(1)

	d.logger.Info("configuration reloaded",
		zap.String("log_level", next.LogLevel),
		zap.Uint32("privileged_uid", next.Filter.PrivilegedUID),
		zap.Bool("enforce", next.Filter.Enforce),
	)
	return nil
}

// Coordinator returns the activation coordinator.
func (d *Daemon) Coordinator() *activation.Coordinator {
	return d.coordinator
}

// Gate returns the control gate.
func (d *Daemon) Gate() *control.Gate {
	return d.gate
}

// Stats returns the self-monitoring counters.
func (d *Daemon) Stats() *health.Stats {
	return d.healthStats
}

// SocketPath returns the control socket path.
func (d *Daemon) SocketPath() string {
	return d.server.Addr()
}

// Config returns the configuration currently in effect.
func (d *Daemon) Config() *config.Config {
	return d.cfg.Load()
}

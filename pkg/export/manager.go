// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/rehook/pkg/activation"
	"github.com/mbeema/rehook/pkg/config"
)

// Exporter ships batches of audit events.
type Exporter interface {
	ExportEvents(ctx context.Context, events []*Event) error
	Shutdown(ctx context.Context) error
}

const (
	defaultBatchSize     = 64
	defaultFlushInterval = 2 * time.Second
	defaultChannelSize   = 1024

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
)

// Manager batches audit events and fans them out to the configured
// exporters. Enqueueing never blocks the caller: when the queue is full the
// event is dropped and counted.
type Manager struct {
	logger    *zap.Logger
	exporters []Exporter

	eventCh chan *Event

	exportCount atomic.Int64
	dropCount   atomic.Int64

	batchSize     int
	flushInterval time.Duration

	circuitBreaker *CircuitBreaker

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates an export manager from configuration. An exporter
// that cannot be created is logged and skipped.
func NewManager(cfg *config.ExportersConfig, logger *zap.Logger) (*Manager, error) {
	var exporters []Exporter

	if cfg.OTLP.Enabled {
		exp, err := NewOTLPExporter(&cfg.OTLP, logger)
		if err != nil {
			logger.Warn("failed to create OTLP exporter", zap.Error(err))
		} else {
			exporters = append(exporters, exp)
		}
	}

	if cfg.Stdout.Enabled {
		exporters = append(exporters, NewStdoutExporter(cfg.Stdout.Format, logger))
	}

	return NewManagerWith(exporters, logger), nil
}

// NewManagerWith creates a manager over explicit exporters.
func NewManagerWith(exporters []Exporter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:         logger,
		exporters:      exporters,
		eventCh:        make(chan *Event, defaultChannelSize),
		batchSize:      defaultBatchSize,
		flushInterval:  defaultFlushInterval,
		circuitBreaker: NewCircuitBreaker(5, 30*time.Second),
		stopCh:         make(chan struct{}),
	}
}

// Start begins the batch export goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.processEvents(ctx)

	m.logger.Info("export manager started",
		zap.Int("exporters", len(m.exporters)),
		zap.Int("batch_size", m.batchSize),
		zap.Duration("flush_interval", m.flushInterval),
	)
	return nil
}

// Stop flushes remaining events and shuts down exporters.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, exp := range m.exporters {
		if err := exp.Shutdown(ctx); err != nil {
			m.logger.Error("exporter shutdown error", zap.Error(err))
		}
	}

	m.logger.Info("export manager stopped",
		zap.Int64("events_exported", m.exportCount.Load()),
		zap.Int64("dropped", m.dropCount.Load()),
	)
	return nil
}

// Export queues an event.
func (m *Manager) Export(ev *Event) {
	select {
	case m.eventCh <- ev:
	default:
		m.dropCount.Add(1)
		m.logger.Warn("audit channel full, dropping event")
	}
}

// Observe is a transition observer that queues the matching audit event.
func (m *Manager) Observe(t activation.Transition) {
	if len(m.exporters) == 0 {
		return
	}
	m.Export(EventFromTransition(t))
}

func (m *Manager) processEvents(ctx context.Context) {
	defer m.wg.Done()

	batch := make([]*Event, 0, m.batchSize)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	drain := func(flushCtx context.Context) {
		for {
			select {
			case ev := <-m.eventCh:
				batch = append(batch, ev)
			default:
				if len(batch) > 0 {
					m.flushEvents(flushCtx, batch)
				}
				return
			}
		}
	}

	for {
		select {
		case ev := <-m.eventCh:
			batch = append(batch, ev)
			if len(batch) >= m.batchSize {
				m.flushEvents(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				m.flushEvents(ctx, batch)
				batch = batch[:0]
			}

		case <-m.stopCh:
			drain(ctx)
			return

		case <-ctx.Done():
			drain(context.Background())
			return
		}
	}
}

func (m *Manager) flushEvents(ctx context.Context, events []*Event) {
	out := make([]*Event, len(events))
	copy(out, events)
	for _, exp := range m.exporters {
		m.retryExport(ctx, func(expCtx context.Context) error {
			return exp.ExportEvents(expCtx, out)
		})
	}
	m.exportCount.Add(int64(len(out)))
}

// retryExport attempts an export with exponential backoff and circuit breaker.
func (m *Manager) retryExport(ctx context.Context, exportFn func(context.Context) error) {
	if !m.circuitBreaker.Allow() {
		m.dropCount.Add(1)
		m.logger.Debug("circuit breaker open, dropping export")
		return
	}

	backoff := initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		exportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := exportFn(exportCtx)
		cancel()

		if err == nil {
			m.circuitBreaker.RecordSuccess()
			return
		}

		m.circuitBreaker.RecordFailure()

		if attempt == maxRetries {
			m.logger.Error("export failed after retries",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			m.dropCount.Add(1)
			return
		}

		m.logger.Warn("export failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff = time.Duration(math.Min(
			float64(backoff)*backoffFactor,
			float64(maxBackoff),
		))
	}
}

// Exported returns the number of events handed to exporters.
func (m *Manager) Exported() int64 {
	return m.exportCount.Load()
}

// DropCount returns the number of dropped events or batches.
func (m *Manager) DropCount() int64 {
	return m.dropCount.Load()
}

// QueueDepth returns the current queue fill level.
func (m *Manager) QueueDepth() int {
	return len(m.eventCh)
}

// Breaker returns the manager's circuit breaker.
func (m *Manager) Breaker() *CircuitBreaker {
	return m.circuitBreaker
}

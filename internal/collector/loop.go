package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smukkama/plant-monitor/internal/metrics"
	"github.com/smukkama/plant-monitor/internal/protocol"
	"github.com/smukkama/plant-monitor/internal/sensor"
)

// State is the position of the loop in its sampling cycle.
type State int32

const (
	StateIdle State = iota
	StateSampling
	StatePersisting
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSampling:
		return "Sampling"
	case StatePersisting:
		return "Persisting"
	case StateSleeping:
		return "Sleeping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// TickOutcome summarises what happened to one tick.
type TickOutcome string

const (
	OutcomeAccepted    TickOutcome = "accepted"
	OutcomeDiscarded   TickOutcome = "discarded"
	OutcomeStoreFailed TickOutcome = "store_failed"
)

// Appender is the write side of the sample store.
type Appender interface {
	Append(ctx context.Context, r protocol.Reading) error
}

// Loop samples the bus at a fixed interval and persists complete readings.
// It owns the bus: Run releases it on every exit path.
type Loop struct {
	bus      sensor.Bus
	store    Appender
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	state    atomic.Int32
	ticks    atomic.Uint64
}

// NewLoop creates a new collection loop
func NewLoop(bus sensor.Bus, store Appender, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Loop {
	return &Loop{
		bus:      bus,
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
}

// State returns the current loop state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run samples until ctx is cancelled. Cancellation is observed at the sleep
// boundary only; a tick in flight runs to completion. The interval is fixed:
// a slow tick delays the next one and nothing is caught up. Run returns nil
// on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.setState(StateStopped)
		if err := l.bus.Close(); err != nil {
			l.logger.Error("sensor_bus_release_failed", "error", err)
		}
	}()

	l.logger.Info("collection_started", "interval", l.interval.String())
	for {
		l.RunOnce(ctx)

		l.setState(StateSleeping)
		if !sleep(ctx, l.interval) {
			l.logger.Info("collection_stopped", "ticks", l.Ticks())
			return nil
		}
	}
}

// RunOnce performs a single read → validate → persist tick. Hardware and
// storage faults are logged and reported through the outcome, never returned.
func (l *Loop) RunOnce(ctx context.Context) (outcome TickOutcome) {
	tickCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tick_fault", "panic", fmt.Sprint(r))
			outcome = OutcomeDiscarded
		}
		l.ticks.Add(1)
		l.metrics.Tick(string(outcome))
	}()

	l.setState(StateSampling)
	sample := l.bus.Read(tickCtx)
	reading := sample.Reading()

	if !reading.Complete() {
		attrs := []any{"timestamp", sample.Timestamp.Format(time.RFC3339)}
		for m, err := range sample.Failures() {
			attrs = append(attrs, string(m), err.Error())
		}
		l.logger.Warn("tick_discarded", attrs...)
		return OutcomeDiscarded
	}

	l.setState(StatePersisting)
	if err := l.store.Append(tickCtx, reading); err != nil {
		l.logger.Warn("tick_store_failed", "timestamp", reading.Timestamp.Format(time.RFC3339), "error", err)
		return OutcomeStoreFailed
	}

	l.logger.Debug("tick_accepted", "reading", reading.String())
	return OutcomeAccepted
}

// sleep waits for d or until ctx is done; it reports whether the full
// interval elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

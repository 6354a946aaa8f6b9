package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smukkama/plant-monitor/internal/protocol"
	"github.com/smukkama/plant-monitor/pkg/config"
)

var (
	ErrBusClosed   = errors.New("sensor bus is closed")
	ErrReadTimeout = errors.New("sensor read timed out")
)

// ChannelResult is the outcome of reading a single channel.
type ChannelResult struct {
	Value float64
	Err   error
}

// Sample is one read of every channel. Channels fail independently.
type Sample struct {
	Timestamp    time.Time
	SoilMoisture ChannelResult
	Temperature  ChannelResult
	Light        ChannelResult
}

// Reading converts the sample, leaving failed channels absent.
func (s Sample) Reading() protocol.Reading {
	return protocol.Reading{
		Timestamp:    s.Timestamp,
		SoilMoisture: present(s.SoilMoisture),
		Temperature:  present(s.Temperature),
		Light:        present(s.Light),
	}
}

// Failures returns the error of every failed channel keyed by metric.
func (s Sample) Failures() map[protocol.Metric]error {
	out := make(map[protocol.Metric]error)
	for m, res := range map[protocol.Metric]ChannelResult{
		protocol.MetricSoilMoisture: s.SoilMoisture,
		protocol.MetricTemperature:  s.Temperature,
		protocol.MetricLight:        s.Light,
	} {
		if res.Err != nil {
			out[m] = res.Err
		}
	}
	return out
}

func present(res ChannelResult) *float64 {
	if res.Err != nil {
		return nil
	}
	return protocol.Float(res.Value)
}

// Reader performs one hardware transaction per call. It never retries.
type Reader interface {
	Read(ctx context.Context) Sample
}

// Bus is an exclusively owned sensor bus. Close releases the hardware and is
// safe to call more than once.
type Bus interface {
	Reader
	Close() error
}

// Open acquires the bus selected by cfg.Driver.
func Open(cfg config.SensorConfig, logger *slog.Logger) (Bus, error) {
	switch cfg.Driver {
	case "gpio":
		return OpenGPIO(cfg, logger)
	case "simulated":
		return NewSimulatedBus(cfg.SimulatedFailureRate, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown sensor driver: %s", cfg.Driver)
	}
}

// readChannel runs fn with an upper bound of timeout. A read that does not
// finish in time is reported as ErrReadTimeout; the hardware call is left to
// finish on its own.
func readChannel(ctx context.Context, timeout time.Duration, fn func() (float64, error)) ChannelResult {
	if err := ctx.Err(); err != nil {
		return ChannelResult{Err: err}
	}

	done := make(chan ChannelResult, 1)
	go func() {
		v, err := fn()
		done <- ChannelResult{Value: v, Err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res
	case <-timer.C:
		return ChannelResult{Err: ErrReadTimeout}
	case <-ctx.Done():
		return ChannelResult{Err: ctx.Err()}
	}
}

package sensor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrSimulatedFault is the error injected by SimulatedBus.
var ErrSimulatedFault = errors.New("simulated channel fault")

// SimulatedBus produces synthetic readings for running without hardware.
// Each channel fails independently with probability failureRate.
type SimulatedBus struct {
	mu          sync.Mutex
	rng         *rand.Rand
	failureRate float64
	closed      bool
	now         func() time.Time
}

func NewSimulatedBus(failureRate float64, seed int64) *SimulatedBus {
	return &SimulatedBus{
		rng:         rand.New(rand.NewSource(seed)),
		failureRate: failureRate,
		now:         time.Now,
	}
}

func (s *SimulatedBus) Read(ctx context.Context) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := Sample{Timestamp: s.now()}
	if s.closed {
		sample.SoilMoisture = ChannelResult{Err: ErrBusClosed}
		sample.Temperature = ChannelResult{Err: ErrBusClosed}
		sample.Light = ChannelResult{Err: ErrBusClosed}
		return sample
	}
	if err := ctx.Err(); err != nil {
		sample.SoilMoisture = ChannelResult{Err: err}
		sample.Temperature = ChannelResult{Err: err}
		sample.Light = ChannelResult{Err: err}
		return sample
	}

	sample.SoilMoisture = s.channel(30, 40) // 30–70 %
	sample.Temperature = s.channel(18, 10)  // 18–28 °C
	sample.Light = s.channel(200, 800)      // 200–1000 lux
	return sample
}

func (s *SimulatedBus) channel(base, spread float64) ChannelResult {
	if s.failureRate > 0 && s.rng.Float64() < s.failureRate {
		return ChannelResult{Err: ErrSimulatedFault}
	}
	return ChannelResult{Value: base + s.rng.Float64()*spread}
}

func (s *SimulatedBus) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/smukkama/plant-monitor/pkg/config"
)

// GPIOBus reads soil moisture and light from digital GPIO pins and
// temperature from an SHT2x on the I2C bus of a Raspberry Pi.
type GPIOBus struct {
	adaptor  *raspi.Adaptor
	moisture *gpio.DirectPinDriver
	light    *gpio.DirectPinDriver
	thermo   *i2c.SHT2xDriver
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenGPIO connects the adaptor and starts every driver. On any failure the
// pieces already acquired are released before returning.
func OpenGPIO(cfg config.SensorConfig, logger *slog.Logger) (*GPIOBus, error) {
	r := raspi.NewAdaptor()
	if err := r.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect raspi adaptor: %w", err)
	}

	b := &GPIOBus{
		adaptor:  r,
		moisture: gpio.NewDirectPinDriver(r, cfg.SoilMoisturePin),
		light:    gpio.NewDirectPinDriver(r, cfg.LightPin),
		thermo:   i2c.NewSHT2xDriver(r, i2c.WithBus(cfg.TemperatureI2CBus)),
		timeout:  cfg.ReadTimeout,
		logger:   logger,
	}

	starters := []struct {
		name  string
		start func() error
	}{
		{"soil_moisture", b.moisture.Start},
		{"light", b.light.Start},
		{"temperature", b.thermo.Start},
	}
	for _, s := range starters {
		if err := s.start(); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to start %s driver: %w", s.name, err)
		}
	}

	logger.Info("sensor_bus_acquired",
		"driver", "gpio",
		"soil_moisture_pin", cfg.SoilMoisturePin,
		"light_pin", cfg.LightPin,
		"i2c_bus", cfg.TemperatureI2CBus)
	return b, nil
}

func (b *GPIOBus) Read(ctx context.Context) Sample {
	s := Sample{Timestamp: time.Now()}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		s.SoilMoisture = ChannelResult{Err: ErrBusClosed}
		s.Temperature = ChannelResult{Err: ErrBusClosed}
		s.Light = ChannelResult{Err: ErrBusClosed}
		return s
	}

	s.SoilMoisture = readChannel(ctx, b.timeout, digital(b.moisture))
	s.Temperature = readChannel(ctx, b.timeout, func() (float64, error) {
		t, err := b.thermo.Temperature()
		return float64(t), err
	})
	s.Light = readChannel(ctx, b.timeout, digital(b.light))
	return s
}

func digital(d *gpio.DirectPinDriver) func() (float64, error) {
	return func() (float64, error) {
		v, err := d.DigitalRead()
		return float64(v), err
	}
}

// Close halts the drivers and finalizes the adaptor, releasing the GPIO lines.
func (b *GPIOBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for name, halt := range map[string]func() error{
		"soil_moisture": b.moisture.Halt,
		"light":         b.light.Halt,
		"temperature":   b.thermo.Halt,
	} {
		if err := halt(); err != nil {
			b.logger.Warn("sensor_driver_halt_failed", "channel", name, "error", err)
		}
	}

	if err := b.adaptor.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize raspi adaptor: %w", err)
	}
	b.logger.Info("sensor_bus_released", "driver", "gpio")
	return nil
}

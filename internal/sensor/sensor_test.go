package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smukkama/plant-monitor/internal/logging"
	"github.com/smukkama/plant-monitor/internal/protocol"
	"github.com/smukkama/plant-monitor/pkg/config"
)

func TestSample_ReadingLeavesFailedChannelsAbsent(t *testing.T) {
	fault := errors.New("adc not responding")
	s := Sample{
		Timestamp:    time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC),
		SoilMoisture: ChannelResult{Value: 40},
		Temperature:  ChannelResult{Err: fault},
		Light:        ChannelResult{Value: 0},
	}

	r := s.Reading()
	require.False(t, r.Complete())
	require.Equal(t, []protocol.Metric{protocol.MetricTemperature}, r.Missing())
	require.NotNil(t, r.Light, "a zero value is still present")
	require.Equal(t, map[protocol.Metric]error{protocol.MetricTemperature: fault}, s.Failures())
}

func TestReadChannel(t *testing.T) {
	ok := readChannel(context.Background(), time.Second, func() (float64, error) { return 1, nil })
	require.NoError(t, ok.Err)
	require.Equal(t, 1.0, ok.Value)

	fault := errors.New("nack")
	failed := readChannel(context.Background(), time.Second, func() (float64, error) { return 0, fault })
	require.ErrorIs(t, failed.Err, fault)

	release := make(chan struct{})
	defer close(release)
	slow := readChannel(context.Background(), 20*time.Millisecond, func() (float64, error) {
		<-release
		return 1, nil
	})
	require.ErrorIs(t, slow.Err, ErrReadTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled := readChannel(ctx, time.Second, func() (float64, error) { return 1, nil })
	require.ErrorIs(t, cancelled.Err, context.Canceled)
}

func TestSimulatedBus(t *testing.T) {
	bus := NewSimulatedBus(0, 1)

	for i := 0; i < 50; i++ {
		r := bus.Read(context.Background()).Reading()
		require.True(t, r.Complete())
		require.GreaterOrEqual(t, *r.SoilMoisture, 30.0)
		require.Less(t, *r.SoilMoisture, 70.0)
		require.GreaterOrEqual(t, *r.Temperature, 18.0)
		require.Less(t, *r.Temperature, 28.0)
		require.GreaterOrEqual(t, *r.Light, 200.0)
		require.Less(t, *r.Light, 1000.0)
	}

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	closed := bus.Read(context.Background())
	require.ErrorIs(t, closed.SoilMoisture.Err, ErrBusClosed)
	require.ErrorIs(t, closed.Light.Err, ErrBusClosed)
}

func TestSimulatedBus_AlwaysFailing(t *testing.T) {
	bus := NewSimulatedBus(1, 1)
	s := bus.Read(context.Background())
	require.Len(t, s.Failures(), 3)
	require.ErrorIs(t, s.Temperature.Err, ErrSimulatedFault)
}

func TestOpen(t *testing.T) {
	bus, err := Open(config.SensorConfig{Driver: "simulated"}, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = Open(config.SensorConfig{Driver: "onewire"}, logging.Discard())
	require.Error(t, err)
}

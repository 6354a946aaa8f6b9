package alarming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smukkama/plant-monitor/internal/aggregation"
	"github.com/smukkama/plant-monitor/internal/protocol"
	"github.com/smukkama/plant-monitor/pkg/config"
)

var day = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

func summary(means map[protocol.Metric]float64) aggregation.DailySummary {
	return aggregation.DailySummary{Date: day, Means: means}
}

func TestEvaluate_MoistureRange(t *testing.T) {
	ranges := map[string]config.Range{config.MetricSoilMoisture: {Low: 20, High: 60}}

	dry := summary(map[protocol.Metric]float64{protocol.MetricSoilMoisture: 15})
	require.Equal(t, []string{WarningMoisture}, Evaluate(dry, ranges))

	ok := summary(map[protocol.Metric]float64{protocol.MetricSoilMoisture: 40})
	require.Empty(t, Evaluate(ok, ranges))
}

func TestEvaluate_BoundsInclusive(t *testing.T) {
	ranges := map[string]config.Range{
		config.MetricSoilMoisture: {Low: 20, High: 60},
		config.MetricLight:        {Low: 200, High: 800},
		config.MetricTemperature:  {Low: 18, High: 28},
	}

	tests := []struct {
		name  string
		means map[protocol.Metric]float64
		want  []string
	}{
		{
			name: "all at low edge",
			means: map[protocol.Metric]float64{
				protocol.MetricSoilMoisture: 20, protocol.MetricLight: 200, protocol.MetricTemperature: 18,
			},
		},
		{
			name: "all at high edge",
			means: map[protocol.Metric]float64{
				protocol.MetricSoilMoisture: 60, protocol.MetricLight: 800, protocol.MetricTemperature: 28,
			},
		},
		{
			name: "all just outside",
			means: map[protocol.Metric]float64{
				protocol.MetricSoilMoisture: 60.01, protocol.MetricLight: 199.99, protocol.MetricTemperature: 28.5,
			},
			want: []string{WarningMoisture, WarningLight, WarningTemperature},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Evaluate(summary(tt.means), ranges))
		})
	}
}

func TestEvaluate_Pure(t *testing.T) {
	ranges := map[string]config.Range{
		config.MetricSoilMoisture: {Low: 20, High: 60},
		config.MetricLight:        {Low: 200, High: 800},
	}
	s := summary(map[protocol.Metric]float64{protocol.MetricSoilMoisture: 10, protocol.MetricLight: 900})

	first := Evaluate(s, ranges)
	second := Evaluate(s, ranges)
	require.Equal(t, first, second)
	require.Equal(t, []string{WarningMoisture, WarningLight}, first)
	require.Nil(t, s.Warnings, "summary must not be mutated")
	require.Equal(t, config.Range{Low: 20, High: 60}, ranges[config.MetricSoilMoisture])
}

func TestEvaluate_SkipsUnconfiguredAndMissing(t *testing.T) {
	ranges := map[string]config.Range{config.MetricLight: {Low: 200, High: 800}}
	s := summary(map[protocol.Metric]float64{protocol.MetricTemperature: 100})
	require.Empty(t, Evaluate(s, ranges))
}

func TestAlerts(t *testing.T) {
	ranges := map[string]config.Range{
		config.MetricSoilMoisture: {Low: 20, High: 60},
		config.MetricLight:        {Low: 200, High: 800},
		config.MetricTemperature:  {Low: 18, High: 28},
	}

	kinds := func(events []protocol.AlertEvent) []protocol.AlertKind {
		var out []protocol.AlertKind
		for _, ev := range events {
			require.NotEmpty(t, ev.ID)
			require.Equal(t, day, ev.Date)
			out = append(out, ev.Kind)
		}
		return out
	}

	dry := summary(map[protocol.Metric]float64{
		protocol.MetricSoilMoisture: 15, protocol.MetricLight: 500, protocol.MetricTemperature: 22,
	})
	require.Equal(t, []protocol.AlertKind{protocol.AlertWateringNeeded}, kinds(Alerts(dry, ranges)))

	// Too wet is a warning but not a watering reminder.
	wet := summary(map[protocol.Metric]float64{
		protocol.MetricSoilMoisture: 80, protocol.MetricLight: 500, protocol.MetricTemperature: 22,
	})
	require.Empty(t, Alerts(wet, ranges))

	hotDark := summary(map[protocol.Metric]float64{
		protocol.MetricSoilMoisture: 40, protocol.MetricLight: 50, protocol.MetricTemperature: 35,
	})
	require.Equal(t,
		[]protocol.AlertKind{protocol.AlertTemperatureWarning, protocol.AlertLightWarning},
		kinds(Alerts(hotDark, ranges)))
}

package alarming

import (
	"fmt"

	"github.com/smukkama/plant-monitor/internal/aggregation"
	"github.com/smukkama/plant-monitor/internal/protocol"
	"github.com/smukkama/plant-monitor/pkg/config"
)

// Warning messages, one per metric.
const (
	WarningMoisture    = "Suboptimal moisture level"
	WarningLight       = "Suboptimal light condition"
	WarningTemperature = "Suboptimal temperature level"
)

var warnings = []struct {
	metric  protocol.Metric
	message string
}{
	{protocol.MetricSoilMoisture, WarningMoisture},
	{protocol.MetricLight, WarningLight},
	{protocol.MetricTemperature, WarningTemperature},
}

// Evaluate returns the suitability warnings for one day. A metric is only
// checked when it has both a configured range and a mean for the day.
func Evaluate(summary aggregation.DailySummary, ranges map[string]config.Range) []string {
	var out []string
	for _, w := range warnings {
		r, ok := ranges[string(w.metric)]
		if !ok {
			continue
		}
		mean, ok := summary.Mean(w.metric)
		if !ok {
			continue
		}
		if !r.Contains(mean) {
			out = append(out, w.message)
		}
	}
	return out
}

// Alerts derives the alert events for one day.
//
//   - soil moisture mean below its low bound: watering_needed
//   - temperature mean outside its range: temperature_warning
//   - light mean outside its range: light_warning
func Alerts(summary aggregation.DailySummary, ranges map[string]config.Range) []protocol.AlertEvent {
	var events []protocol.AlertEvent
	day := summary.Date.Format("2006-01-02")

	if r, ok := ranges[string(protocol.MetricSoilMoisture)]; ok {
		if mean, ok := summary.Mean(protocol.MetricSoilMoisture); ok && mean < r.Low {
			events = append(events, protocol.NewAlertEvent(protocol.AlertWateringNeeded, summary.Date,
				fmt.Sprintf("%s: mean soil moisture %.2f below %.2f", day, mean, r.Low)))
		}
	}

	if r, ok := ranges[string(protocol.MetricTemperature)]; ok {
		if mean, ok := summary.Mean(protocol.MetricTemperature); ok && !r.Contains(mean) {
			events = append(events, protocol.NewAlertEvent(protocol.AlertTemperatureWarning, summary.Date,
				fmt.Sprintf("%s: mean temperature %.2f outside [%.2f, %.2f]", day, mean, r.Low, r.High)))
		}
	}

	if r, ok := ranges[string(protocol.MetricLight)]; ok {
		if mean, ok := summary.Mean(protocol.MetricLight); ok && !r.Contains(mean) {
			events = append(events, protocol.NewAlertEvent(protocol.AlertLightWarning, summary.Date,
				fmt.Sprintf("%s: mean light %.2f outside [%.2f, %.2f]", day, mean, r.Low, r.High)))
		}
	}

	return events
}

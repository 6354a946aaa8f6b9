package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metric names one sensed channel.
type Metric string

const (
	MetricSoilMoisture Metric = "soil_moisture"
	MetricTemperature  Metric = "temperature"
	MetricLight        Metric = "light"
)

// Metrics lists every channel in persisted column order.
var Metrics = []Metric{MetricSoilMoisture, MetricTemperature, MetricLight}

// Reading is one timestamped sample. A nil channel means the value is absent.
type Reading struct {
	Timestamp    time.Time `json:"timestamp"`
	SoilMoisture *float64  `json:"soil_moisture"`
	Temperature  *float64  `json:"temperature"`
	Light        *float64  `json:"light"`
}

// Value returns the channel value for m and whether it is present.
func (r Reading) Value(m Metric) (float64, bool) {
	var p *float64
	switch m {
	case MetricSoilMoisture:
		p = r.SoilMoisture
	case MetricTemperature:
		p = r.Temperature
	case MetricLight:
		p = r.Light
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Complete reports whether every channel is present.
func (r Reading) Complete() bool {
	return r.SoilMoisture != nil && r.Temperature != nil && r.Light != nil
}

// Missing returns the absent channels.
func (r Reading) Missing() []Metric {
	var out []Metric
	for _, m := range Metrics {
		if _, ok := r.Value(m); !ok {
			out = append(out, m)
		}
	}
	return out
}

func (r Reading) String() string {
	return fmt.Sprintf("Reading{%s soil_moisture=%s temperature=%s light=%s}",
		r.Timestamp.Format(time.RFC3339), fmtValue(r.SoilMoisture), fmtValue(r.Temperature), fmtValue(r.Light))
}

func fmtValue(p *float64) string {
	if p == nil {
		return "absent"
	}
	return fmt.Sprintf("%g", *p)
}

// Float returns a pointer to v, for building readings.
func Float(v float64) *float64 {
	return &v
}

// EncodeReading encodes a Reading to JSON
func EncodeReading(r Reading) ([]byte, error) {
	return json.Marshal(r)
}

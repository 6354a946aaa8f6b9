package aggregation

import (
	"math"
	"sort"

	"github.com/smukkama/plant-monitor/internal/protocol"
)

// IQRMultiplier scales the interquartile range into the outlier fences.
const IQRMultiplier = 1.5

// Bounds are the IQR fences of a series.
type Bounds struct {
	Q1    float64
	Q3    float64
	IQR   float64
	Lower float64
	Upper float64
}

// Outside reports whether v falls strictly outside the fences.
func (b Bounds) Outside(v float64) bool {
	return v < b.Lower || v > b.Upper
}

// ComputeBounds returns the IQR fences of values. ok is false for an empty
// series. values is not modified.
func ComputeBounds(values []float64) (b Bounds, ok bool) {
	if len(values) == 0 {
		return Bounds{}, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	b.Q1 = quantile(sorted, 0.25)
	b.Q3 = quantile(sorted, 0.75)
	b.IQR = b.Q3 - b.Q1
	b.Lower = b.Q1 - IQRMultiplier*b.IQR
	b.Upper = b.Q3 + IQRMultiplier*b.IQR
	return b, true
}

// quantile interpolates linearly between the closest ranks of a sorted series.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := math.Floor(pos)
	hi := math.Ceil(pos)
	if lo == hi {
		return sorted[int(lo)]
	}
	frac := pos - lo
	return sorted[int(lo)] + frac*(sorted[int(hi)]-sorted[int(lo)])
}

// DetectOutliers applies the IQR rule to the raw series of metric m and
// returns the flagged values in input order.
func DetectOutliers(readings []protocol.Reading, m protocol.Metric) (Bounds, []Outlier, bool) {
	values := make([]float64, 0, len(readings))
	for _, r := range readings {
		if v, ok := r.Value(m); ok {
			values = append(values, v)
		}
	}

	b, ok := ComputeBounds(values)
	if !ok {
		return Bounds{}, nil, false
	}

	var outliers []Outlier
	for _, r := range readings {
		if v, ok := r.Value(m); ok && b.Outside(v) {
			outliers = append(outliers, Outlier{Timestamp: r.Timestamp, Value: v})
		}
	}
	return b, outliers, true
}

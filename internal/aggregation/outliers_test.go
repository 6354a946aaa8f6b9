package aggregation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smukkama/plant-monitor/internal/protocol"
)

func TestComputeBounds_LinearInterpolation(t *testing.T) {
	b, ok := ComputeBounds([]float64{10, 12, 11, 90, 13})
	require.True(t, ok)
	require.Equal(t, 11.0, b.Q1)
	require.Equal(t, 13.0, b.Q3)
	require.Equal(t, 2.0, b.IQR)
	require.Equal(t, 8.0, b.Lower)
	require.Equal(t, 16.0, b.Upper)
	require.True(t, b.Outside(90))
	require.False(t, b.Outside(16), "fences are inclusive")
	require.False(t, b.Outside(8))
}

func TestComputeBounds_Interpolates(t *testing.T) {
	// positions 0.75 and 2.25 over [1 2 3 4]
	b, ok := ComputeBounds([]float64{4, 1, 3, 2})
	require.True(t, ok)
	require.InDelta(t, 1.75, b.Q1, 1e-12)
	require.InDelta(t, 3.25, b.Q3, 1e-12)
}

func TestComputeBounds_Idempotent(t *testing.T) {
	values := []float64{5, 3, 9, 1, 7, 100, 2}
	original := append([]float64(nil), values...)

	first, ok := ComputeBounds(values)
	require.True(t, ok)
	second, ok := ComputeBounds(values)
	require.True(t, ok)

	require.Equal(t, first, second)
	require.Equal(t, original, values, "input must not be reordered")
}

func TestComputeBounds_Degenerate(t *testing.T) {
	_, ok := ComputeBounds(nil)
	require.False(t, ok)

	b, ok := ComputeBounds([]float64{7})
	require.True(t, ok)
	require.Equal(t, Bounds{Q1: 7, Q3: 7, IQR: 0, Lower: 7, Upper: 7}, b)
}

func TestDetectOutliers_StableAcrossCalls(t *testing.T) {
	readings := []protocol.Reading{
		moisture(at(1, 1), 10),
		moisture(at(1, 2), 12),
		moisture(at(1, 3), 11),
		moisture(at(1, 4), 90),
		moisture(at(1, 5), 13),
		{Timestamp: at(1, 6)}, // absent channel is skipped
	}

	b1, o1, ok := DetectOutliers(readings, protocol.MetricSoilMoisture)
	require.True(t, ok)
	b2, o2, _ := DetectOutliers(readings, protocol.MetricSoilMoisture)

	require.Equal(t, b1, b2)
	require.Equal(t, o1, o2)
	require.Len(t, o1, 1)

	_, _, ok = DetectOutliers(readings, protocol.MetricLight)
	require.False(t, ok)
}

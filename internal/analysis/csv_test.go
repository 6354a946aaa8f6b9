package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smukkama/plant-monitor/internal/aggregation"
	"github.com/smukkama/plant-monitor/internal/logging"
	"github.com/smukkama/plant-monitor/internal/protocol"
)

func TestReadCSV(t *testing.T) {
	input := strings.Join([]string{
		"timestamp,soil_moisture,temperature,light",
		"2024-05-01 09:00:00,42,21.5,640",
		"not a time,1,2,3",
		"2024-05-01T08:00:00Z,40,,600",
		"2024-05-01T10:00:00,abc,22,700",
		",1,2,3",
	}, "\n")

	readings, dropped, err := ReadCSV(strings.NewReader(input), time.UTC)
	require.NoError(t, err)
	require.Equal(t, 2, dropped)
	require.Len(t, readings, 3)

	// sorted ascending
	require.Equal(t, time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC), readings[0].Timestamp.UTC())
	require.Nil(t, readings[0].Temperature)
	require.Equal(t, 600.0, *readings[0].Light)

	require.Equal(t, 42.0, *readings[1].SoilMoisture)
	require.Equal(t, 21.5, *readings[1].Temperature)

	require.Nil(t, readings[2].SoilMoisture)
	require.Equal(t, 22.0, *readings[2].Temperature)
}

func TestReadCSV_NonFiniteCellsAreAbsent(t *testing.T) {
	input := strings.Join([]string{
		"timestamp,soil_moisture,light",
		"2024-05-01 08:00:00,10,Inf",
		"2024-05-01 09:00:00,12,500",
		"2024-05-01 10:00:00,11,-inf",
		"2024-05-01 11:00:00,90,500",
		"2024-05-01 12:00:00,13,500",
		"2024-05-01 13:00:00,NaN,500",
	}, "\n")

	readings, dropped, err := ReadCSV(strings.NewReader(input), time.UTC)
	require.NoError(t, err)
	require.Zero(t, dropped)
	require.Len(t, readings, 6)
	require.Nil(t, readings[5].SoilMoisture)
	require.Nil(t, readings[0].Light)
	require.Nil(t, readings[2].Light)

	summaries := aggregation.NewDailyAggregator(time.UTC).Aggregate(readings)
	require.Len(t, summaries, 1)

	s := summaries[0]
	require.Equal(t, 5, s.Counts[protocol.MetricSoilMoisture])
	mean, ok := s.Mean(protocol.MetricSoilMoisture)
	require.True(t, ok)
	require.InDelta(t, 27.2, mean, 1e-9)
	require.Equal(t, 4, s.Counts[protocol.MetricLight])

	bounds, outliers, ok := aggregation.DetectOutliers(readings, protocol.MetricSoilMoisture)
	require.True(t, ok)
	require.InDelta(t, 11, bounds.Q1, 1e-9)
	require.InDelta(t, 13, bounds.Q3, 1e-9)
	require.Len(t, outliers, 1)
	require.Equal(t, 90.0, outliers[0].Value)
}

func TestReadCSV_MoistureAliasAndColumnOrder(t *testing.T) {
	input := "light,Moisture,timestamp\n500,33,2024-05-01 12:00:00.123456\n"

	readings, dropped, err := ReadCSV(strings.NewReader(input), time.UTC)
	require.NoError(t, err)
	require.Zero(t, dropped)
	require.Len(t, readings, 1)
	require.Equal(t, 33.0, *readings[0].SoilMoisture)
	require.Equal(t, 500.0, *readings[0].Light)
	require.Nil(t, readings[0].Temperature)
	require.Equal(t, 123456000, readings[0].Timestamp.Nanosecond())
}

func TestReadCSV_LocalTimestampsUseLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	readings, _, err := ReadCSV(strings.NewReader("timestamp,light\n2024-05-01 00:30:00,1\n"), loc)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.April, 30, 22, 30, 0, 0, time.UTC), readings[0].Timestamp.UTC())
}

func TestReadCSV_MissingTimestampColumn(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("time,soil_moisture\n2024-05-01,40\n"), time.UTC)
	require.ErrorIs(t, err, ErrMissingColumn)

	_, _, err = ReadCSV(strings.NewReader(""), time.UTC)
	require.ErrorIs(t, err, ErrMissingColumn)
}

func TestCSVSource_Query(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor_data.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"timestamp,soil_moisture,temperature,light",
		"2024-05-01T08:00:00Z,40,21,500",
		"2024-05-02T08:00:00Z,41,21,500",
		"garbage,1,1,1",
		"2024-05-03T08:00:00Z,42,21,500",
	}, "\n")), 0o644))

	src := NewCSVSource(path, time.UTC, logging.Discard())

	all, err := src.Query(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	since := time.Date(2024, time.May, 2, 8, 0, 0, 0, time.UTC)
	recent, err := src.Query(context.Background(), &since)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.True(t, recent[0].Complete())
}

func TestCSVSource_MissingFile(t *testing.T) {
	src := NewCSVSource(filepath.Join(t.TempDir(), "absent.csv"), time.UTC, logging.Discard())
	_, err := src.Query(context.Background(), nil)
	require.Error(t, err)
}

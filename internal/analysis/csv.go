package analysis

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/plant-monitor/internal/protocol"
)

// ErrMissingColumn is returned when the input has no timestamp column.
var ErrMissingColumn = errors.New("missing required column")

// Zone-less layouts are interpreted in the reader's location.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var columnAliases = map[string]protocol.Metric{
	"soil_moisture": protocol.MetricSoilMoisture,
	"moisture":      protocol.MetricSoilMoisture,
	"temperature":   protocol.MetricTemperature,
	"light":         protocol.MetricLight,
}

// ReadCSV parses a tabular reading export. The header must contain a
// timestamp column; metric columns are optional and empty or non-numeric
// cells are absent values. Rows whose timestamp cannot be parsed are dropped
// and counted. Readings are returned in ascending timestamp order.
func ReadCSV(r io.Reader, loc *time.Location) (readings []protocol.Reading, dropped int, err error) {
	if loc == nil {
		loc = time.Local
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, 0, fmt.Errorf("%w: timestamp (empty input)", ErrMissingColumn)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	tsIndex := -1
	columns := make(map[protocol.Metric]int)
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if name == "timestamp" {
			tsIndex = i
			continue
		}
		if m, ok := columnAliases[name]; ok {
			if _, seen := columns[m]; !seen {
				columns[m] = i
			}
		}
	}
	if tsIndex < 0 {
		return nil, 0, fmt.Errorf("%w: timestamp", ErrMissingColumn)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, dropped, fmt.Errorf("failed to read row: %w", err)
		}

		if tsIndex >= len(record) {
			dropped++
			continue
		}
		ts, ok := parseTimestamp(record[tsIndex], loc)
		if !ok {
			dropped++
			continue
		}

		reading := protocol.Reading{Timestamp: ts}
		for m, i := range columns {
			if i >= len(record) {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			switch m {
			case protocol.MetricSoilMoisture:
				reading.SoilMoisture = protocol.Float(v)
			case protocol.MetricTemperature:
				reading.Temperature = protocol.Float(v)
			case protocol.MetricLight:
				reading.Light = protocol.Float(v)
			}
		}
		readings = append(readings, reading)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
	return readings, dropped, nil
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CSVSource serves analysis input from a CSV file, re-read on every query.
type CSVSource struct {
	path   string
	loc    *time.Location
	logger *slog.Logger
}

// NewCSVSource creates a new CSV source
func NewCSVSource(path string, loc *time.Location, logger *slog.Logger) *CSVSource {
	return &CSVSource{path: path, loc: loc, logger: logger}
}

// Query returns the file's readings at or after since.
func (c *CSVSource) Query(ctx context.Context, since *time.Time) ([]protocol.Reading, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.path, err)
	}
	defer f.Close()

	readings, dropped, err := ReadCSV(f, c.loc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", c.path, err)
	}
	if dropped > 0 {
		c.logger.Warn("rows_dropped", "path", c.path, "count", dropped, "reason", "unparsable timestamp")
	}

	if since == nil {
		return readings, nil
	}
	i := sort.Search(len(readings), func(i int) bool {
		return !readings[i].Timestamp.Before(*since)
	})
	return readings[i:], nil
}

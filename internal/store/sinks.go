package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/smukkama/plant-monitor/internal/database"
	"github.com/smukkama/plant-monitor/internal/protocol"
)

// CSVHeader is the column layout of the flat mirror.
var CSVHeader = []string{"timestamp", "soil_moisture", "temperature", "light"}

// TableSink persists readings into the sensor_data table.
type TableSink struct {
	db *database.DB
}

func NewTableSink(db *database.DB) *TableSink {
	return &TableSink{db: db}
}

func (t *TableSink) Name() string { return "table" }

func (t *TableSink) Write(ctx context.Context, r protocol.Reading) error {
	if err := t.db.InsertReading(ctx, r); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// CSVLogSink appends readings to a flat CSV file.
type CSVLogSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// OpenCSVLogSink opens (or creates) the log at path, writing the header when
// the file is new.
func OpenCSVLogSink(path string) (*CSVLogSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create csv directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat csv log: %w", err)
	}

	sink := &CSVLogSink{path: path, file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := sink.writeRecord(CSVHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write csv header: %w", err)
		}
	}
	return sink, nil
}

func (c *CSVLogSink) Name() string { return "csv" }

func (c *CSVLogSink) Write(ctx context.Context, r protocol.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := []string{r.Timestamp.Format(time.RFC3339Nano)}
	for _, m := range protocol.Metrics {
		v, ok := r.Value(m)
		if !ok {
			return fmt.Errorf("missing %s", m)
		}
		record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRecord(record)
}

func (c *CSVLogSink) writeRecord(record []string) error {
	if err := c.w.Write(record); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Path returns the file the sink appends to.
func (c *CSVLogSink) Path() string {
	return c.path
}

func (c *CSVLogSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	return c.file.Close()
}

// Publisher is the subset of queue.Producer the stream mirror needs.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// StreamSink mirrors readings onto a message stream.
type StreamSink struct {
	publisher Publisher
}

func NewStreamSink(p Publisher) *StreamSink {
	return &StreamSink{publisher: p}
}

func (s *StreamSink) Name() string { return "stream" }

func (s *StreamSink) Write(ctx context.Context, r protocol.Reading) error {
	data, err := protocol.EncodeReading(r)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}
	return s.publisher.Publish(ctx, r.Timestamp.UTC().Format("2006-01-02"), data)
}

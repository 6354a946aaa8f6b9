package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smukkama/plant-monitor/internal/metrics"
	"github.com/smukkama/plant-monitor/internal/protocol"
)

var (
	// ErrStorageFailure is returned by Append when at least one sink could not
	// complete its write. The remaining sinks were still attempted.
	ErrStorageFailure = errors.New("storage failure")

	ErrPartialReading = errors.New("reading has absent channels")
	ErrOutOfOrder     = errors.New("reading is older than the last stored reading")
)

// Sink is one persistence mirror of the sample log.
type Sink interface {
	Name() string
	Write(ctx context.Context, r protocol.Reading) error
}

// Querier serves ordered reads for the analysis path.
type Querier interface {
	QueryReadings(ctx context.Context, since *time.Time) ([]protocol.Reading, error)
}

type latestReader interface {
	LatestTimestamp(ctx context.Context) (time.Time, bool, error)
}

// SampleStore is the append-only log of accepted readings. Writes fan out to
// independent best-effort sinks; reads come from the primary querier.
type SampleStore struct {
	mu            sync.Mutex
	source        Querier
	sinks         []Sink
	writeTimeout  time.Duration
	lastTimestamp time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewSampleStore creates a store. writeTimeout bounds every individual sink write.
func NewSampleStore(source Querier, sinks []Sink, writeTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *SampleStore {
	return &SampleStore{
		source:       source,
		sinks:        sinks,
		writeTimeout: writeTimeout,
		logger:       logger,
		metrics:      m,
	}
}

// Resume seeds the ordering guard from the newest stored reading so a
// restarted writer cannot append behind what is already persisted. It is a
// no-op when the source cannot report its newest reading.
func (s *SampleStore) Resume(ctx context.Context) error {
	lr, ok := s.source.(latestReader)
	if !ok {
		return nil
	}
	ts, found, err := lr.LatestTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("failed to read latest timestamp: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if found && ts.After(s.lastTimestamp) {
		s.lastTimestamp = ts
	}
	return nil
}

// Append writes r to every sink. Sinks are mirrors, not a transaction: a
// failing sink is logged and does not roll back the others, so mirrors may
// diverge. Appends are serialized; there must be a single writer.
func (s *SampleStore) Append(ctx context.Context, r protocol.Reading) error {
	if !r.Complete() {
		return fmt.Errorf("%w: missing %v", ErrPartialReading, r.Missing())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Timestamp.Before(s.lastTimestamp) {
		return fmt.Errorf("%w: %s < %s", ErrOutOfOrder,
			r.Timestamp.Format(time.RFC3339Nano), s.lastTimestamp.Format(time.RFC3339Nano))
	}

	var (
		errs   []error
		failed []string
	)
	for _, sink := range s.sinks {
		if err := s.write(ctx, sink, r); err != nil {
			s.logger.Warn("sink_write_failed", "sink", sink.Name(), "error", err)
			s.metrics.SinkFailure(sink.Name())
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			failed = append(failed, sink.Name())
		}
	}

	if len(failed) < len(s.sinks) || len(s.sinks) == 0 {
		s.lastTimestamp = r.Timestamp
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w (sinks: %s): %w", ErrStorageFailure, strings.Join(failed, ","), errors.Join(errs...))
	}
	return nil
}

func (s *SampleStore) write(ctx context.Context, sink Sink, r protocol.Reading) error {
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	return sink.Write(ctx, r)
}

// Query returns stored readings at or after since (all when nil), ascending.
// It does not take the append lock, so a concurrent append may or may not be
// visible.
func (s *SampleStore) Query(ctx context.Context, since *time.Time) ([]protocol.Reading, error) {
	readings, err := s.source.QueryReadings(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return readings, nil
}

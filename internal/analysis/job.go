package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/plant-monitor/internal/aggregation"
	"github.com/smukkama/plant-monitor/internal/alarming"
	"github.com/smukkama/plant-monitor/internal/metrics"
	"github.com/smukkama/plant-monitor/internal/notification"
	"github.com/smukkama/plant-monitor/internal/protocol"
	"github.com/smukkama/plant-monitor/pkg/config"
)

// Source supplies the reading history for a run.
type Source interface {
	Query(ctx context.Context, since *time.Time) ([]protocol.Reading, error)
}

// Dispatcher delivers one alert event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev protocol.AlertEvent) notification.DispatchOutcome
}

// AlertLedger remembers which alerts were already delivered for a day.
type AlertLedger interface {
	AlreadySent(ctx context.Context, ev protocol.AlertEvent) (bool, error)
	MarkSent(ctx context.Context, ev protocol.AlertEvent, channels []string) error
}

// Report summarises one analysis run.
type Report struct {
	RunID      string
	Readings   int
	Summaries  []aggregation.DailySummary
	Alerts     []protocol.AlertEvent
	Outcomes   []notification.DispatchOutcome
	Suppressed []protocol.AlertKind
}

// Job runs the batch analysis: load, aggregate per day, evaluate, alert.
type Job struct {
	source     Source
	aggregator *aggregation.DailyAggregator
	ranges     map[string]config.Range
	dispatcher Dispatcher
	ledger     AlertLedger
	lookback   time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewJob creates a new analysis job. ledger may be nil.
func NewJob(source Source, aggregator *aggregation.DailyAggregator, ranges map[string]config.Range,
	dispatcher Dispatcher, ledger AlertLedger, lookback time.Duration, logger *slog.Logger, m *metrics.Metrics) *Job {
	return &Job{
		source:     source,
		aggregator: aggregator,
		ranges:     ranges,
		dispatcher: dispatcher,
		ledger:     ledger,
		lookback:   lookback,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Run executes one analysis pass. Only a failing source aborts the run;
// delivery problems are logged and reported in the outcomes.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New().String()}
	logger := j.logger.With("run_id", report.RunID)

	var since *time.Time
	if j.lookback > 0 {
		t := j.now().Add(-j.lookback)
		since = &t
	}

	readings, err := j.source.Query(ctx, since)
	if err != nil {
		j.metrics.AnalysisRun("failed")
		return report, fmt.Errorf("failed to load readings: %w", err)
	}
	report.Readings = len(readings)

	summaries := j.aggregator.Aggregate(readings)
	for i := range summaries {
		s := &summaries[i]
		s.Warnings = alarming.Evaluate(*s, j.ranges)
		day := s.Date.Format("2006-01-02")

		if len(s.Warnings) > 0 {
			logger.Warn(fmt.Sprintf("On %s, there were suboptimal conditions: %s",
				day, strings.Join(s.Warnings, ", ")), "day", day)
		}
		for _, m := range protocol.Metrics {
			for _, o := range s.Outliers[m] {
				logger.Info("outlier_flagged", "metric", m, "timestamp", o.Timestamp.Format(time.RFC3339), "value", o.Value)
			}
			j.metrics.Outliers(string(m), len(s.Outliers[m]))
		}
	}
	report.Summaries = summaries

	if len(summaries) == 0 {
		logger.Info("analysis_empty", "readings", len(readings))
		j.metrics.AnalysisRun("empty")
		return report, nil
	}

	latest := summaries[len(summaries)-1]
	report.Alerts = alarming.Alerts(latest, j.ranges)

	for _, ev := range report.Alerts {
		if j.ledger != nil {
			sent, err := j.ledger.AlreadySent(ctx, ev)
			if err != nil {
				logger.Warn("alert_state_unavailable", "kind", ev.Kind, "error", err)
			} else if sent {
				logger.Info("alert_suppressed", "kind", ev.Kind, "day", ev.Date.Format("2006-01-02"))
				report.Suppressed = append(report.Suppressed, ev.Kind)
				continue
			}
		}

		outcome := j.dispatcher.Dispatch(ctx, ev)
		report.Outcomes = append(report.Outcomes, outcome)

		if delivered := outcome.Delivered(); j.ledger != nil && len(delivered) > 0 {
			if err := j.ledger.MarkSent(ctx, ev, delivered); err != nil {
				logger.Warn("alert_state_not_saved", "kind", ev.Kind, "error", err)
			}
		}
	}

	logger.Info("analysis_complete",
		"readings", report.Readings,
		"days", len(summaries),
		"alerts", len(report.Alerts),
		"suppressed", len(report.Suppressed))
	j.metrics.AnalysisRun("ok")
	return report, nil
}

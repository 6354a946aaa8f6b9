package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/plant-monitor/internal/aggregation"
	"github.com/smukkama/plant-monitor/internal/alarming"
	"github.com/smukkama/plant-monitor/internal/logging"
	"github.com/smukkama/plant-monitor/internal/notification"
	"github.com/smukkama/plant-monitor/internal/protocol"
	"github.com/smukkama/plant-monitor/pkg/config"
)

type staticSource struct {
	readings []protocol.Reading
	err      error
	since    *time.Time
}

func (s *staticSource) Query(_ context.Context, since *time.Time) ([]protocol.Reading, error) {
	s.since = since
	return s.readings, s.err
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, ev protocol.AlertEvent) notification.DispatchOutcome {
	args := m.Called(ctx, ev)
	return args.Get(0).(notification.DispatchOutcome)
}

type memoryLedger struct {
	sent map[protocol.AlertKind]string
}

func (l *memoryLedger) AlreadySent(_ context.Context, ev protocol.AlertEvent) (bool, error) {
	return l.sent[ev.Kind] == ev.Date.Format("2006-01-02"), nil
}

func (l *memoryLedger) MarkSent(_ context.Context, ev protocol.AlertEvent, _ []string) error {
	l.sent[ev.Kind] = ev.Date.Format("2006-01-02")
	return nil
}

var ranges = map[string]config.Range{
	config.MetricSoilMoisture: {Low: 20, High: 60},
	config.MetricLight:        {Low: 200, High: 800},
	config.MetricTemperature:  {Low: 18, High: 28},
}

func sample(day, hour int, m, t, l float64) protocol.Reading {
	return protocol.Reading{
		Timestamp:    time.Date(2024, time.May, day, hour, 0, 0, 0, time.UTC),
		SoilMoisture: protocol.Float(m),
		Temperature:  protocol.Float(t),
		Light:        protocol.Float(l),
	}
}

// Day one is dry, day two is dry and hot.
func history() []protocol.Reading {
	return []protocol.Reading{
		sample(1, 8, 10, 22, 500),
		sample(1, 16, 12, 24, 520),
		sample(2, 8, 14, 30, 500),
		sample(2, 16, 16, 32, 520),
	}
}

func isKind(kind protocol.AlertKind) interface{} {
	return mock.MatchedBy(func(ev protocol.AlertEvent) bool { return ev.Kind == kind })
}

func delivered(ch notification.Channel) notification.DispatchOutcome {
	return notification.DispatchOutcome{Results: []notification.ChannelResult{{Channel: ch}}}
}

func newJob(src Source, d Dispatcher, ledger AlertLedger) *Job {
	return NewJob(src, aggregation.NewDailyAggregator(time.UTC), ranges, d, ledger, 0, logging.Discard(), nil)
}

func TestJob_AlertsFromLatestDayOnly(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, isKind(protocol.AlertWateringNeeded)).Return(delivered(notification.ChannelEmail))
	d.On("Dispatch", mock.Anything, isKind(protocol.AlertTemperatureWarning)).Return(delivered(notification.ChannelEmail))

	report, err := newJob(&staticSource{readings: history()}, d, nil).Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, report.RunID)
	require.Equal(t, 4, report.Readings)
	require.Len(t, report.Summaries, 2)
	require.Equal(t, []string{alarming.WarningMoisture}, report.Summaries[0].Warnings)
	require.Equal(t, []string{alarming.WarningMoisture, alarming.WarningTemperature}, report.Summaries[1].Warnings)

	require.Len(t, report.Alerts, 2)
	for _, ev := range report.Alerts {
		require.Equal(t, time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC), ev.Date)
	}
	d.AssertNumberOfCalls(t, "Dispatch", 2)
	require.Len(t, report.Outcomes, 2)
}

func TestJob_SourceFailureAbortsRun(t *testing.T) {
	d := &mockDispatcher{}
	_, err := newJob(&staticSource{err: ErrMissingColumn}, d, nil).Run(context.Background())

	require.ErrorIs(t, err, ErrMissingColumn)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestJob_NoReadings(t *testing.T) {
	d := &mockDispatcher{}
	report, err := newJob(&staticSource{}, d, nil).Run(context.Background())

	require.NoError(t, err)
	require.Empty(t, report.Summaries)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestJob_LedgerSuppressesRepeatOnSameDay(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Return(delivered(notification.ChannelEmail))

	ledger := &memoryLedger{sent: map[protocol.AlertKind]string{}}
	job := newJob(&staticSource{readings: history()}, d, ledger)

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	d.AssertNumberOfCalls(t, "Dispatch", 2)

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	d.AssertNumberOfCalls(t, "Dispatch", 2)
	require.ElementsMatch(t,
		[]protocol.AlertKind{protocol.AlertWateringNeeded, protocol.AlertTemperatureWarning},
		report.Suppressed)
}

func TestJob_FailedDeliveryIsNotRecorded(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Return(notification.DispatchOutcome{
		Results: []notification.ChannelResult{{Channel: notification.ChannelEmail, Err: errors.New("smtp down")}},
	})

	ledger := &memoryLedger{sent: map[protocol.AlertKind]string{}}
	job := newJob(&staticSource{readings: history()}, d, ledger)

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	_, err = job.Run(context.Background())
	require.NoError(t, err)

	require.Empty(t, ledger.sent)
	d.AssertNumberOfCalls(t, "Dispatch", 4)
}

func TestJob_Lookback(t *testing.T) {
	src := &staticSource{}
	job := NewJob(src, aggregation.NewDailyAggregator(time.UTC), ranges, &mockDispatcher{}, nil,
		48*time.Hour, logging.Discard(), nil)
	now := time.Date(2024, time.May, 3, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, src.since)
	require.Equal(t, now.Add(-48*time.Hour), *src.since)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, recipient, subject, body string) error {
	return m.Called(ctx, recipient, subject, body).Error(0)
}

func TestJob_WateringDaySendsOneEmailAndOneSMS(t *testing.T) {
	email := &mockSender{}
	sms := &mockSender{}
	email.On("Send", mock.Anything, "grower@example.com", "Watering Reminder", mock.Anything).Return(nil)
	sms.On("Send", mock.Anything, "+15550100", "Watering Reminder", "Reminder: It's time to water your plants.").Return(nil)

	d := notification.NewDispatcher(nil, time.Second, logging.Discard(), nil)
	d.Register(notification.ChannelEmail, "grower@example.com", email)
	d.Register(notification.ChannelSMS, "+15550100", sms)

	// dry but temperature and light within range
	readings := []protocol.Reading{sample(1, 8, 10, 22, 500), sample(1, 16, 12, 24, 520)}

	report, err := newJob(&staticSource{readings: readings}, d, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Alerts, 1)
	email.AssertNumberOfCalls(t, "Send", 1)
	sms.AssertNumberOfCalls(t, "Send", 1)
	email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, "Temperature Warning", mock.Anything)
}

package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smukkama/plant-monitor/internal/metrics"
	"github.com/smukkama/plant-monitor/internal/protocol"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Channel names a delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelMQTT  Channel = "mqtt"
)

// Route describes how one alert kind is delivered.
type Route struct {
	Subject   string
	EmailBody string
	SMSBody   string
	Channels  []Channel
}

// DefaultRoutes maps every known alert kind to its messages.
var DefaultRoutes = map[protocol.AlertKind]Route{
	protocol.AlertWateringNeeded: {
		Subject:   "Watering Reminder",
		EmailBody: "Your plant needs watering today.",
		SMSBody:   "Reminder: It's time to water your plants.",
		Channels:  []Channel{ChannelEmail, ChannelSMS, ChannelMQTT},
	},
	protocol.AlertTemperatureWarning: {
		Subject:   "Temperature Warning",
		EmailBody: "The temperature is at a critical level!",
		SMSBody:   "Warning: Critical temperature level detected!",
		Channels:  []Channel{ChannelEmail, ChannelSMS, ChannelMQTT},
	},
	protocol.AlertLightWarning: {
		Subject:   "Light Warning",
		EmailBody: "Your plant is not getting a suitable amount of light.",
		Channels:  []Channel{ChannelEmail, ChannelMQTT},
	},
}

// ChannelResult is the outcome of one channel attempt.
type ChannelResult struct {
	Channel Channel
	Skipped bool // no sender registered
	Err     error
}

// DispatchOutcome reports what happened to one alert event.
type DispatchOutcome struct {
	EventID  string
	Kind     protocol.AlertKind
	Unrouted bool
	Results  []ChannelResult
}

// Delivered returns the channels that accepted the message.
func (o DispatchOutcome) Delivered() []string {
	var out []string
	for _, r := range o.Results {
		if !r.Skipped && r.Err == nil {
			out = append(out, string(r.Channel))
		}
	}
	return out
}

// Failed reports whether any attempted channel returned an error.
func (o DispatchOutcome) Failed() bool {
	for _, r := range o.Results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

type endpoint struct {
	sender    Sender
	recipient string
}

// Dispatcher turns alert events into channel sends. Every channel of a route
// is attempted once, independently of the others.
type Dispatcher struct {
	routes    map[protocol.AlertKind]Route
	endpoints map[Channel]endpoint
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher creates a dispatcher over routes. A nil routes map uses
// DefaultRoutes.
func NewDispatcher(routes map[protocol.AlertKind]Route, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if routes == nil {
		routes = DefaultRoutes
	}
	return &Dispatcher{
		routes:    routes,
		endpoints: make(map[Channel]endpoint),
		timeout:   timeout,
		logger:    logger,
		metrics:   m,
	}
}

// Register binds a sender and its recipient to a channel.
func (d *Dispatcher) Register(ch Channel, recipient string, s Sender) {
	d.endpoints[ch] = endpoint{sender: s, recipient: recipient}
}

// Dispatch delivers ev on every channel of its route. Failures are logged
// and recorded in the outcome; nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, ev protocol.AlertEvent) DispatchOutcome {
	outcome := DispatchOutcome{EventID: ev.ID, Kind: ev.Kind}

	route, ok := d.routes[ev.Kind]
	if !ok {
		outcome.Unrouted = true
		d.logger.Warn("alert_unrouted", "alert_id", ev.ID, "kind", ev.Kind)
		return outcome
	}

	for _, ch := range route.Channels {
		ep, ok := d.endpoints[ch]
		if !ok {
			outcome.Results = append(outcome.Results, ChannelResult{Channel: ch, Skipped: true})
			continue
		}

		body := route.EmailBody
		if ch == ChannelSMS {
			body = route.SMSBody
		} else if ev.Payload != "" {
			body += "\n\n" + ev.Payload
		}

		err := d.send(ctx, ep, route.Subject, body)
		outcome.Results = append(outcome.Results, ChannelResult{Channel: ch, Err: err})
		d.metrics.Notification(string(ch), err == nil)

		if err != nil {
			d.logger.Error("notification_failed",
				"alert_id", ev.ID, "kind", ev.Kind, "channel", ch, "error", err)
			continue
		}
		d.logger.Info("notification_sent", "alert_id", ev.ID, "kind", ev.Kind, "channel", ch)
	}

	return outcome
}

func (d *Dispatcher) send(ctx context.Context, ep endpoint, subject, body string) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()

	return ep.sender.Send(ctx, ep.recipient, subject, body)
}

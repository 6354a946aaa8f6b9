package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/smukkama/plant-monitor/pkg/config"
)

// SMSSender delivers text messages through the Twilio REST API.
type SMSSender struct {
	client *twilio.RestClient
	from   string
	logger *slog.Logger
}

// NewSMSSender creates a new SMS sender
func NewSMSSender(cfg config.TwilioConfig, logger *slog.Logger) *SMSSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSSender{client: client, from: cfg.FromNumber, logger: logger}
}

// Send texts body to recipient. Subject is not used by SMS.
func (s *SMSSender) Send(ctx context.Context, recipient, _ string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(s.from)
	params.SetBody(body)

	type result struct {
		sid string
		err error
	}
	done := make(chan result, 1)

	// The Twilio client takes no context; the call is abandoned on timeout.
	go func() {
		resp, err := s.client.Api.CreateMessage(params)
		if err != nil {
			done <- result{err: err}
			return
		}
		var sid string
		if resp.Sid != nil {
			sid = *resp.Sid
		}
		done <- result{sid: sid}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("failed to send sms: %w", r.err)
		}
		s.logger.Debug("sms_sent", "sid", r.sid, "recipient", recipient)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send sms: %w", ctx.Err())
	}
}

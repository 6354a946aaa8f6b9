package notification

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smukkama/plant-monitor/internal/logging"
	"github.com/smukkama/plant-monitor/pkg/config"
)

func TestEmailSender_Compose(t *testing.T) {
	e := NewEmailSender(config.SMTPConfig{From: "monitor@example.com"}, logging.Discard())

	msg, err := e.compose("grower@example.com", "Watering Reminder", "Your plant needs watering today.")
	require.NoError(t, err)

	text := string(msg)
	require.Contains(t, text, "From: monitor@example.com\r\n")
	require.Contains(t, text, "To: grower@example.com\r\n")
	require.Contains(t, text, "Subject: Watering Reminder\r\n")
	require.Contains(t, text, "\r\n\r\nYour plant needs watering today.\r\n")
	require.False(t, strings.Contains(strings.ReplaceAll(text, "\r\n", ""), "\n"), "bare LF in message")
}

func TestEmailSender_UnconfiguredSkips(t *testing.T) {
	e := NewEmailSender(config.SMTPConfig{Host: "smtp.example.com", Port: 587}, logging.Discard())
	require.False(t, e.Configured())
	require.NoError(t, e.Send(context.Background(), "grower@example.com", "Watering Reminder", "body"))
}

package protocol

import (
	"time"

	"github.com/google/uuid"
)

// AlertKind is a named triggering condition.
type AlertKind string

const (
	AlertWateringNeeded     AlertKind = "watering_needed"
	AlertTemperatureWarning AlertKind = "temperature_warning"
	AlertLightWarning       AlertKind = "light_warning"
)

// AlertEvent is produced by the analysis path and consumed once by the dispatcher.
type AlertEvent struct {
	ID      string    `json:"id"`
	Kind    AlertKind `json:"kind"`
	Payload string    `json:"payload"`
	Date    time.Time `json:"date"`
}

// NewAlertEvent creates an event with a fresh ID.
func NewAlertEvent(kind AlertKind, date time.Time, payload string) AlertEvent {
	return AlertEvent{
		ID:      uuid.New().String(),
		Kind:    kind,
		Payload: payload,
		Date:    date,
	}
}

package alarming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/plant-monitor/internal/protocol"
)

// AlertState records the last day an alert kind was delivered.
type AlertState struct {
	Kind     protocol.AlertKind `json:"kind"`
	Day      string             `json:"day"` // YYYY-MM-DD
	AlertID  string             `json:"alert_id"`
	SentAt   time.Time          `json:"sent_at"`
	Channels []string           `json:"channels,omitempty"`
}

const stateTTL = 7 * 24 * time.Hour

// StateManager keeps alert delivery state in Redis so that reruns of the
// analysis on the same day do not notify twice.
type StateManager struct {
	redis *redis.Client
}

// NewStateManager creates a new state manager
func NewStateManager(redisClient *redis.Client) *StateManager {
	return &StateManager{redis: redisClient}
}

func stateKey(kind protocol.AlertKind) string {
	return fmt.Sprintf("alert_state:%s", kind)
}

// GetState retrieves the delivery state of kind. A nil state means the kind
// was never delivered or the entry expired.
func (sm *StateManager) GetState(ctx context.Context, kind protocol.AlertKind) (*AlertState, error) {
	data, err := sm.redis.Get(ctx, stateKey(kind)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state AlertState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// AlreadySent reports whether event's kind was delivered for event's day.
func (sm *StateManager) AlreadySent(ctx context.Context, event protocol.AlertEvent) (bool, error) {
	state, err := sm.GetState(ctx, event.Kind)
	if err != nil {
		return false, err
	}
	return state != nil && state.Day == event.Date.Format("2006-01-02"), nil
}

// MarkSent stores event as the latest delivery of its kind.
func (sm *StateManager) MarkSent(ctx context.Context, event protocol.AlertEvent, channels []string) error {
	state := AlertState{
		Kind:     event.Kind,
		Day:      event.Date.Format("2006-01-02"),
		AlertID:  event.ID,
		SentAt:   time.Now().UTC(),
		Channels: channels,
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := sm.redis.Set(ctx, stateKey(event.Kind), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}
	return nil
}

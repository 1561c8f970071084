package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionCreated    EventType = "session_created"
	EventSessionEnded      EventType = "session_ended"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventHostTransferred   EventType = "host_transferred"
	EventSessionOrphaned   EventType = "session_orphaned"
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
)

type Event struct {
	Type          EventType
	SessionCode   string
	ParticipantID string
	IP            string
	Details       map[string]interface{}
}

// Log emits a structured audit record for a session lifecycle event.
func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "session").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionCode != "" {
		logger = logger.With().Str("session_code", event.SessionCode).Logger()
	}
	if event.ParticipantID != "" {
		logger = logger.With().Str("participant_id", event.ParticipantID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = logEvent.Interface(k, v)
	}
	logEvent.Msg("session audit event")
}

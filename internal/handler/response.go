package handler

import (
	"net/http"
	"time"

	"github.com/filmlobby/groupsync-go/internal/config"
	"github.com/filmlobby/groupsync-go/internal/httputil"
	"github.com/filmlobby/groupsync-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func formatSession(session *model.Session) map[string]any {
	return map[string]any{
		"sessionCode": session.Code,
		"filters":     session.Filters.Normalized(),
		"isActive":    session.IsActive,
		"expiresAt":   session.ExpiresAt.Format(time.RFC3339),
		"createdAt":   session.CreatedAt.Format(time.RFC3339),
		"updatedAt":   session.UpdatedAt.Format(time.RFC3339),
	}
}

// formatParticipant annotates presence: a participant whose last heartbeat
// is older than the threshold shows as offline but stays in the list.
func formatParticipant(p model.Participant, now time.Time) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"displayName": p.DisplayName,
		"isHost":      p.IsHost,
		"online":      p.Online(now, config.PresenceThreshold),
		"joinedAt":    p.JoinedAt.Format(time.RFC3339),
		"lastSeenAt":  p.LastSeenAt.Format(time.RFC3339),
	}
}

func formatParticipants(participants []model.Participant) []map[string]any {
	now := time.Now()
	views := make([]map[string]any, 0, len(participants))
	for _, p := range participants {
		views = append(views, formatParticipant(p, now))
	}
	return views
}

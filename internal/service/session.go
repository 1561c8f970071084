package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/filmlobby/groupsync-go/internal/audit"
	"github.com/filmlobby/groupsync-go/internal/config"
	apperrors "github.com/filmlobby/groupsync-go/internal/errors"
	"github.com/filmlobby/groupsync-go/internal/model"
	"github.com/filmlobby/groupsync-go/internal/repository"
	"github.com/filmlobby/groupsync-go/internal/util"
)

// Publisher is the outbound half of the change feed. Publish failures on
// background paths are logged and swallowed; propagation is best-effort
// and the store remains the source of truth.
type Publisher interface {
	PublishFilters(ctx context.Context, code string, filters model.FilterSet) error
	PublishEnded(ctx context.Context, code string) error
	PublishParticipants(ctx context.Context, code string) error
}

type CreateSessionResult struct {
	Session       *model.Session `json:"session"`
	ParticipantID string         `json:"participantId"`
}

type JoinSessionResult struct {
	Session       *model.Session `json:"session"`
	ParticipantID string         `json:"participantId"`
}

// SessionService coordinates the shared-session lifecycle: create, join,
// leave with host succession, end, filter propagation and heartbeats.
type SessionService struct {
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	publisher       Publisher
	sessionTTL      time.Duration
}

func NewSessionService(
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	publisher Publisher,
	sessionTTL time.Duration,
) *SessionService {
	return &SessionService{
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		publisher:       publisher,
		sessionTTL:      sessionTTL,
	}
}

// Create opens a new session seeded with the caller's filters merged over
// the default document, and registers the caller as host. A code collision
// on insert triggers regeneration; if the host insert fails the session row
// is deleted again so a failed create leaves nothing behind.
func (s *SessionService) Create(ctx context.Context, initial model.FilterSet) (*CreateSessionResult, error) {
	filters := initial.Normalized()

	var session *model.Session
	var err error
	for attempt := 0; attempt < config.CodeInsertAttempts; attempt++ {
		code := util.GenerateSessionCode()
		session, err = s.sessionRepo.Create(ctx, model.CreateSessionParams{
			ID:        uuid.NewString(),
			Code:      code,
			Filters:   filters,
			ExpiresAt: time.Now().Add(s.sessionTTL),
		})
		if err == nil {
			break
		}
		if repository.IsUniqueViolation(err) {
			log.Warn().Str("sessionCode", code).Msg("session code collision, regenerating")
			session = nil
			continue
		}
		return nil, apperrors.WriteFailure("create session", err)
	}
	if session == nil {
		return nil, apperrors.WriteFailure("create session", err)
	}

	now := time.Now()
	participantID := util.GenerateParticipantID()
	_, err = s.participantRepo.Create(ctx, model.CreateParticipantParams{
		ID:          participantID,
		SessionCode: session.Code,
		DisplayName: model.DefaultHostName,
		IsHost:      true,
		JoinedAt:    now,
		LastSeenAt:  now,
	})
	if err != nil {
		// Compensating delete: no orphan session may outlive a failed create.
		if delErr := s.sessionRepo.Delete(ctx, session.ID); delErr != nil {
			log.Error().Err(delErr).
				Str("sessionId", session.ID).
				Str("sessionCode", session.Code).
				Msg("failed to delete session after host insert failure")
		}
		return nil, apperrors.PartialFailure("Failed to add host participant", err)
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventSessionCreated,
		SessionCode:   session.Code,
		ParticipantID: participantID,
	})
	log.Info().
		Str("sessionCode", session.Code).
		Time("expiresAt", session.ExpiresAt).
		Msg("session created")

	s.publishParticipants(ctx, session.Code)

	return &CreateSessionResult{Session: session, ParticipantID: participantID}, nil
}

// Join adds a participant to an active session. The code is normalized to
// uppercase; an expired session is rejected even when its row still reads
// active, because expiry is not eagerly swept.
func (s *SessionService) Join(ctx context.Context, code, displayName string) (*JoinSessionResult, error) {
	code = util.NormalizeSessionCode(code)
	if !util.ValidSessionCode(code) {
		return nil, apperrors.InvalidInput("session code", "must be 6 characters A-Z or 0-9")
	}

	session, err := s.sessionRepo.FindActiveByCode(ctx, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	if session.Expired(time.Now()) {
		return nil, apperrors.SessionExpired()
	}

	if displayName == "" {
		displayName = model.DefaultGuestName
	}

	now := time.Now()
	participantID := util.GenerateParticipantID()
	_, err = s.participantRepo.Create(ctx, model.CreateParticipantParams{
		ID:          participantID,
		SessionCode: code,
		DisplayName: displayName,
		IsHost:      false,
		JoinedAt:    now,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, apperrors.WriteFailure("join session", err)
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventParticipantJoined,
		SessionCode:   code,
		ParticipantID: participantID,
		Details:       map[string]interface{}{"displayName": displayName},
	})

	s.publishParticipants(ctx, code)

	return &JoinSessionResult{Session: session, ParticipantID: participantID}, nil
}

// Leave removes a participant. When the departing participant was the last
// one, the session ends; when they were host and others remain, the
// earliest-joined survivor is promoted. A failed promotion is logged, not
// raised, so a transient write failure never aborts the leave itself.
func (s *SessionService) Leave(ctx context.Context, participantID string) error {
	participant, err := s.participantRepo.FindByID(ctx, participantID)
	if err != nil {
		return apperrors.Database(err)
	}
	if participant == nil {
		return apperrors.NotFound("Participant")
	}

	code := participant.SessionCode
	wasHost := participant.IsHost

	if err := s.participantRepo.Delete(ctx, participantID); err != nil {
		return apperrors.WriteFailure("leave session", err)
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventParticipantLeft,
		SessionCode:   code,
		ParticipantID: participantID,
	})

	remaining, err := s.participantRepo.ListBySessionCode(ctx, code)
	if err != nil {
		s.publishParticipants(ctx, code)
		return apperrors.Database(err)
	}

	if len(remaining) == 0 {
		if err := s.End(ctx, code); err != nil {
			return err
		}
		audit.Log(ctx, audit.Event{
			Type:        audit.EventSessionOrphaned,
			SessionCode: code,
		})
		log.Info().Str("sessionCode", code).Msg("session closed, no participants remaining")
		s.publishParticipants(ctx, code)
		return nil
	}

	if wasHost {
		newHost := remaining[0]
		if err := s.participantRepo.SetHost(ctx, newHost.ID); err != nil {
			log.Error().Err(err).
				Str("sessionCode", code).
				Str("participantId", newHost.ID).
				Msg("failed to transfer host")
		} else {
			audit.Log(ctx, audit.Event{
				Type:          audit.EventHostTransferred,
				SessionCode:   code,
				ParticipantID: newHost.ID,
			})
			log.Info().
				Str("sessionCode", code).
				Str("displayName", newHost.DisplayName).
				Msg("host transferred")
		}
	}

	s.publishParticipants(ctx, code)
	return nil
}

// End marks the session inactive. Participant rows and the session row are
// retained for the retention job. Idempotent: ending an ended session is a
// no-op.
func (s *SessionService) End(ctx context.Context, code string) error {
	code = util.NormalizeSessionCode(code)

	if err := s.sessionRepo.MarkEnded(ctx, code); err != nil {
		return apperrors.WriteFailure("end session", err)
	}

	audit.Log(ctx, audit.Event{
		Type:        audit.EventSessionEnded,
		SessionCode: code,
	})

	if err := s.publisher.PublishEnded(ctx, code); err != nil {
		log.Warn().Err(err).Str("sessionCode", code).Msg("failed to publish session end")
	}

	return nil
}

// UpdateFilters overwrites the session's filter document wholesale and
// broadcasts it. Last writer wins; there is no merge and no version token.
// Callers debounce rapid local edits before calling this.
func (s *SessionService) UpdateFilters(ctx context.Context, code string, filters model.FilterSet) error {
	code = util.NormalizeSessionCode(code)
	doc := filters.Normalized()

	if err := s.sessionRepo.UpdateFilters(ctx, code, doc); err != nil {
		return apperrors.WriteFailure("update filters", err)
	}

	if err := s.publisher.PublishFilters(ctx, code, doc); err != nil {
		log.Warn().Err(err).Str("sessionCode", code).Msg("failed to publish filter update")
	}

	return nil
}

// Heartbeat refreshes a participant's last-seen timestamp. Fire and
// forget: a missed heartbeat is not user-actionable, so there is no error
// to return. A heartbeat racing a leave touches zero rows and is silent.
func (s *SessionService) Heartbeat(ctx context.Context, participantID string) {
	if err := s.participantRepo.TouchLastSeen(ctx, participantID, time.Now()); err != nil {
		log.Debug().Err(err).
			Str("participantId", participantID).
			Msg("heartbeat write failed")
	}
}

// Get is the point read behind manual refresh.
func (s *SessionService) Get(ctx context.Context, code string) (*model.Session, error) {
	code = util.NormalizeSessionCode(code)

	session, err := s.sessionRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

// Participants returns the members of a session ascending by join time.
func (s *SessionService) Participants(ctx context.Context, code string) ([]model.Participant, error) {
	code = util.NormalizeSessionCode(code)

	participants, err := s.participantRepo.ListBySessionCode(ctx, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return participants, nil
}

func (s *SessionService) publishParticipants(ctx context.Context, code string) {
	if err := s.publisher.PublishParticipants(ctx, code); err != nil {
		log.Warn().Err(err).Str("sessionCode", code).Msg("failed to publish participant change")
	}
}

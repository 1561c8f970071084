package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/filmlobby/groupsync-go/internal/model"
)

type ParticipantRepository interface {
	FindByID(ctx context.Context, id string) (*model.Participant, error)
	// ListBySessionCode returns members ascending by joined_at, the order
	// host succession walks.
	ListBySessionCode(ctx context.Context, code string) ([]model.Participant, error)
	Create(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error)
	Delete(ctx context.Context, id string) error
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	SetHost(ctx context.Context, id string) error
	// DeleteForEndedSessions prunes members of sessions that have been
	// inactive longer than the retention window. Stale members of live
	// sessions are never touched.
	DeleteForEndedSessions(ctx context.Context, olderThan time.Duration) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ParticipantRepository
}

// participantDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type participantDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type participantRepo struct {
	db participantDB
}

func NewParticipantRepository(db *sqlx.DB) ParticipantRepository {
	return &participantRepo{db: db}
}

func (r *participantRepo) WithTx(tx *sqlx.Tx) ParticipantRepository {
	return &participantRepo{db: tx}
}

func (r *participantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	var participant model.Participant
	err := r.db.GetContext(ctx, &participant, `
		SELECT * FROM session_participants WHERE id = $1
	`, id)
	return HandleNotFound(&participant, err)
}

func (r *participantRepo) ListBySessionCode(ctx context.Context, code string) ([]model.Participant, error) {
	participants := []model.Participant{}
	err := r.db.SelectContext(ctx, &participants, `
		SELECT * FROM session_participants
		WHERE session_code = $1
		ORDER BY joined_at ASC, id ASC
	`, code)
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *participantRepo) Create(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error) {
	var participant model.Participant
	err := r.db.GetContext(ctx, &participant, `
		INSERT INTO session_participants (id, session_code, display_name, is_host, joined_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.ID, params.SessionCode, params.DisplayName, params.IsHost, params.JoinedAt, params.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

func (r *participantRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM session_participants WHERE id = $1
	`, id)
	return err
}

func (r *participantRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	// A heartbeat landing after the participant left matches zero rows,
	// which is fine: the touch is fire-and-forget.
	_, err := r.db.ExecContext(ctx, `
		UPDATE session_participants SET last_seen_at = $2 WHERE id = $1
	`, id, at)
	return err
}

func (r *participantRepo) SetHost(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE session_participants SET is_host = TRUE WHERE id = $1
	`, id)
	return err
}

func (r *participantRepo) DeleteForEndedSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM session_participants p
		USING filter_sessions s
		WHERE p.session_code = s.session_code
		AND s.is_active = FALSE
		AND s.updated_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

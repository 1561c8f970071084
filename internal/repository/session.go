package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/filmlobby/groupsync-go/internal/model"
)

type SessionRepository interface {
	// FindByCode returns the session regardless of its active flag,
	// nil when no row has the code.
	FindByCode(ctx context.Context, code string) (*model.Session, error)
	// FindActiveByCode returns the session only while is_active, nil
	// otherwise. Expiry is not checked here; the coordinator checks it
	// explicitly because expired rows may still read active.
	FindActiveByCode(ctx context.Context, code string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	UpdateFilters(ctx context.Context, code string, filters model.FilterSet) error
	MarkEnded(ctx context.Context, code string) error
	// Delete removes the row by surrogate id. Only the create path uses
	// this, as the compensating action when the host insert fails.
	Delete(ctx context.Context, id string) error
	MarkExpired(ctx context.Context) (int64, error)
	DeleteEnded(ctx context.Context, olderThan time.Duration) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

// sessionDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRepo struct {
	db sessionDB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM filter_sessions WHERE session_code = $1
	`, code)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindActiveByCode(ctx context.Context, code string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM filter_sessions
		WHERE session_code = $1
		AND is_active = TRUE
	`, code)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO filter_sessions (id, session_code, current_filters, is_active, expires_at)
		VALUES ($1, $2, $3, TRUE, $4)
		RETURNING *
	`, params.ID, params.Code, params.Filters, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateFilters(ctx context.Context, code string, filters model.FilterSet) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE filter_sessions SET
			current_filters = $2,
			updated_at = $3
		WHERE session_code = $1
	`, code, filters, time.Now())
	return err
}

func (r *sessionRepo) MarkEnded(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE filter_sessions SET
			is_active = FALSE,
			updated_at = $2
		WHERE session_code = $1
	`, code, time.Now())
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM filter_sessions WHERE id = $1
	`, id)
	return err
}

func (r *sessionRepo) MarkExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE filter_sessions SET
			is_active = FALSE
		WHERE is_active = TRUE AND expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepo) DeleteEnded(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM filter_sessions
		WHERE is_active = FALSE
		AND updated_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

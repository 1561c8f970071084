package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/filmlobby/groupsync-go/internal/config"
	"github.com/filmlobby/groupsync-go/internal/database"
	"github.com/filmlobby/groupsync-go/internal/model"
	"github.com/filmlobby/groupsync-go/internal/repository"
)

// stubTxRunner runs the function directly; the repo stubs ignore the nil
// transaction.
type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type stubSessionRepo struct {
	markExpiredCount  int64
	markExpiredCalls  int
	markExpiredSignal chan struct{}
	deleteEndedCount  int64
	deleteEndedCalls  int
	deleteEndedWindow time.Duration
}

func (s *stubSessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	return nil, nil
}

func (s *stubSessionRepo) FindActiveByCode(ctx context.Context, code string) (*model.Session, error) {
	return nil, nil
}

func (s *stubSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	return nil, nil
}

func (s *stubSessionRepo) UpdateFilters(ctx context.Context, code string, filters model.FilterSet) error {
	return nil
}

func (s *stubSessionRepo) MarkEnded(ctx context.Context, code string) error {
	return nil
}

func (s *stubSessionRepo) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *stubSessionRepo) MarkExpired(ctx context.Context) (int64, error) {
	s.markExpiredCalls++
	if s.markExpiredSignal != nil {
		select {
		case s.markExpiredSignal <- struct{}{}:
		default:
		}
	}
	return s.markExpiredCount, nil
}

func (s *stubSessionRepo) DeleteEnded(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.deleteEndedCalls++
	s.deleteEndedWindow = olderThan
	return s.deleteEndedCount, nil
}

func (s *stubSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return s
}

type stubParticipantRepo struct {
	deleteForEndedCount  int64
	deleteForEndedCalls  int
	deleteForEndedWindow time.Duration
}

func (s *stubParticipantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	return nil, nil
}

func (s *stubParticipantRepo) ListBySessionCode(ctx context.Context, code string) ([]model.Participant, error) {
	return nil, nil
}

func (s *stubParticipantRepo) Create(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error) {
	return nil, nil
}

func (s *stubParticipantRepo) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *stubParticipantRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (s *stubParticipantRepo) SetHost(ctx context.Context, id string) error {
	return nil
}

func (s *stubParticipantRepo) DeleteForEndedSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.deleteForEndedCalls++
	s.deleteForEndedWindow = olderThan
	return s.deleteForEndedCount, nil
}

func (s *stubParticipantRepo) WithTx(tx *sqlx.Tx) repository.ParticipantRepository {
	return s
}

func TestCleanupJob(t *testing.T) {
	t.Run("sweeps expiry then prunes with retention window", func(t *testing.T) {
		sessions := &stubSessionRepo{markExpiredCount: 3, deleteEndedCount: 2}
		participants := &stubParticipantRepo{deleteForEndedCount: 5}

		job := NewCleanupJob(stubTxRunner{}, sessions, participants, time.Minute)
		job.cleanup()

		assert.Equal(t, 1, sessions.markExpiredCalls)
		assert.Equal(t, 1, participants.deleteForEndedCalls)
		assert.Equal(t, 1, sessions.deleteEndedCalls)
		assert.Equal(t, config.EndedSessionRetention, sessions.deleteEndedWindow)
		assert.Equal(t, config.EndedSessionRetention, participants.deleteForEndedWindow)
	})

	t.Run("runs an initial sweep on start", func(t *testing.T) {
		sessions := &stubSessionRepo{markExpiredSignal: make(chan struct{}, 1)}
		participants := &stubParticipantRepo{}

		job := NewCleanupJob(stubTxRunner{}, sessions, participants, time.Hour)
		job.Start()
		defer job.Stop()

		select {
		case <-sessions.markExpiredSignal:
		case <-time.After(time.Second):
			t.Fatal("initial sweep did not run")
		}
	})
}

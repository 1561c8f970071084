package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "github.com/filmlobby/groupsync-go/internal/errors"
	"github.com/filmlobby/groupsync-go/internal/model"
	"github.com/filmlobby/groupsync-go/internal/repository"
)

// Mock session repository
type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindActiveByCode(ctx context.Context, code string) (*model.Session, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) UpdateFilters(ctx context.Context, code string, filters model.FilterSet) error {
	args := m.Called(ctx, code, filters)
	return args.Error(0)
}

func (m *mockSessionRepo) MarkEnded(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *mockSessionRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionRepo) MarkExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) DeleteEnded(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return m
}

// Mock participant repository
type mockParticipantRepo struct {
	mock.Mock
}

func (m *mockParticipantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Participant), args.Error(1)
}

func (m *mockParticipantRepo) ListBySessionCode(ctx context.Context, code string) ([]model.Participant, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Participant), args.Error(1)
}

func (m *mockParticipantRepo) Create(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Participant), args.Error(1)
}

func (m *mockParticipantRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockParticipantRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *mockParticipantRepo) SetHost(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockParticipantRepo) DeleteForEndedSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockParticipantRepo) WithTx(tx *sqlx.Tx) repository.ParticipantRepository {
	return m
}

// Mock publisher
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishFilters(ctx context.Context, code string, filters model.FilterSet) error {
	args := m.Called(ctx, code, filters)
	return args.Error(0)
}

func (m *mockPublisher) PublishEnded(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *mockPublisher) PublishParticipants(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func newTestService() (*SessionService, *mockSessionRepo, *mockParticipantRepo, *mockPublisher) {
	sessions := new(mockSessionRepo)
	participants := new(mockParticipantRepo)
	publisher := new(mockPublisher)
	svc := NewSessionService(sessions, participants, publisher, 2*time.Hour)
	return svc, sessions, participants, publisher
}

func sessionFixture(code string) *model.Session {
	now := time.Now()
	return &model.Session{
		ID:        "11111111-2222-3333-4444-555555555555",
		Code:      code,
		Filters:   model.DefaultFilterSet(),
		IsActive:  true,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessionServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates session with caller as host", func(t *testing.T) {
		svc, sessions, participants, publisher := newTestService()

		session := sessionFixture("ABC123")
		sessions.On("Create", ctx, mock.AnythingOfType("model.CreateSessionParams")).Return(session, nil)

		var hostParams model.CreateParticipantParams
		participants.On("Create", ctx, mock.AnythingOfType("model.CreateParticipantParams")).
			Run(func(args mock.Arguments) {
				hostParams = args.Get(1).(model.CreateParticipantParams)
			}).
			Return(&model.Participant{ID: "p1", SessionCode: "ABC123", IsHost: true}, nil)
		publisher.On("PublishParticipants", ctx, "ABC123").Return(nil)

		result, err := svc.Create(ctx, model.FilterSet{})

		assert.NoError(t, err)
		assert.Equal(t, "ABC123", result.Session.Code)
		assert.NotEmpty(t, result.ParticipantID)
		assert.True(t, hostParams.IsHost, "creator must be registered as host")
		assert.Equal(t, model.DefaultHostName, hostParams.DisplayName)
		assert.Equal(t, "ABC123", hostParams.SessionCode)
		sessions.AssertExpectations(t)
		participants.AssertExpectations(t)
	})

	t.Run("regenerates code on unique violation", func(t *testing.T) {
		svc, sessions, participants, publisher := newTestService()

		session := sessionFixture("XYZ789")
		collision := &pq.Error{Code: "23505"}
		sessions.On("Create", ctx, mock.AnythingOfType("model.CreateSessionParams")).Return(nil, collision).Twice()
		sessions.On("Create", ctx, mock.AnythingOfType("model.CreateSessionParams")).Return(session, nil).Once()
		participants.On("Create", ctx, mock.AnythingOfType("model.CreateParticipantParams")).
			Return(&model.Participant{ID: "p1"}, nil)
		publisher.On("PublishParticipants", ctx, "XYZ789").Return(nil)

		result, err := svc.Create(ctx, model.FilterSet{})

		assert.NoError(t, err)
		assert.Equal(t, "XYZ789", result.Session.Code)
		sessions.AssertNumberOfCalls(t, "Create", 3)
	})

	t.Run("gives up after repeated collisions", func(t *testing.T) {
		svc, sessions, _, _ := newTestService()

		collision := &pq.Error{Code: "23505"}
		sessions.On("Create", ctx, mock.AnythingOfType("model.CreateSessionParams")).Return(nil, collision)

		result, err := svc.Create(ctx, model.FilterSet{})

		assert.Nil(t, result)
		assert.Equal(t, apperrors.ErrCodeWriteFailure, apperrors.GetCode(err))
	})

	t.Run("deletes session when host insert fails", func(t *testing.T) {
		svc, sessions, participants, _ := newTestService()

		session := sessionFixture("ABC123")
		sessions.On("Create", ctx, mock.AnythingOfType("model.CreateSessionParams")).Return(session, nil)
		participants.On("Create", ctx, mock.AnythingOfType("model.CreateParticipantParams")).
			Return(nil, errors.New("insert failed"))
		sessions.On("Delete", ctx, session.ID).Return(nil)

		result, err := svc.Create(ctx, model.FilterSet{})

		assert.Nil(t, result)
		assert.Equal(t, apperrors.ErrCodePartialFailure, apperrors.GetCode(err))
		sessions.AssertCalled(t, "Delete", ctx, session.ID)
	})

	t.Run("still reports partial failure when compensating delete fails", func(t *testing.T) {
		svc, sessions, participants, _ := newTestService()

		session := sessionFixture("ABC123")
		sessions.On("Create", ctx, mock.AnythingOfType("model.CreateSessionParams")).Return(session, nil)
		participants.On("Create", ctx, mock.AnythingOfType("model.CreateParticipantParams")).
			Return(nil, errors.New("insert failed"))
		sessions.On("Delete", ctx, session.ID).Return(errors.New("delete failed"))

		result, err := svc.Create(ctx, model.FilterSet{})

		assert.Nil(t, result)
		assert.Equal(t, apperrors.ErrCodePartialFailure, apperrors.GetCode(err))
	})

	t.Run("succeeds even when participant broadcast fails", func(t *testing.T) {
		svc, sessions, participants, publisher := newTestService()

		session := sessionFixture("ABC123")
		sessions.On("Create", ctx, mock.AnythingOfType("model.CreateSessionParams")).Return(session, nil)
		participants.On("Create", ctx, mock.AnythingOfType("model.CreateParticipantParams")).
			Return(&model.Participant{ID: "p1"}, nil)
		publisher.On("PublishParticipants", ctx, "ABC123").Return(errors.New("redis down"))

		result, err := svc.Create(ctx, model.FilterSet{})

		assert.NoError(t, err)
		assert.NotNil(t, result)
	})
}

func TestSessionServiceJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("joins active session as guest", func(t *testing.T) {
		svc, sessions, participants, publisher := newTestService()

		session := sessionFixture("ABC123")
		sessions.On("FindActiveByCode", ctx, "ABC123").Return(session, nil)

		var guestParams model.CreateParticipantParams
		participants.On("Create", ctx, mock.AnythingOfType("model.CreateParticipantParams")).
			Run(func(args mock.Arguments) {
				guestParams = args.Get(1).(model.CreateParticipantParams)
			}).
			Return(&model.Participant{ID: "p2"}, nil)
		publisher.On("PublishParticipants", ctx, "ABC123").Return(nil)

		result, err := svc.Join(ctx, "ABC123", "Alice")

		assert.NoError(t, err)
		assert.Equal(t, "ABC123", result.Session.Code)
		assert.False(t, guestParams.IsHost, "joiner must never be host")
		assert.Equal(t, "Alice", guestParams.DisplayName)
	})

	t.Run("normalizes lowercase code before lookup", func(t *testing.T) {
		svc, sessions, participants, publisher := newTestService()

		session := sessionFixture("ABC123")
		sessions.On("FindActiveByCode", ctx, "ABC123").Return(session, nil)
		participants.On("Create", ctx, mock.AnythingOfType("model.CreateParticipantParams")).
			Return(&model.Participant{ID: "p2"}, nil)
		publisher.On("PublishParticipants", ctx, "ABC123").Return(nil)

		_, err := svc.Join(ctx, "abc123", "")

		assert.NoError(t, err)
		sessions.AssertCalled(t, "FindActiveByCode", ctx, "ABC123")
	})

	t.Run("defaults blank display name to Guest", func(t *testing.T) {
		svc, sessions, participants, publisher := newTestService()

		session := sessionFixture("ABC123")
		sessions.On("FindActiveByCode", ctx, "ABC123").Return(session, nil)

		var guestParams model.CreateParticipantParams
		participants.On("Create", ctx, mock.AnythingOfType("model.CreateParticipantParams")).
			Run(func(args mock.Arguments) {
				guestParams = args.Get(1).(model.CreateParticipantParams)
			}).
			Return(&model.Participant{ID: "p2"}, nil)
		publisher.On("PublishParticipants", ctx, "ABC123").Return(nil)

		_, err := svc.Join(ctx, "ABC123", "")

		assert.NoError(t, err)
		assert.Equal(t, model.DefaultGuestName, guestParams.DisplayName)
	})

	t.Run("rejects malformed code", func(t *testing.T) {
		svc, _, _, _ := newTestService()

		_, err := svc.Join(ctx, "AB", "Alice")

		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})

	t.Run("returns not found for unknown code", func(t *testing.T) {
		svc, sessions, _, _ := newTestService()

		sessions.On("FindActiveByCode", ctx, "ABC123").Return(nil, nil)

		_, err := svc.Join(ctx, "ABC123", "Alice")

		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("rejects expired session even if still marked active", func(t *testing.T) {
		svc, sessions, _, _ := newTestService()

		session := sessionFixture("ABC123")
		session.ExpiresAt = time.Now().Add(-time.Minute)
		sessions.On("FindActiveByCode", ctx, "ABC123").Return(session, nil)

		_, err := svc.Join(ctx, "ABC123", "Alice")

		assert.Equal(t, apperrors.ErrCodeSessionExpired, apperrors.GetCode(err))
	})
}

func TestSessionServiceLeave(t *testing.T) {
	ctx := context.Background()

	host := &model.Participant{ID: "p-host", SessionCode: "ABC123", DisplayName: "Host", IsHost: true, JoinedAt: time.Now().Add(-time.Hour)}
	guest := &model.Participant{ID: "p-guest", SessionCode: "ABC123", DisplayName: "Alice", IsHost: false, JoinedAt: time.Now()}

	t.Run("non-host leave does not touch host flag", func(t *testing.T) {
		svc, _, participants, publisher := newTestService()

		participants.On("FindByID", ctx, guest.ID).Return(guest, nil)
		participants.On("Delete", ctx, guest.ID).Return(nil)
		participants.On("ListBySessionCode", ctx, "ABC123").Return([]model.Participant{*host}, nil)
		publisher.On("PublishParticipants", ctx, "ABC123").Return(nil)

		err := svc.Leave(ctx, guest.ID)

		assert.NoError(t, err)
		participants.AssertNotCalled(t, "SetHost", mock.Anything, mock.Anything)
	})

	t.Run("host leave promotes earliest joined survivor", func(t *testing.T) {
		svc, _, participants, publisher := newTestService()

		older := model.Participant{ID: "p-older", SessionCode: "ABC123", JoinedAt: time.Now().Add(-30 * time.Minute)}
		newer := model.Participant{ID: "p-newer", SessionCode: "ABC123", JoinedAt: time.Now()}

		participants.On("FindByID", ctx, host.ID).Return(host, nil)
		participants.On("Delete", ctx, host.ID).Return(nil)
		participants.On("ListBySessionCode", ctx, "ABC123").Return([]model.Participant{older, newer}, nil)
		participants.On("SetHost", ctx, "p-older").Return(nil)
		publisher.On("PublishParticipants", ctx, "ABC123").Return(nil)

		err := svc.Leave(ctx, host.ID)

		assert.NoError(t, err)
		participants.AssertCalled(t, "SetHost", ctx, "p-older")
	})

	t.Run("failed host transfer is swallowed", func(t *testing.T) {
		svc, _, participants, publisher := newTestService()

		survivor := model.Participant{ID: "p-next", SessionCode: "ABC123"}

		participants.On("FindByID", ctx, host.ID).Return(host, nil)
		participants.On("Delete", ctx, host.ID).Return(nil)
		participants.On("ListBySessionCode", ctx, "ABC123").Return([]model.Participant{survivor}, nil)
		participants.On("SetHost", ctx, "p-next").Return(errors.New("write failed"))
		publisher.On("PublishParticipants", ctx, "ABC123").Return(nil)

		err := svc.Leave(ctx, host.ID)

		assert.NoError(t, err, "a failed promotion must not abort the leave")
	})

	t.Run("last participant leaving ends the session", func(t *testing.T) {
		svc, sessions, participants, publisher := newTestService()

		participants.On("FindByID", ctx, host.ID).Return(host, nil)
		participants.On("Delete", ctx, host.ID).Return(nil)
		participants.On("ListBySessionCode", ctx, "ABC123").Return([]model.Participant{}, nil)
		sessions.On("MarkEnded", ctx, "ABC123").Return(nil)
		publisher.On("PublishEnded", ctx, "ABC123").Return(nil)
		publisher.On("PublishParticipants", ctx, "ABC123").Return(nil)

		err := svc.Leave(ctx, host.ID)

		assert.NoError(t, err)
		sessions.AssertCalled(t, "MarkEnded", ctx, "ABC123")
		participants.AssertNotCalled(t, "SetHost", mock.Anything, mock.Anything)
	})

	t.Run("returns not found for unknown participant", func(t *testing.T) {
		svc, _, participants, _ := newTestService()

		participants.On("FindByID", ctx, "nope").Return(nil, nil)

		err := svc.Leave(ctx, "nope")

		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestSessionServiceEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("marks session ended and broadcasts", func(t *testing.T) {
		svc, sessions, _, publisher := newTestService()

		sessions.On("MarkEnded", ctx, "ABC123").Return(nil)
		publisher.On("PublishEnded", ctx, "ABC123").Return(nil)

		err := svc.End(ctx, "abc123")

		assert.NoError(t, err)
		sessions.AssertCalled(t, "MarkEnded", ctx, "ABC123")
		publisher.AssertCalled(t, "PublishEnded", ctx, "ABC123")
	})

	t.Run("succeeds when broadcast fails", func(t *testing.T) {
		svc, sessions, _, publisher := newTestService()

		sessions.On("MarkEnded", ctx, "ABC123").Return(nil)
		publisher.On("PublishEnded", ctx, "ABC123").Return(errors.New("redis down"))

		err := svc.End(ctx, "ABC123")

		assert.NoError(t, err)
	})

	t.Run("wraps store failure", func(t *testing.T) {
		svc, sessions, _, _ := newTestService()

		sessions.On("MarkEnded", ctx, "ABC123").Return(errors.New("db down"))

		err := svc.End(ctx, "ABC123")

		assert.Equal(t, apperrors.ErrCodeWriteFailure, apperrors.GetCode(err))
	})
}

func TestSessionServiceUpdateFilters(t *testing.T) {
	ctx := context.Background()

	t.Run("persists normalized document then broadcasts it", func(t *testing.T) {
		svc, sessions, _, publisher := newTestService()

		// Nil slices must go out as empty lists.
		in := model.FilterSet{MinYear: "1990"}
		want := in.Normalized()

		sessions.On("UpdateFilters", ctx, "ABC123", want).Return(nil)
		publisher.On("PublishFilters", ctx, "ABC123", want).Return(nil)

		err := svc.UpdateFilters(ctx, "ABC123", in)

		assert.NoError(t, err)
		sessions.AssertExpectations(t)
		publisher.AssertExpectations(t)
	})

	t.Run("succeeds when broadcast fails", func(t *testing.T) {
		svc, sessions, _, publisher := newTestService()

		sessions.On("UpdateFilters", ctx, "ABC123", mock.Anything).Return(nil)
		publisher.On("PublishFilters", ctx, "ABC123", mock.Anything).Return(errors.New("redis down"))

		err := svc.UpdateFilters(ctx, "ABC123", model.FilterSet{})

		assert.NoError(t, err)
	})

	t.Run("reports write failure when persist fails", func(t *testing.T) {
		svc, sessions, _, publisher := newTestService()

		sessions.On("UpdateFilters", ctx, "ABC123", mock.Anything).Return(errors.New("db down"))

		err := svc.UpdateFilters(ctx, "ABC123", model.FilterSet{})

		assert.Equal(t, apperrors.ErrCodeWriteFailure, apperrors.GetCode(err))
		publisher.AssertNotCalled(t, "PublishFilters", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSessionServiceHeartbeat(t *testing.T) {
	ctx := context.Background()

	t.Run("touches last seen", func(t *testing.T) {
		svc, _, participants, _ := newTestService()

		participants.On("TouchLastSeen", ctx, "p1", mock.AnythingOfType("time.Time")).Return(nil)

		svc.Heartbeat(ctx, "p1")

		participants.AssertExpectations(t)
	})

	t.Run("swallows write failure", func(t *testing.T) {
		svc, _, participants, _ := newTestService()

		participants.On("TouchLastSeen", ctx, "p1", mock.AnythingOfType("time.Time")).Return(errors.New("db down"))

		svc.Heartbeat(ctx, "p1")
	})
}

func TestSessionServiceGet(t *testing.T) {
	ctx := context.Background()

	t.Run("returns session by normalized code", func(t *testing.T) {
		svc, sessions, _, _ := newTestService()

		session := sessionFixture("ABC123")
		sessions.On("FindByCode", ctx, "ABC123").Return(session, nil)

		got, err := svc.Get(ctx, " abc123 ")

		assert.NoError(t, err)
		assert.Equal(t, "ABC123", got.Code)
	})

	t.Run("returns not found for missing session", func(t *testing.T) {
		svc, sessions, _, _ := newTestService()

		sessions.On("FindByCode", ctx, "ABC123").Return(nil, nil)

		_, err := svc.Get(ctx, "ABC123")

		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

package jobs

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/filmlobby/groupsync-go/internal/config"
	"github.com/filmlobby/groupsync-go/internal/database"
	"github.com/filmlobby/groupsync-go/internal/repository"
)

// txRunner runs a function inside a database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// CleanupJob sweeps the session store on a fixed interval. It marks
// overdue sessions expired, then prunes ended sessions and their
// participant rows once the retention window has passed. Participants of
// live sessions are never touched, no matter how stale their heartbeat.
type CleanupJob struct {
	db              txRunner
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	interval        time.Duration
	done            chan struct{}
}

func NewCleanupJob(
	db txRunner,
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		db:              db,
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		interval:        interval,
		done:            make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "expired sessions", j.sessionRepo.MarkExpired)
	j.prune(ctx)
}

// prune deletes ended sessions past the retention window together with
// their participant rows, in one transaction so a session row never
// outlives its members or vice versa. Participants go first, they
// reference the session rows.
func (j *CleanupJob) prune(ctx context.Context) {
	var participantCount, sessionCount int64

	err := j.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		participantCount, err = j.participantRepo.WithTx(tx).DeleteForEndedSessions(ctx, config.EndedSessionRetention)
		if err != nil {
			return err
		}
		sessionCount, err = j.sessionRepo.WithTx(tx).DeleteEnded(ctx, config.EndedSessionRetention)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to prune ended sessions")
		return
	}

	if sessionCount > 0 || participantCount > 0 {
		log.Info().
			Int64("sessions", sessionCount).
			Int64("participants", participantCount).
			Msg("pruned ended sessions")
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}

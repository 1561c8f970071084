// Package client wraps the session coordinator and change feed behind a
// single handle suitable for embedding in a UI layer. One Facade tracks at
// most one live session; hosting or joining hands back control of that
// session until Leave or End releases it.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/filmlobby/groupsync-go/internal/config"
	apperrors "github.com/filmlobby/groupsync-go/internal/errors"
	"github.com/filmlobby/groupsync-go/internal/feed"
	"github.com/filmlobby/groupsync-go/internal/model"
	"github.com/filmlobby/groupsync-go/internal/service"
)

// Coordinator is the slice of the session service the facade drives.
type Coordinator interface {
	Create(ctx context.Context, initial model.FilterSet) (*service.CreateSessionResult, error)
	Join(ctx context.Context, code, displayName string) (*service.JoinSessionResult, error)
	Leave(ctx context.Context, participantID string) error
	End(ctx context.Context, code string) error
	UpdateFilters(ctx context.Context, code string, filters model.FilterSet) error
	Heartbeat(ctx context.Context, participantID string)
	Get(ctx context.Context, code string) (*model.Session, error)
	Participants(ctx context.Context, code string) ([]model.Participant, error)
}

var _ Coordinator = (*service.SessionService)(nil)

// Feed is the subscription half of the change feed.
type Feed interface {
	Subscribe(code string) *feed.Subscriber
	Unsubscribe(sub *feed.Subscriber)
}

var _ Feed = (*feed.Broker)(nil)

type SyncMode string

const (
	// SyncModeAuto applies remote filter changes as they arrive.
	SyncModeAuto SyncMode = "auto"
	// SyncModeManual holds remote filter changes as pending until the user
	// accepts them with ApplyRemote.
	SyncModeManual SyncMode = "manual"
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
	StateLeaving
)

// Callbacks are invoked from the facade's feed goroutine, never while the
// facade's lock is held. Nil callbacks are skipped.
type Callbacks struct {
	// OnFilters delivers a remote filter document that has been applied.
	OnFilters func(model.FilterSet)
	// OnParticipants delivers the refreshed participant list after a
	// membership change.
	OnParticipants func([]model.Participant)
	// OnRemoteAvailable fires in manual mode when a remote document is
	// waiting to be accepted.
	OnRemoteAvailable func(model.FilterSet)
	// OnEnded fires when the session ends remotely.
	OnEnded func()
}

// lifecycle bundles everything torn down when a session is released. The
// once guards double release: local leave, remote end and a failed join
// cleanup can race.
type lifecycle struct {
	sub  *feed.Subscriber
	stop chan struct{}
	once sync.Once
}

type Facade struct {
	coordinator Coordinator
	feed        Feed
	callbacks   Callbacks

	mu            sync.Mutex
	mode          SyncMode
	state         State
	code          string
	participantID string
	isHost        bool
	lastApplied   model.FilterSet
	pendingRemote *model.FilterSet
	debounce      *time.Timer
	life          *lifecycle
}

func NewFacade(coordinator Coordinator, feedSrc Feed, mode SyncMode, callbacks Callbacks) *Facade {
	if mode != SyncModeManual {
		mode = SyncModeAuto
	}
	return &Facade{
		coordinator: coordinator,
		feed:        feedSrc,
		callbacks:   callbacks,
		mode:        mode,
		state:       StateIdle,
		lastApplied: model.DefaultFilterSet(),
	}
}

// Host creates a new session seeded with the given filters and attaches
// to it as host.
func (f *Facade) Host(ctx context.Context, initial model.FilterSet) error {
	if err := f.beginJoin(); err != nil {
		return err
	}

	result, err := f.coordinator.Create(ctx, initial)
	if err != nil {
		f.abortJoin()
		return err
	}

	f.attach(result.Session.Code, result.ParticipantID, result.Session.Filters, true)
	return nil
}

// Join attaches to an existing session by code. On success the session's
// current filter document is applied locally so the joiner starts in sync.
func (f *Facade) Join(ctx context.Context, code, displayName string) error {
	if err := f.beginJoin(); err != nil {
		return err
	}

	result, err := f.coordinator.Join(ctx, code, displayName)
	if err != nil {
		f.abortJoin()
		return err
	}

	f.attach(result.Session.Code, result.ParticipantID, result.Session.Filters, false)

	if f.callbacks.OnFilters != nil {
		f.callbacks.OnFilters(result.Session.Filters.Normalized())
	}
	return nil
}

func (f *Facade) beginJoin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateIdle {
		return apperrors.Conflict("A session is already active")
	}
	f.state = StateJoining
	return nil
}

func (f *Facade) abortJoin() {
	f.mu.Lock()
	f.state = StateIdle
	f.mu.Unlock()
}

func (f *Facade) attach(code, participantID string, filters model.FilterSet, isHost bool) {
	life := &lifecycle{
		sub:  f.feed.Subscribe(code),
		stop: make(chan struct{}),
	}

	f.mu.Lock()
	f.state = StateActive
	f.code = code
	f.participantID = participantID
	f.isHost = isHost
	f.lastApplied = filters.Normalized()
	f.pendingRemote = nil
	f.life = life
	f.mu.Unlock()

	go f.eventLoop(life)
	go f.heartbeatLoop(life)
}

// release tears the lifecycle down exactly once: feed subscription,
// heartbeat loop and debounce timer all stop, on every exit path.
func (f *Facade) release(life *lifecycle) {
	if life == nil {
		return
	}
	life.once.Do(func() {
		close(life.stop)
		f.feed.Unsubscribe(life.sub)

		f.mu.Lock()
		if f.debounce != nil {
			f.debounce.Stop()
			f.debounce = nil
		}
		f.state = StateIdle
		f.code = ""
		f.participantID = ""
		f.isHost = false
		f.pendingRemote = nil
		f.life = nil
		f.mu.Unlock()
	})
}

// Leave detaches from the session. The local teardown happens regardless
// of whether the server-side leave succeeds: a network failure must not
// leave the facade stuck in a live session.
func (f *Facade) Leave(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateActive {
		f.mu.Unlock()
		return nil
	}
	f.state = StateLeaving
	participantID := f.participantID
	life := f.life
	f.mu.Unlock()

	err := f.coordinator.Leave(ctx, participantID)
	f.release(life)
	if err != nil {
		log.Warn().Err(err).Msg("server-side leave failed, detached locally")
	}
	return err
}

// End terminates the session for everyone. Like Leave, local teardown is
// unconditional.
func (f *Facade) End(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateActive {
		f.mu.Unlock()
		return nil
	}
	f.state = StateLeaving
	code := f.code
	life := f.life
	f.mu.Unlock()

	err := f.coordinator.End(ctx, code)
	f.release(life)
	return err
}

// SetFilters records a local edit and schedules its broadcast. Rapid edits
// collapse: only the document standing when the debounce window closes is
// written. The local document becomes the echo-suppression baseline
// immediately, so our own broadcast coming back is not re-applied.
func (f *Facade) SetFilters(filters model.FilterSet) {
	doc := filters.Normalized()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateActive {
		return
	}
	f.lastApplied = doc

	if f.debounce != nil {
		f.debounce.Stop()
	}
	f.debounce = time.AfterFunc(config.FilterDebounce, f.flushFilters)
}

func (f *Facade) flushFilters() {
	f.mu.Lock()
	if f.state != StateActive {
		f.mu.Unlock()
		return
	}
	code := f.code
	// The baseline holds the newest local edit when the window closes.
	doc := f.lastApplied
	f.mu.Unlock()

	if err := f.coordinator.UpdateFilters(context.Background(), code, doc); err != nil {
		log.Warn().Err(err).Str("sessionCode", code).Msg("filter broadcast failed")
	}
}

// SetSyncMode switches how remote documents are handled. The toggle is
// purely local. Switching to auto adopts any document already pending.
func (f *Facade) SetSyncMode(mode SyncMode) {
	if mode != SyncModeAuto && mode != SyncModeManual {
		return
	}

	f.mu.Lock()
	f.mode = mode
	var doc *model.FilterSet
	if mode == SyncModeAuto && f.pendingRemote != nil {
		doc = f.pendingRemote
		f.pendingRemote = nil
		f.lastApplied = *doc
	}
	cb := f.callbacks.OnFilters
	f.mu.Unlock()

	if doc != nil && cb != nil {
		cb(*doc)
	}
}

func (f *Facade) SyncMode() SyncMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// ApplyRemote accepts the pending remote document in manual mode. Returns
// false when nothing is pending.
func (f *Facade) ApplyRemote() bool {
	f.mu.Lock()
	if f.pendingRemote == nil {
		f.mu.Unlock()
		return false
	}
	doc := *f.pendingRemote
	f.pendingRemote = nil
	f.lastApplied = doc
	cb := f.callbacks.OnFilters
	f.mu.Unlock()

	if cb != nil {
		cb(doc)
	}
	return true
}

// Refresh pulls the session's current document and participant list from
// the store, bypassing the feed. It applies the document even in manual
// mode: an explicit refresh is itself the user's acceptance.
func (f *Facade) Refresh(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateActive {
		f.mu.Unlock()
		return apperrors.Conflict("No active session")
	}
	code := f.code
	f.mu.Unlock()

	session, err := f.coordinator.Get(ctx, code)
	if err != nil {
		return err
	}
	participants, err := f.coordinator.Participants(ctx, code)
	if err != nil {
		return err
	}

	doc := session.Filters.Normalized()
	f.mu.Lock()
	f.lastApplied = doc
	f.pendingRemote = nil
	f.mu.Unlock()

	if f.callbacks.OnFilters != nil {
		f.callbacks.OnFilters(doc)
	}
	if f.callbacks.OnParticipants != nil {
		f.callbacks.OnParticipants(participants)
	}
	return nil
}

func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Facade) SessionCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

func (f *Facade) ParticipantID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participantID
}

func (f *Facade) IsHost() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isHost
}

func (f *Facade) eventLoop(life *lifecycle) {
	for {
		select {
		case <-life.stop:
			return
		case <-life.sub.Done:
			return
		case event, ok := <-life.sub.Events:
			if !ok {
				return
			}
			f.handleEvent(life, event)
		}
	}
}

func (f *Facade) handleEvent(life *lifecycle, event feed.Event) {
	switch event.Type {
	case feed.EventFilters:
		var doc model.FilterSet
		if err := json.Unmarshal(event.Data, &doc); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal remote filter document")
			return
		}
		f.handleRemoteFilters(doc.Normalized())

	case feed.EventParticipants:
		f.mu.Lock()
		code := f.code
		active := f.state == StateActive
		f.mu.Unlock()
		if !active {
			return
		}
		participants, err := f.coordinator.Participants(context.Background(), code)
		if err != nil {
			log.Warn().Err(err).Str("sessionCode", code).Msg("failed to refresh participants")
			return
		}
		if f.callbacks.OnParticipants != nil {
			f.callbacks.OnParticipants(participants)
		}

	case feed.EventEnded:
		f.release(life)
		if f.callbacks.OnEnded != nil {
			f.callbacks.OnEnded()
		}
	}
}

func (f *Facade) handleRemoteFilters(doc model.FilterSet) {
	f.mu.Lock()
	if f.state != StateActive {
		f.mu.Unlock()
		return
	}
	// Echo suppression: our own write coming back matches the baseline.
	if doc.Equal(f.lastApplied) {
		f.mu.Unlock()
		return
	}

	if f.mode == SyncModeManual {
		f.pendingRemote = &doc
		cb := f.callbacks.OnRemoteAvailable
		f.mu.Unlock()
		if cb != nil {
			cb(doc)
		}
		return
	}

	f.lastApplied = doc
	cb := f.callbacks.OnFilters
	f.mu.Unlock()
	if cb != nil {
		cb(doc)
	}
}

func (f *Facade) heartbeatLoop(life *lifecycle) {
	ticker := time.NewTicker(config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-life.stop:
			return
		case <-ticker.C:
			f.mu.Lock()
			participantID := f.participantID
			active := f.state == StateActive
			f.mu.Unlock()
			if !active {
				return
			}
			f.coordinator.Heartbeat(context.Background(), participantID)
		}
	}
}

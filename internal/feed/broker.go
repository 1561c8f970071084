package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/filmlobby/groupsync-go/internal/model"
	redisclient "github.com/filmlobby/groupsync-go/internal/redis"
)

const (
	KeepaliveInterval = 30 * time.Second
)

type EventType string

const (
	// EventFilters carries the full new filter document of a session.
	EventFilters EventType = "filters"
	// EventParticipants signals a membership change; subscribers re-fetch
	// the full participant list rather than applying a diff.
	EventParticipants EventType = "participants"
	// EventEnded signals the session went inactive.
	EventEnded EventType = "ended"
)

type Event struct {
	Type        EventType       `json:"type"`
	SessionCode string          `json:"sessionCode"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Subscriber receives the change feed of one session: both the session-row
// feed (filters, end) and the participant feed, delivered in arrival order.
type Subscriber struct {
	SessionCode string
	Events      chan Event
	Done        chan struct{}
}

// Broker fans Redis pub/sub session channels out to in-process subscribers.
// One Redis subscription is held per session code with at least one local
// subscriber; it covers both feed channels of that session.
type Broker struct {
	redis  *redisclient.Client
	subs   map[string]map[*Subscriber]bool // session code -> set of subscribers
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:  redisClient,
		subs:   make(map[string]map[*Subscriber]bool),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Broker) Subscribe(code string) *Subscriber {
	sub := &Subscriber{
		SessionCode: code,
		Events:      make(chan Event, 100),
		Done:        make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[code] == nil {
		b.subs[code] = make(map[*Subscriber]bool)
		go b.subscribeToRedis(code)
	}
	b.subs[code][sub] = true
	subCount := len(b.subs[code])
	b.mu.Unlock()

	log.Info().
		Str("sessionCode", code).
		Int("subscriberCount", subCount).
		Msg("feed subscriber attached")

	return sub
}

func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[sub.SessionCode]; ok {
		delete(subs, sub)
		close(sub.Done)

		if len(subs) == 0 {
			delete(b.subs, sub.SessionCode)
		}

		log.Info().
			Str("sessionCode", sub.SessionCode).
			Int("subscriberCount", len(subs)).
			Msg("feed subscriber detached")
	}
}

// PublishFilters broadcasts a session's new filter document on its
// session-row feed.
func (b *Broker) PublishFilters(ctx context.Context, code string, filters model.FilterSet) error {
	data, err := json.Marshal(filters.Normalized())
	if err != nil {
		return err
	}
	return b.publish(ctx, redisclient.FilterChannel(code), Event{
		Type:        EventFilters,
		SessionCode: code,
		Data:        data,
	})
}

// PublishEnded broadcasts that the session went inactive.
func (b *Broker) PublishEnded(ctx context.Context, code string) error {
	return b.publish(ctx, redisclient.FilterChannel(code), Event{
		Type:        EventEnded,
		SessionCode: code,
	})
}

// PublishParticipants broadcasts a membership-change trigger. The event
// carries no payload; consumers re-fetch the participant list.
func (b *Broker) PublishParticipants(ctx context.Context, code string) error {
	return b.publish(ctx, redisclient.ParticipantChannel(code), Event{
		Type:        EventParticipants,
		SessionCode: code,
	})
}

func (b *Broker) publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(code string) {
	pubsub := b.redis.Subscribe(b.ctx,
		redisclient.FilterChannel(code),
		redisclient.ParticipantChannel(code),
	)
	defer pubsub.Close()

	log.Debug().
		Str("sessionCode", code).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal feed event")
				continue
			}

			b.broadcast(code, event)
		}
	}
}

func (b *Broker) broadcast(code string, event Event) {
	b.mu.RLock()
	subs := b.subs[code]
	b.mu.RUnlock()

	for sub := range subs {
		select {
		case sub.Events <- event:
		default:
			log.Warn().
				Str("sessionCode", code).
				Msg("subscriber event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subs {
		for sub := range subs {
			close(sub.Done)
		}
	}
	b.subs = make(map[string]map[*Subscriber]bool)
}

func (b *Broker) SubscriberCount(code string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[code])
}

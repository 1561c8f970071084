package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/filmlobby/groupsync-go/internal/errors"
	"github.com/filmlobby/groupsync-go/internal/feed"
	"github.com/filmlobby/groupsync-go/internal/httputil"
	"github.com/filmlobby/groupsync-go/internal/service"
	"github.com/filmlobby/groupsync-go/internal/util"
)

// EventsHandler streams a session's change feed over SSE. The stream opens
// with a snapshot of the current filter document so a reconnecting client
// never misses a write that happened while it was away.
type EventsHandler struct {
	broker         *feed.Broker
	sessionService *service.SessionService
}

func NewEventsHandler(broker *feed.Broker, sessionService *service.SessionService) *EventsHandler {
	return &EventsHandler{
		broker:         broker,
		sessionService: sessionService,
	}
}

// GET /v1/sessions/{code}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := util.NormalizeSessionCode(chi.URLParam(r, "code"))

	session, err := h.sessionService.Get(r.Context(), code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !session.IsActive {
		httputil.WriteError(w, apperrors.SessionEnded())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.broker.Subscribe(code)
	defer h.broker.Unsubscribe(sub)

	log.Info().
		Str("sessionCode", code).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, string(feed.EventFilters), session.Filters.Normalized()); err != nil {
		log.Error().Err(err).Msg("failed to send filter snapshot")
		return
	}

	ctx := r.Context()

	keepalive := time.NewTicker(feed.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionCode", code).
				Msg("sse connection closed by client")
			return

		case <-sub.Done:
			log.Info().
				Str("sessionCode", code).
				Msg("sse connection closed by broker")
			return

		case event := <-sub.Events:
			if err := h.sendFeedEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}
			if event.Type == feed.EventEnded {
				return
			}

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionCode", code).
					Msg("keepalive failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendFeedEvent(w http.ResponseWriter, flusher http.Flusher, event feed.Event) error {
	payload := map[string]any{
		"sessionCode": event.SessionCode,
	}
	if event.Data != nil {
		payload["data"] = json.RawMessage(event.Data)
	}
	return h.sendEvent(w, flusher, string(event.Type), payload)
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

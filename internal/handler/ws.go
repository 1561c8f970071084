package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	apperrors "github.com/filmlobby/groupsync-go/internal/errors"
	"github.com/filmlobby/groupsync-go/internal/feed"
	"github.com/filmlobby/groupsync-go/internal/httputil"
	"github.com/filmlobby/groupsync-go/internal/model"
	"github.com/filmlobby/groupsync-go/internal/service"
	"github.com/filmlobby/groupsync-go/internal/util"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsReadLimit    = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope, both directions.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSHandler serves the bidirectional variant of the change feed: the
// server pushes feed events down and accepts filter updates, heartbeats
// and leaves on the same connection.
type WSHandler struct {
	broker         *feed.Broker
	sessionService *service.SessionService
}

func NewWSHandler(broker *feed.Broker, sessionService *service.SessionService) *WSHandler {
	return &WSHandler{
		broker:         broker,
		sessionService: sessionService,
	}
}

// GET /v1/sessions/{code}/ws?participantId=...
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := util.NormalizeSessionCode(chi.URLParam(r, "code"))
	participantID := r.URL.Query().Get("participantId")

	session, err := h.sessionService.Get(r.Context(), code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !session.IsActive {
		httputil.WriteError(w, apperrors.SessionEnded())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		code:          code,
		participantID: participantID,
		handler:       h,
		conn:          conn,
		sub:           h.broker.Subscribe(code),
	}

	log.Info().
		Str("sessionCode", code).
		Str("participantId", participantID).
		Msg("websocket connection established")

	go client.writePump(session.Filters)
	client.readPump()
}

type wsClient struct {
	code          string
	participantID string
	handler       *WSHandler
	conn          *websocket.Conn
	sub           *feed.Subscriber
}

func (c *wsClient) readPump() {
	defer func() {
		c.handler.broker.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		ctx := context.Background()

		switch msg.Event {
		case "update_filters":
			var doc model.FilterSet
			if err := json.Unmarshal(msg.Data, &doc); err != nil {
				log.Warn().Err(err).Msg("invalid filter payload on websocket")
				continue
			}
			if err := c.handler.sessionService.UpdateFilters(ctx, c.code, doc); err != nil {
				log.Warn().Err(err).Str("sessionCode", c.code).Msg("websocket filter update failed")
			}

		case "heartbeat":
			if c.participantID != "" {
				c.handler.sessionService.Heartbeat(ctx, c.participantID)
			}

		case "leave":
			if c.participantID != "" {
				if err := c.handler.sessionService.Leave(ctx, c.participantID); err != nil {
					log.Warn().Err(err).Str("participantId", c.participantID).Msg("websocket leave failed")
				}
			}
			return

		default:
			// ignore
		}
	}
}

func (c *wsClient) writePump(snapshot model.FilterSet) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	// Snapshot first, so a reconnecting client catches up immediately.
	data, err := json.Marshal(snapshot.Normalized())
	if err == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteJSON(WSMessage{Event: string(feed.EventFilters), Data: data}); err != nil {
			return
		}
	}

	for {
		select {
		case <-c.sub.Done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case event, ok := <-c.sub.Events:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(WSMessage{Event: string(event.Type), Data: event.Data}); err != nil {
				return
			}
			if event.Type == feed.EventEnded {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

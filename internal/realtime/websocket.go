package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smacktalklabs/central/backend/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// InboundPayload is the untrusted wire shape delivered by a client over the
// broadcast channel. Everything here is re-sanitized before it reaches any
// session; unknown kinds are rejected at this boundary.
type InboundPayload struct {
	ID          int64                 `json:"id"`
	AuthorName  string                `json:"author_name"`
	Body        string                `json:"body"`
	Kind        string                `json:"kind"`
	Media       *chat.MediaAttachment `json:"media,omitempty"`
	CreatedAtMs int64                 `json:"created_at_ms"`
}

// DecodeInbound coerces the untrusted payload into the typed event model.
// Malformed payloads return an error and are dropped by the caller; a bad
// media attachment is dropped while the event survives.
func DecodeInbound(payload InboundPayload, authorID string, validator *chat.MediaValidator) (chat.Event, error) {
	kind, err := chat.ParseEventKind(payload.Kind)
	if err != nil {
		return chat.Event{}, err
	}
	createdAt := time.UnixMilli(payload.CreatedAtMs)
	if payload.CreatedAtMs <= 0 {
		createdAt = time.Now()
	}
	return chat.NewEvent(payload.ID, authorID, payload.AuthorName, payload.Body, payload.Media, kind, createdAt, validator)
}

// HandlerConfig bundles the dependencies for the websocket endpoint.
type HandlerConfig struct {
	Dispatcher *Dispatcher
	Validator  *chat.MediaValidator
	Logger     *zap.Logger
	OnEvent    func(ctx context.Context, roomID string, event chat.Event)
}

// Handler upgrades connections and bridges them to the room dispatcher:
// outbound fan-out on one side, sanitized inbound publishes on the other.
type Handler struct {
	dispatcher *Dispatcher
	validator  *chat.MediaValidator
	logger     *zap.Logger
	onEvent    func(ctx context.Context, roomID string, event chat.Event)
	upgrader   websocket.Upgrader
}

// NewHandler constructs the websocket bridge.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := cfg.Validator
	if validator == nil {
		validator = chat.NewMediaValidator(nil)
	}
	return &Handler{
		dispatcher: cfg.Dispatcher,
		validator:  validator,
		logger:     logger,
		onEvent:    cfg.OnEvent,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve upgrades the request and pumps messages both ways until the
// connection drops. The room subscription is released on exit so sockets
// never leak across navigation.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, roomID, authorID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, cleanup := h.dispatcher.Subscribe(ctx, roomID)
	defer cleanup()

	go h.writePump(ctx, conn, stream)
	h.readPump(ctx, conn, roomID, authorID)
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, roomID, authorID string) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var payload InboundPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.logger.Debug("dropping malformed payload", zap.Error(err))
			continue
		}
		event, err := DecodeInbound(payload, authorID, h.validator)
		if err != nil {
			h.logger.Debug("dropping rejected payload", zap.Error(err))
			continue
		}
		if h.onEvent != nil {
			h.onEvent(ctx, roomID, event)
		}
		h.dispatcher.Publish(EventMessage{
			RoomID:    roomID,
			Event:     event,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, stream <-chan EventMessage) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

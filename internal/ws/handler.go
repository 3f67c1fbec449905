package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/identity"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/realtime"
)

const (
	kindConversation = "conversation"
	kindPresence     = "presence"
	kindInbox        = "inbox"

	frameHeartbeat = "heartbeat"
)

// Subscriber is the part of the event bus sockets consume.
type Subscriber interface {
	Subscribe(topic string, handler realtime.Handler) (realtime.Handle, error)
	SubscribeFrom(topic string, afterSeq int64, handler realtime.Handler) (realtime.Handle, error)
	Unsubscribe(h realtime.Handle)
}

// SequenceReader reports the newest committed message sequence of a conversation.
type SequenceReader interface {
	LastSeq(ctx context.Context, conversationID string) (int64, error)
}

// RoleChecker gates conversation sockets on membership.
type RoleChecker interface {
	HasRole(ctx context.Context, conversationID, userID string, minRole models.Role) (bool, error)
}

// PresenceSetter records heartbeats arriving over the presence socket.
type PresenceSetter interface {
	SetPresence(ctx context.Context, userID string, isOnline bool, status models.PresenceStatus) (models.UserPresence, error)
}

// Frame is an inbound client message.
type Frame struct {
	Type     string                `json:"type"`
	IsOnline *bool                 `json:"is_online,omitempty"`
	Status   models.PresenceStatus `json:"status,omitempty"`
}

// socket describes what one upgraded connection streams.
type socket struct {
	kind  string
	topic string
	// afterSeq seeds ordering on message topics when set.
	afterSeq *int64
	filter   func(realtime.Event) bool
	// revoke closes the connection when a conversations event matches.
	revoke func(models.ConversationEvent) bool
	// allowed is re-evaluated once the revoke watch is in place.
	allowed func(context.Context) bool
	onOpen  func(context.Context)
	onFrame func(context.Context, Frame)
}

// Handler upgrades HTTP requests into bus-backed sockets.
type Handler struct {
	hub      *Hub
	bus      Subscriber
	roles    RoleChecker
	seqs     SequenceReader
	presence PresenceSetter
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, bus Subscriber, roles RoleChecker, seqs SequenceReader, presence PresenceSetter, log *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		bus:      bus,
		roles:    roles,
		seqs:     seqs,
		presence: presence,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeConversation streams one conversation's message events to a
// participant until they disconnect or stop being a participant.
func (h *Handler) ServeConversation(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	ctx := c.Request.Context()

	member, err := h.roles.HasRole(ctx, conversationID, userID, models.RoleMember)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}
	seq, err := h.seqs.LastSeq(ctx, conversationID)
	if err != nil {
		h.log.Warn("read message sequence failed", "conversation_id", conversationID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conversation unavailable", "retryable": true})
		return
	}

	h.serve(c, userID, socket{
		kind:     kindConversation,
		topic:    realtime.MessagesTopic(conversationID),
		afterSeq: &seq,
		revoke: func(ev models.ConversationEvent) bool {
			return ev.Type == models.EventParticipantRemoved && ev.ConversationID == conversationID && ev.UserID == userID
		},
		allowed: func(ctx context.Context) bool {
			member, err := h.roles.HasRole(ctx, conversationID, userID, models.RoleMember)
			return err == nil && member
		},
	})
}

// ServePresence streams presence changes and accepts heartbeat frames.
// Connecting marks the caller online; going offline is an explicit heartbeat.
func (h *Handler) ServePresence(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}

	h.serve(c, userID, socket{
		kind:  kindPresence,
		topic: realtime.PresenceTopic,
		onOpen: func(ctx context.Context) {
			if _, err := h.presence.SetPresence(ctx, userID, true, models.StatusOnline); err != nil {
				h.log.Warn("initial presence failed", "user_id", userID, "error", err)
			}
		},
		onFrame: func(ctx context.Context, f Frame) {
			if f.Type != frameHeartbeat {
				return
			}
			online := true
			if f.IsOnline != nil {
				online = *f.IsOnline
			}
			if _, err := h.presence.SetPresence(ctx, userID, online, f.Status); err != nil {
				h.log.Warn("heartbeat rejected", "user_id", userID, "error", err)
			}
		},
	})
}

// ServeInbox streams conversation-list updates addressed to the caller.
func (h *Handler) ServeInbox(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}

	h.serve(c, userID, socket{
		kind:  kindInbox,
		topic: realtime.ConversationsTopic,
		filter: func(ev realtime.Event) bool {
			p, ok := conversationEvent(ev)
			return ok && p.Concerns(userID)
		},
	})
}

func conversationEvent(ev realtime.Event) (models.ConversationEvent, bool) {
	switch p := ev.Payload.(type) {
	case models.ConversationEvent:
		return p, true
	case *models.ConversationEvent:
		if p != nil {
			return *p, true
		}
	}
	return models.ConversationEvent{}, false
}

func (h *Handler) user(c *gin.Context) (string, bool) {
	if u, err := identity.CurrentUser(c.Request.Context()); err == nil {
		return u.ID, true
	}
	if id := c.GetString("userID"); id != "" {
		return id, true
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	return "", false
}

func (h *Handler) serve(c *gin.Context, userID string, sock socket) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "kind", sock.kind, "user_id", userID, "error", err)
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		Kind:        sock.kind,
		Topic:       sock.topic,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)

	handles, err := h.subscribe(client, sock)
	if err != nil {
		h.log.Error("websocket subscribe failed", append(info.logArgs(), "error", err)...)
		client.close()
		return
	}

	h.hub.Add(client)
	observability.IncWSActive(sock.kind)
	observability.IncWSEvent(sock.kind, "ws_connect")
	h.log.Info("websocket connected", info.logArgs()...)

	// the request context ends with the handler; sockets outlive it
	connCtx := context.WithoutCancel(ctx)
	if sock.allowed != nil && !sock.allowed(connCtx) {
		client.revoke("no longer a participant")
	} else if sock.onOpen != nil {
		sock.onOpen(connCtx)
	}

	go client.writePump()
	go func() {
		reason := h.readLoop(connCtx, client, sock.onFrame)
		for _, handle := range handles {
			h.bus.Unsubscribe(handle)
		}
		h.hub.Remove(client)
		client.close()
		observability.DecWSActive(sock.kind)
		observability.IncWSEvent(sock.kind, "ws_disconnect")
		h.log.Info("websocket disconnected", append(info.logArgs(),
			"duration_ms", time.Since(info.ConnectedAt).Milliseconds(), "reason", reason)...)
	}()
}

func (h *Handler) subscribe(client *Client, sock socket) ([]realtime.Handle, error) {
	forward := func(ev realtime.Event) {
		if sock.filter != nil && !sock.filter(ev) {
			return
		}
		if !client.deliver(ev) {
			observability.IncWSEvent(sock.kind, "ws_drop")
		}
	}

	var (
		handle realtime.Handle
		err    error
	)
	if sock.afterSeq != nil {
		handle, err = h.bus.SubscribeFrom(sock.topic, *sock.afterSeq, forward)
	} else {
		handle, err = h.bus.Subscribe(sock.topic, forward)
	}
	if err != nil {
		return nil, err
	}
	if sock.revoke == nil {
		return []realtime.Handle{handle}, nil
	}

	watch, err := h.bus.Subscribe(realtime.ConversationsTopic, func(ev realtime.Event) {
		if p, ok := conversationEvent(ev); ok && sock.revoke(p) {
			observability.IncWSEvent(sock.kind, "ws_revoked")
			h.log.Info("closing socket of removed participant", client.info.logArgs()...)
			client.revoke("no longer a participant")
		}
	})
	if err != nil {
		h.bus.Unsubscribe(handle)
		return nil, err
	}
	return []realtime.Handle{handle, watch}, nil
}

func (h *Handler) readLoop(ctx context.Context, client *Client, onFrame func(context.Context, Frame)) string {
	conn := client.conn
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				observability.IncWSEvent(client.info.Kind, "ws_error")
			}
			return err.Error()
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if onFrame == nil {
			continue
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.log.Debug("ignoring malformed frame", "conn_id", client.info.ConnID, "error", err)
			continue
		}
		onFrame(ctx, f)
	}
}

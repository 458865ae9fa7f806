// Package ws dispatches websocket frames to the conversation store, the
// user registry and the room hub.
package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/auth"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/cache"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/config"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/events"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/hub"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/metrics"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/store"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/users"
)

type Handler struct {
	hub     *hub.Hub
	store   *store.Store
	users   *users.Registry
	auth    *auth.Validator
	cache   *cache.Recent // nil when disabled
	events  *events.Publisher
	metrics *metrics.Metrics
	cfg     *config.Config
	log     *zap.SugaredLogger
}

func NewHandler(h *hub.Hub, st *store.Store, reg *users.Registry, av *auth.Validator,
	rc *cache.Recent, ep *events.Publisher, m *metrics.Metrics, cfg *config.Config, log *zap.SugaredLogger) *Handler {
	return &Handler{hub: h, store: st, users: reg, auth: av, cache: rc, events: ep, metrics: m, cfg: cfg, log: log}
}

// Handle runs one websocket connection to completion. Mounted behind the
// fiber websocket upgrade middleware; the bearer token rides the query
// string because websocket clients cannot set headers portably.
func (h *Handler) Handle(c *websocket.Conn) {
	token := c.Query("token")
	userID, err := h.auth.Validate(token)
	if err != nil {
		h.log.Warnw("rejected connection", "err", err)
		_ = c.Close()
		return
	}

	sess := newSession(c, userID)
	h.hub.Register(sess)
	h.metrics.Connections.Inc()
	h.log.Infow("session connected", "socket_id", sess.SocketID())

	go sess.writePump(h.cfg.PingInterval, h.cfg.WriteDeadline)

	c.SetReadLimit(h.cfg.WS.MaxMessageSizeBytes)
	_ = c.SetReadDeadline(time.Now().Add(h.cfg.ReadDeadline))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(h.cfg.ReadDeadline))
	})

	for {
		mt, raw, err := c.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		frame, err := protocol.Decode(raw)
		if err != nil {
			h.log.Debugw("dropping malformed frame", "err", err)
			continue
		}
		h.dispatch(sess, frame)
	}

	h.hub.Unregister(sess)
	sess.close()
	h.metrics.Connections.Dec()
	h.log.Infow("session disconnected", "socket_id", sess.SocketID())
}

func (h *Handler) dispatch(sess *Session, f *protocol.Frame) {
	switch f.Event {
	case protocol.EventUserUpsert:
		h.handleUserUpsert(sess, f)
	case protocol.EventUserList:
		h.ack(sess, f.Seq, &protocol.UserListAck{OK: true, Users: h.users.List()})
	case protocol.EventConversationJoin:
		h.handleJoin(sess, f, true)
	case protocol.EventConversationLeave:
		h.handleJoin(sess, f, false)
	case protocol.EventMessageSend:
		h.handleSend(sess, f)
	case protocol.EventMessageDelivered:
		h.handleDelivered(sess, f)
	case protocol.EventConversationRead:
		h.handleRead(sess, f)
	case protocol.EventMessageHistory:
		h.handleHistory(sess, f)
	default:
		h.log.Debugw("ignoring unknown event", "event", f.Event)
	}
}

func (h *Handler) handleUserUpsert(sess *Session, f *protocol.Frame) {
	var req protocol.UserUpsertRequest
	if err := json.Unmarshal(f.Data, &req); err != nil {
		h.ack(sess, f.Seq, &protocol.UserAck{Error: "malformed_payload"})
		return
	}
	user, err := h.users.Upsert(req.Name, req.Mobile)
	if err != nil {
		h.metrics.ValidationErrors.Inc()
		h.ack(sess, f.Seq, &protocol.UserAck{Error: err.Error()})
		return
	}
	h.ack(sess, f.Seq, &protocol.UserAck{OK: true, User: user})
	if frame, err := protocol.Encode(protocol.EventUserUpserted, 0, &protocol.UserPush{User: user}); err == nil {
		h.hub.BroadcastAll(frame)
	}
}

func (h *Handler) handleJoin(sess *Session, f *protocol.Frame, join bool) {
	var ref protocol.ConversationRef
	if err := json.Unmarshal(f.Data, &ref); err != nil || ref.ConversationID == "" {
		h.ack(sess, f.Seq, &protocol.OKAck{Error: "conversation_id_required"})
		return
	}
	if join {
		h.hub.Join(ref.ConversationID, sess)
	} else {
		h.hub.Leave(ref.ConversationID, sess)
	}
	h.ack(sess, f.Seq, &protocol.OKAck{OK: true})
}

// handleSend is the hot path: idempotent append, ack to the sender, then
// fan-out. The ack frame is enqueued on the sender's channel before the
// room broadcast so the sender never observes others seeing the message
// ahead of its own confirmation.
func (h *Handler) handleSend(sess *Session, f *protocol.Frame) {
	var req protocol.SendRequest
	if err := json.Unmarshal(f.Data, &req); err != nil {
		h.ack(sess, f.Seq, &protocol.OKAck{Error: "malformed_payload"})
		return
	}

	ack, dup, err := h.store.Ingest(&req)
	if err != nil {
		h.metrics.ValidationErrors.Inc()
		h.ack(sess, f.Seq, &protocol.OKAck{Error: err.Error()})
		return
	}

	h.ack(sess, f.Seq, ack)
	h.push(sess, protocol.EventMessageSent, ack)

	if dup {
		h.metrics.DuplicateSends.Inc()
		return
	}
	h.metrics.MessagesIngested.Inc()

	msg, ok := h.store.Message(req.ConversationID, ack.ServerID)
	if !ok {
		return
	}

	if frame, err := protocol.Encode(protocol.EventMessageNew, 0, &msg); err == nil {
		h.hub.Broadcast(req.ConversationID, frame, sess)
		h.metrics.MessagesBroadcast.Inc()
	}

	ctx := context.Background()
	if err := h.cache.Push(ctx, &msg); err != nil {
		h.log.Warnw("recent cache push failed", "err", err)
	}
	if err := h.events.Publish(ctx, events.MessageNew, req.ConversationID, &msg); err != nil {
		h.log.Warnw("event publish failed", "err", err)
	}

	// Best-effort delivery heuristic: a second session in the room at
	// broadcast time counts as delivery. Not a per-recipient receipt.
	if h.hub.RoomSize(req.ConversationID) > 1 && h.store.MarkDelivered(req.ConversationID, ack.ServerID) {
		h.metrics.StatusUpdates.Inc()
		h.push(sess, protocol.EventMessageStatus, &protocol.StatusPush{
			ID: ack.ServerID, Status: models.StatusDelivered, TempID: ack.TempID,
		})
	}
}

func (h *Handler) handleDelivered(sess *Session, f *protocol.Frame) {
	var req protocol.DeliveredRequest
	if err := json.Unmarshal(f.Data, &req); err != nil || req.ConversationID == "" || req.ID == "" {
		h.ack(sess, f.Seq, &protocol.OKAck{Error: "conversation_id_required"})
		return
	}
	if h.store.MarkDelivered(req.ConversationID, req.ID) {
		h.metrics.StatusUpdates.Inc()
		if frame, err := protocol.Encode(protocol.EventMessageStatus, 0,
			&protocol.StatusPush{ID: req.ID, Status: models.StatusDelivered}); err == nil {
			h.hub.Broadcast(req.ConversationID, frame, nil)
		}
	}
	h.ack(sess, f.Seq, &protocol.OKAck{OK: true})
}

func (h *Handler) handleRead(sess *Session, f *protocol.Frame) {
	var req protocol.ReadRequest
	if err := json.Unmarshal(f.Data, &req); err != nil || req.ConversationID == "" || req.UserID == "" {
		h.ack(sess, f.Seq, &protocol.OKAck{Error: "conversation_id_required"})
		return
	}
	marked := h.store.MarkRead(req.ConversationID, req.UserID)
	for i := range marked {
		m := &marked[i]
		h.metrics.StatusUpdates.Inc()
		if frame, err := protocol.Encode(protocol.EventMessageStatus, 0,
			&protocol.StatusPush{ID: m.ID, Status: models.StatusRead, TempID: m.TempID}); err == nil {
			h.hub.Broadcast(req.ConversationID, frame, nil)
		}
	}
	if len(marked) > 0 {
		if err := h.events.Publish(context.Background(), events.MessageRead, req.ConversationID,
			map[string]any{"reader": req.UserID, "count": len(marked)}); err != nil {
			h.log.Warnw("event publish failed", "err", err)
		}
	}
	h.ack(sess, f.Seq, &protocol.OKAck{OK: true, Count: len(marked)})
}

func (h *Handler) handleHistory(sess *Session, f *protocol.Frame) {
	var req protocol.HistoryRequest
	if err := json.Unmarshal(f.Data, &req); err != nil || req.ConversationID == "" {
		h.ack(sess, f.Seq, &protocol.HistoryResponse{Error: "conversation_id_required"})
		return
	}
	page, hasMore, nextBefore := h.store.Page(req.ConversationID, req.Before, req.Limit)
	h.ack(sess, f.Seq, &protocol.HistoryResponse{
		OK: true, Messages: page, HasMore: hasMore, NextBefore: nextBefore,
	})
}

// ack answers a request frame; fire-and-forget frames (seq 0) get none.
func (h *Handler) ack(sess *Session, seq uint64, payload any) {
	if seq == 0 {
		return
	}
	frame, err := protocol.Encode(protocol.EventAck, seq, payload)
	if err != nil {
		h.log.Errorw("encode ack failed", "err", err)
		return
	}
	if !sess.Enqueue(frame) {
		h.log.Warnw("dropping ack for slow session", "socket_id", sess.SocketID())
	}
}

func (h *Handler) push(sess *Session, event string, payload any) {
	frame, err := protocol.Encode(event, 0, payload)
	if err != nil {
		h.log.Errorw("encode push failed", "event", event, "err", err)
		return
	}
	sess.Enqueue(frame)
}

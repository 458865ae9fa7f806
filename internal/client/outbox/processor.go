// Package outbox owns the outgoing message queue: optimistic local
// writes, acknowledged sends, and the drain that replays everything that
// never reached the server once connectivity returns.
package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/projection"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/session"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/storage"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

const (
	sendTimeout    = 5 * time.Second
	connectTimeout = 7 * time.Second
	drainBatch     = 500
)

// staleSending is how long a row may sit in sending before the drain
// treats its in-flight attempt as lost and replays it.
const staleSending = 2 * sendTimeout

type Processor struct {
	log   *zap.SugaredLogger
	sess  session.Emitter
	store storage.Store
	proj  *projection.Projection
	now   func() time.Time

	mu       sync.Mutex
	draining bool
}

func New(log *zap.SugaredLogger, sess session.Emitter, store storage.Store, proj *projection.Projection) *Processor {
	return &Processor{log: log, sess: sess, store: store, proj: proj, now: time.Now}
}

// Send performs the optimistic write and attempts delivery immediately.
// The row is visible (and durable) before the network is consulted; the
// returned message carries the temp identity until the ack lands.
func (o *Processor) Send(ctx context.Context, conversationID, userID, body, msgType string) (*models.Message, error) {
	if msgType == "" {
		msgType = models.TypeText
	}
	msg := &models.Message{
		ID:             "temp-" + uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Body:           body,
		Type:           msgType,
		Status:         models.StatusSending,
		CreatedAt:      o.now().UnixMilli(),
	}
	// Zero timeout makes this a connectivity probe, not a wait.
	if err := o.sess.EnsureConnected(ctx, 0); err != nil {
		msg.Status = models.StatusQueued
	}

	o.proj.Put(msg)
	if err := o.store.Upsert(msg); err != nil {
		return nil, err
	}
	if msg.Status == models.StatusQueued {
		o.log.Infow("queued offline", "tempId", msg.ID)
		return msg, nil
	}

	o.deliver(ctx, msg)
	return msg, nil
}

// Retry replays one failed row through the normal delivery path.
func (o *Processor) Retry(ctx context.Context, messageID string) error {
	msg, err := o.store.FindByID(messageID)
	if err != nil {
		return err
	}
	if err := o.sess.EnsureConnected(ctx, connectTimeout); err != nil {
		o.markFailed(msg.ID)
		return err
	}
	o.markSending(msg.ID)
	msg.Status = models.StatusSending
	o.deliver(ctx, msg)
	return nil
}

// ProcessPending drains every row that never reached sent, oldest first.
// Single-flight: overlapping triggers (reconnect plus a manual kick)
// collapse into one pass. Rows still marked sending are replayed only
// once their in-flight attempt is stale.
func (o *Processor) ProcessPending(ctx context.Context) {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.draining = false
		o.mu.Unlock()
	}()

	if err := o.sess.EnsureConnected(ctx, connectTimeout); err != nil {
		o.log.Debugw("drain skipped, not connected", "err", err)
		return
	}

	rows, err := storage.PendingOutgoing(o.store, drainBatch)
	if err != nil {
		o.log.Errorw("pending scan failed", "err", err)
		return
	}
	cutoff := o.now().UnixMilli() - staleSending.Milliseconds()
	sent := 0
	for _, msg := range rows {
		if ctx.Err() != nil {
			return
		}
		if msg.Status == models.StatusSending && msg.CreatedAt > cutoff {
			continue // attempt still in flight
		}
		o.markSending(msg.ID)
		msg.Status = models.StatusSending
		if o.deliver(ctx, msg) {
			sent++
		}
	}
	if sent > 0 {
		o.log.Infow("drained outgoing queue", "sent", sent, "scanned", len(rows))
	}
}

// deliver emits one acknowledged send and reconciles the result: on ack
// the temp row is deleted and the server row written in its place, on
// error the row is marked failed and waits for the next drain.
func (o *Processor) deliver(ctx context.Context, msg *models.Message) bool {
	req := protocol.SendRequest{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Body:           msg.Body,
		Type:           msg.Type,
	}
	raw, err := o.sess.EmitWithAck(ctx, protocol.EventMessageSend, req, sendTimeout)
	if err != nil {
		o.log.Warnw("send failed", "tempId", msg.ID, "err", err)
		o.markFailed(msg.ID)
		return false
	}
	var ack protocol.SendAck
	if err := json.Unmarshal(raw, &ack); err != nil || ack.ServerID == "" {
		o.log.Warnw("send rejected", "tempId", msg.ID, "err", err)
		o.markFailed(msg.ID)
		return false
	}

	o.proj.ApplyAck(&ack)
	settled := *msg
	settled.ID = ack.ServerID
	settled.TempID = ""
	settled.CreatedAt = ack.Timestamp
	settled.Status = models.MergeStatus(msg.Status, models.StatusSent)
	if err := o.store.Delete(msg.ID); err != nil {
		o.log.Errorw("drop temp row failed", "tempId", msg.ID, "err", err)
	}
	if err := o.store.Upsert(&settled); err != nil {
		o.log.Errorw("persist settled row failed", "id", settled.ID, "err", err)
	}
	return true
}

func (o *Processor) markSending(id string) {
	o.proj.ApplyStatus(id, models.StatusSending, "")
	if err := o.store.UpdateStatus(id, models.StatusSending); err != nil {
		o.log.Errorw("mark sending failed", "id", id, "err", err)
	}
}

func (o *Processor) markFailed(id string) {
	o.proj.ApplyStatus(id, models.StatusFailed, "")
	if err := o.store.UpdateStatus(id, models.StatusFailed); err != nil {
		o.log.Errorw("record failure failed", "id", id, "err", err)
	}
}

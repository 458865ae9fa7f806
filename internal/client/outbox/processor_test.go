package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/projection"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/session"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/storage"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

// fakeEmitter scripts the server side of acknowledged sends.
type fakeEmitter struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	failNext  int // fail this many acks before succeeding
	sent      []protocol.SendRequest
}

func (f *fakeEmitter) EmitBuffered(event string, payload any) {}

func (f *fakeEmitter) EnsureConnected(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return session.ErrConnectTimeout
	}
	return nil
}

func (f *fakeEmitter) EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, session.ErrNotConnected
	}
	if f.failNext > 0 {
		f.failNext--
		return nil, session.ErrAckTimeout
	}
	req := payload.(protocol.SendRequest)
	f.sent = append(f.sent, req)
	f.nextID++
	ack := protocol.SendAck{
		TempID:    req.ID,
		ServerID:  fmt.Sprintf("srv-%d", f.nextID),
		Timestamp: int64(1000 + f.nextID),
	}
	return json.Marshal(ack)
}

func newProcessor(t *testing.T, em *fakeEmitter) (*Processor, storage.Store, *projection.Projection) {
	t.Helper()
	store := storage.NewMemory()
	proj := projection.New()
	return New(zap.NewNop().Sugar(), em, store, proj), store, proj
}

func TestSendOnlineSettlesToServerRow(t *testing.T) {
	em := &fakeEmitter{connected: true}
	p, store, proj := newProcessor(t, em)

	msg, err := p.Send(context.Background(), "c1", "me", "hi", "")
	require.NoError(t, err)

	// Temp row is gone from both tiers; exactly one settled row remains.
	_, err = store.FindByID(msg.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	rows, err := storage.Latest(store, "c1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "srv-1", rows[0].ID)
	assert.Equal(t, models.StatusSent, rows[0].Status)
	assert.Equal(t, int64(1001), rows[0].CreatedAt, "server timestamp wins")

	got, ok := proj.Get("srv-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusSent, got.Status)
}

func TestSendOfflineQueuesWithoutAttempting(t *testing.T) {
	em := &fakeEmitter{connected: false}
	p, store, _ := newProcessor(t, em)

	msg, err := p.Send(context.Background(), "c1", "me", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, msg.Status)
	assert.Empty(t, em.sent, "no network attempt while offline")

	got, err := store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
}

func TestSendAckTimeoutMarksFailed(t *testing.T) {
	em := &fakeEmitter{connected: true, failNext: 1}
	p, store, proj := newProcessor(t, em)

	msg, err := p.Send(context.Background(), "c1", "me", "hi", "")
	require.NoError(t, err)

	got, err := store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	pm, ok := proj.Get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, pm.Status)
}

func TestProcessPendingDrainsOldestFirst(t *testing.T) {
	em := &fakeEmitter{connected: false}
	p, store, _ := newProcessor(t, em)

	ctx := context.Background()
	first, err := p.Send(ctx, "c1", "me", "one", "")
	require.NoError(t, err)
	second, err := p.Send(ctx, "c1", "me", "two", "")
	require.NoError(t, err)
	require.True(t, first.CreatedAt <= second.CreatedAt)

	em.mu.Lock()
	em.connected = true
	em.mu.Unlock()
	p.ProcessPending(ctx)

	require.Len(t, em.sent, 2)
	assert.Equal(t, "one", em.sent[0].Body)
	assert.Equal(t, "two", em.sent[1].Body)

	rows, err := storage.PendingOutgoing(store, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "queue fully drained")
}

func TestProcessPendingSkipsFreshInFlightRows(t *testing.T) {
	em := &fakeEmitter{connected: true}
	p, store, _ := newProcessor(t, em)

	now := time.Now().UnixMilli()
	fresh := &models.Message{ID: "t-fresh", ConversationID: "c1", UserID: "me", Body: "x",
		Type: models.TypeText, Status: models.StatusSending, CreatedAt: now}
	stale := &models.Message{ID: "t-stale", ConversationID: "c1", UserID: "me", Body: "y",
		Type: models.TypeText, Status: models.StatusSending, CreatedAt: now - staleSending.Milliseconds() - 1}
	require.NoError(t, store.Upsert(fresh))
	require.NoError(t, store.Upsert(stale))

	p.ProcessPending(context.Background())

	require.Len(t, em.sent, 1)
	assert.Equal(t, "t-stale", em.sent[0].ID)
	_, err := store.FindByID("t-fresh")
	assert.NoError(t, err, "fresh in-flight row left alone")
}

func TestProcessPendingFailureKeepsRowForNextPass(t *testing.T) {
	em := &fakeEmitter{connected: false}
	p, store, _ := newProcessor(t, em)

	ctx := context.Background()
	msg, err := p.Send(ctx, "c1", "me", "hi", "")
	require.NoError(t, err)

	em.mu.Lock()
	em.connected = true
	em.failNext = 1
	em.mu.Unlock()
	p.ProcessPending(ctx)

	got, err := store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)

	// The next pass retries and succeeds with the same temp identity.
	p.ProcessPending(ctx)
	_, err = store.FindByID(msg.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.Len(t, em.sent, 1)
	assert.Equal(t, msg.ID, em.sent[0].ID, "retry reuses the temp id")
}

func TestRetryOfflineFails(t *testing.T) {
	em := &fakeEmitter{connected: false}
	p, store, _ := newProcessor(t, em)

	require.NoError(t, store.Upsert(&models.Message{
		ID: "t1", ConversationID: "c1", UserID: "me", Body: "x",
		Type: models.TypeText, Status: models.StatusFailed, CreatedAt: 10,
	}))
	err := p.Retry(context.Background(), "t1")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrConnectTimeout))
}

package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/session"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/storage"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

// fakeSession records emissions and lets tests inject pushes through the
// registered handlers.
type fakeSession struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string][]session.Handler
	buffered  []struct {
		Event   string
		Payload any
	}
	acks map[string]json.RawMessage
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		connected: true,
		handlers:  make(map[string][]session.Handler),
		acks:      make(map[string]json.RawMessage),
	}
}

func (f *fakeSession) Connect(endpoint, token string) {}
func (f *fakeSession) Disconnect()                    {}
func (f *fakeSession) IsConnected() bool              { return f.connected }
func (f *fakeSession) CurrentEndpoint() string        { return "http://test" }

func (f *fakeSession) EmitBuffered(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffered = append(f.buffered, struct {
		Event   string
		Payload any
	}{event, payload})
}

func (f *fakeSession) EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ack, ok := f.acks[event]; ok {
		return ack, nil
	}
	return nil, session.ErrAckTimeout
}

func (f *fakeSession) EnsureConnected(ctx context.Context, timeout time.Duration) error {
	if f.connected {
		return nil
	}
	return session.ErrConnectTimeout
}

func (f *fakeSession) On(event string, h session.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
	return func() {}
}

func (f *fakeSession) OnStateChange(fn func(bool)) func() { return func() {} }

func (f *fakeSession) push(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	hs := append([]session.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(raw)
	}
}

func newClient(t *testing.T) (*Client, *fakeSession, storage.Store) {
	t.Helper()
	sess := newFakeSession()
	store := storage.NewMemory()
	c := New(zap.NewNop().Sugar(), sess, store)
	require.NoError(t, store.SaveSettings(&storage.Settings{
		Endpoint: "http://test", SelfID: "+1", SelfName: "Me", SelfMobile: "+1",
	}))
	require.NoError(t, c.Start())
	return c, sess, store
}

func TestInboundPeerMessageConfirmsDelivery(t *testing.T) {
	c, sess, store := newClient(t)

	sess.push(t, protocol.EventMessageNew, &models.Message{
		ID: "s1", ConversationID: "dm:+1:+2", UserID: "+2",
		Body: "hey", Type: models.TypeText, Status: models.StatusSent, CreatedAt: 100,
	})

	got, err := store.FindByID("s1")
	require.NoError(t, err)
	assert.Equal(t, "hey", got.Body)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.buffered, 1)
	assert.Equal(t, protocol.EventMessageDelivered, sess.buffered[0].Event)
	req := sess.buffered[0].Payload.(protocol.DeliveredRequest)
	assert.Equal(t, "s1", req.ID)

	_ = c
}

func TestOwnEchoDoesNotConfirmDelivery(t *testing.T) {
	_, sess, _ := newClient(t)

	sess.push(t, protocol.EventMessageNew, &models.Message{
		ID: "s1", ConversationID: "dm:+1:+2", UserID: "+1",
		Body: "mine", Type: models.TypeText, Status: models.StatusSent, CreatedAt: 100,
	})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	assert.Empty(t, sess.buffered)
}

func TestSentPushSettlesTempRowInBothTiers(t *testing.T) {
	c, sess, store := newClient(t)

	temp := &models.Message{ID: "temp-1", ConversationID: "c1", UserID: "+1",
		Body: "x", Type: models.TypeText, Status: models.StatusSending, CreatedAt: 90}
	c.Projection.Put(temp)
	require.NoError(t, store.Upsert(temp))

	sess.push(t, protocol.EventMessageSent, &protocol.SendAck{
		TempID: "temp-1", ServerID: "s9", Timestamp: 120,
	})

	_, err := store.FindByID("temp-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	got, err := store.FindByID("s9")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, int64(120), got.CreatedAt)

	pm, ok := c.Projection.Get("s9")
	require.True(t, ok)
	assert.Equal(t, models.StatusSent, pm.Status)
}

func TestStatusPushFallsBackToTempID(t *testing.T) {
	c, sess, store := newClient(t)

	temp := &models.Message{ID: "temp-1", ConversationID: "c1", UserID: "+1",
		Body: "x", Type: models.TypeText, Status: models.StatusSending, CreatedAt: 90}
	c.Projection.Put(temp)
	require.NoError(t, store.Upsert(temp))

	sess.push(t, protocol.EventMessageStatus, &protocol.StatusPush{
		ID: "s9", Status: models.StatusDelivered, TempID: "temp-1",
	})

	got, err := store.FindByID("temp-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
	pm, _ := c.Projection.Get("temp-1")
	assert.Equal(t, models.StatusDelivered, pm.Status)
}

func TestHydrateFillsProjectionFromStore(t *testing.T) {
	c, _, store := newClient(t)

	require.NoError(t, store.Upsert(&models.Message{ID: "a", ConversationID: "c1",
		UserID: "+2", Body: "old", Type: models.TypeText, Status: models.StatusRead, CreatedAt: 10}))
	require.NoError(t, store.Upsert(&models.Message{ID: "b", ConversationID: "c1",
		UserID: "+1", Body: "new", Type: models.TypeText, Status: models.StatusSent, CreatedAt: 20}))

	require.NoError(t, c.Hydrate("c1"))
	msgs := c.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
}

func TestRegisterPersistsIdentity(t *testing.T) {
	c, sess, store := newClient(t)

	ack, _ := json.Marshal(protocol.UserAck{OK: true, User: &models.User{
		ID: "+2", Name: "Other", Mobile: "+2",
	}})
	sess.mu.Lock()
	sess.acks[protocol.EventUserUpsert] = ack
	sess.mu.Unlock()

	u, err := c.Register(context.Background(), "Other", "+2")
	require.NoError(t, err)
	assert.Equal(t, "+2", u.ID)

	s, err := store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "Other", s.SelfName)
	assert.Equal(t, "+2", s.SelfID)
}

func TestUserPushUpdatesDirectory(t *testing.T) {
	c, sess, _ := newClient(t)

	sess.push(t, protocol.EventUserUpserted, &protocol.UserPush{
		User: &models.User{ID: "+3", Name: "Third", Mobile: "+3"},
	})

	users := c.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "Third", users[0].Name)
}

func TestStartWithoutProfile(t *testing.T) {
	sess := newFakeSession()
	c := New(zap.NewNop().Sugar(), sess, storage.NewMemory())
	assert.ErrorIs(t, c.Start(), ErrNoProfile)
}

func TestClearConversationClearsBothTiers(t *testing.T) {
	c, _, store := newClient(t)

	require.NoError(t, store.Upsert(&models.Message{ID: "a", ConversationID: "c1",
		UserID: "+1", Body: "x", Type: models.TypeText, Status: models.StatusSent, CreatedAt: 10}))
	require.NoError(t, c.Hydrate("c1"))

	require.NoError(t, c.ClearConversation("c1"))
	assert.Empty(t, c.Messages("c1"))
	rows, err := storage.Latest(store, "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

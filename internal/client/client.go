// Package client assembles the messaging engine: the connection session,
// the durable store, the in-memory projection, the outgoing queue and the
// history paginator, glued together by the push subscriptions.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/history"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/outbox"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/projection"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/session"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/storage"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

const (
	ackTimeout   = 5 * time.Second
	hydrateLimit = 200
)

var ErrNoProfile = errors.New("client: no local profile saved")

// Session is what the engine needs from the connection layer; satisfied
// by *session.Manager.
type Session interface {
	session.Emitter
	Connect(endpoint, token string)
	Disconnect()
	IsConnected() bool
	CurrentEndpoint() string
	On(event string, h session.Handler) func()
	OnStateChange(fn func(connected bool)) func()
}

type Client struct {
	log   *zap.SugaredLogger
	sess  Session
	store storage.Store

	Projection *projection.Projection
	Outbox     *outbox.Processor
	History    *history.Paginator

	mu       sync.Mutex
	settings storage.Settings
	users    map[string]*models.User
	onChange func()

	unsubs []func()
}

// New builds the engine and installs the push subscriptions. Call Start
// to bring a saved session back up.
func New(log *zap.SugaredLogger, sess Session, store storage.Store) *Client {
	proj := projection.New()
	c := &Client{
		log:        log,
		sess:       sess,
		store:      store,
		Projection: proj,
		Outbox:     outbox.New(log, sess, store, proj),
		History:    history.New(log, sess, store, proj),
		users:      make(map[string]*models.User),
	}
	c.subscribe()
	return c
}

// OnChange registers a single callback fired after any projection
// mutation driven by a push, for the UI to re-render.
func (c *Client) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Client) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Start restores the saved endpoint and identity and connects. Returns
// ErrNoProfile when nothing was ever saved; the caller then runs the
// first-time setup flow.
func (c *Client) Start() error {
	s, err := c.store.LoadSettings()
	if err != nil {
		return err
	}
	if s == nil || s.Endpoint == "" {
		return ErrNoProfile
	}
	c.mu.Lock()
	c.settings = *s
	c.mu.Unlock()
	c.sess.Connect(s.Endpoint, c.token())
	return nil
}

// token is the bearer presented on upgrade. Before registration there is
// no identity yet; presence-only servers accept any non-empty value.
func (c *Client) token() string {
	if id := c.Self().SelfID; id != "" {
		return id
	}
	return "guest"
}

// SetEndpoint persists the server endpoint and (re)connects to it.
func (c *Client) SetEndpoint(endpoint string) error {
	endpoint = protocol.NormalizeEndpoint(endpoint)
	c.mu.Lock()
	c.settings.Endpoint = endpoint
	c.settings.UpdatedAt = time.Now().UnixMilli()
	s := c.settings
	c.mu.Unlock()
	if err := c.store.SaveSettings(&s); err != nil {
		return err
	}
	c.sess.Connect(endpoint, c.token())
	return nil
}

// Register upserts the local identity on the server and persists it.
func (c *Client) Register(ctx context.Context, name, mobile string) (*models.User, error) {
	raw, err := c.sess.EmitWithAck(ctx, protocol.EventUserUpsert,
		protocol.UserUpsertRequest{Name: name, Mobile: mobile}, ackTimeout)
	if err != nil {
		return nil, err
	}
	var ack protocol.UserAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, err
	}
	if !ack.OK || ack.User == nil {
		return nil, errors.New("client: register rejected: " + ack.Error)
	}

	c.mu.Lock()
	c.settings.SelfID = ack.User.ID
	c.settings.SelfName = ack.User.Name
	c.settings.SelfMobile = ack.User.Mobile
	c.settings.UpdatedAt = time.Now().UnixMilli()
	s := c.settings
	c.users[ack.User.ID] = ack.User
	c.mu.Unlock()

	if err := c.store.SaveSettings(&s); err != nil {
		return nil, err
	}
	// Same endpoint, so this only refreshes the credentials the next
	// reconnect will present.
	if s.Endpoint != "" {
		c.sess.Connect(s.Endpoint, c.token())
	}
	return ack.User, nil
}

// ListUsers fetches the server directory and refreshes the local cache.
func (c *Client) ListUsers(ctx context.Context) ([]*models.User, error) {
	raw, err := c.sess.EmitWithAck(ctx, protocol.EventUserList, struct{}{}, ackTimeout)
	if err != nil {
		return nil, err
	}
	var ack protocol.UserListAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, err
	}
	c.mu.Lock()
	for _, u := range ack.Users {
		c.users[u.ID] = u
	}
	c.mu.Unlock()
	return ack.Users, nil
}

// Users returns the cached directory, whatever pushes and list calls have
// accumulated.
func (c *Client) Users() []*models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.User, 0, len(c.users))
	for _, u := range c.users {
		cp := *u
		out = append(out, &cp)
	}
	return out
}

func (c *Client) Self() storage.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// ConversationWith derives the direct conversation id between the local
// identity and a peer.
func (c *Client) ConversationWith(peerID string) string {
	return models.DirectConversationID(c.Self().SelfID, peerID)
}

// JoinConversation subscribes this socket to room broadcasts. Buffered:
// issued before connect it rides the post-connect flush, so rejoin after
// reconnect needs no special casing by the caller.
func (c *Client) JoinConversation(conversationID string) {
	c.sess.EmitBuffered(protocol.EventConversationJoin, protocol.ConversationRef{ConversationID: conversationID})
}

func (c *Client) LeaveConversation(conversationID string) {
	c.sess.EmitBuffered(protocol.EventConversationLeave, protocol.ConversationRef{ConversationID: conversationID})
}

// SendMessage queues one outgoing text message from the local identity.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (*models.Message, error) {
	self := c.Self().SelfID
	if self == "" {
		return nil, ErrNoProfile
	}
	msg, err := c.Outbox.Send(ctx, conversationID, self, body, models.TypeText)
	if err == nil {
		c.notify()
	}
	return msg, err
}

func (c *Client) RetryMessage(ctx context.Context, messageID string) error {
	err := c.Outbox.Retry(ctx, messageID)
	c.notify()
	return err
}

// MarkConversationRead tells the server the local user has read the
// conversation; resulting status pushes update peers and this client.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) (int, error) {
	self := c.Self().SelfID
	if self == "" {
		return 0, ErrNoProfile
	}
	raw, err := c.sess.EmitWithAck(ctx, protocol.EventConversationRead,
		protocol.ReadRequest{ConversationID: conversationID, UserID: self}, ackTimeout)
	if err != nil {
		return 0, err
	}
	var ack protocol.OKAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return 0, err
	}
	return ack.Count, nil
}

// Hydrate fills the projection from the durable store so the
// conversation renders before (and without) the network.
func (c *Client) Hydrate(conversationID string) error {
	rows, err := storage.Latest(c.store, conversationID, hydrateLimit)
	if err != nil {
		return err
	}
	c.Projection.ReceiveMany(rows)
	return nil
}

func (c *Client) Messages(conversationID string) []*models.Message {
	return c.Projection.Messages(conversationID)
}

// ServiceWindowOpen reports whether outbound composition is allowed in
// the conversation right now.
func (c *Client) ServiceWindowOpen(conversationID string) bool {
	return projection.ServiceWindowActive(c.Messages(conversationID), c.Self().SelfID, time.Now())
}

func (c *Client) ClearConversation(conversationID string) error {
	c.Projection.ClearConversation(conversationID)
	return storage.ClearConversation(c.store, conversationID)
}

func (c *Client) ClearAll() error {
	c.Projection.ClearAll()
	return storage.ClearAll(c.store)
}

func (c *Client) IsConnected() bool { return c.sess.IsConnected() }

// Close stops the subscriptions and the connection. The store is owned
// by the caller and closed separately.
func (c *Client) Close() {
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
	c.sess.Disconnect()
}

func (c *Client) subscribe() {
	c.unsubs = append(c.unsubs,
		c.sess.On(protocol.EventMessageNew, c.onMessageNew),
		c.sess.On(protocol.EventMessageSent, c.onMessageSent),
		c.sess.On(protocol.EventMessageStatus, c.onMessageStatus),
		c.sess.On(protocol.EventUserUpserted, c.onUserUpserted),
		c.sess.OnStateChange(func(connected bool) {
			if connected {
				go c.Outbox.ProcessPending(context.Background())
			}
		}),
	)
}

// onMessageNew lands a room broadcast: merge into both tiers, and when
// the author is a peer confirm delivery back to the server.
func (c *Client) onMessageNew(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debugw("dropping malformed message:new", "err", err)
		return
	}
	c.Projection.Receive(&msg)
	c.persistPush(&msg)

	if self := c.Self().SelfID; self != "" && msg.UserID != self {
		c.sess.EmitBuffered(protocol.EventMessageDelivered,
			protocol.DeliveredRequest{ConversationID: msg.ConversationID, ID: msg.ID})
	}
	c.notify()
}

// onMessageSent settles an optimistic row from the sender-only push, the
// same reconciliation the outbox does on a direct ack. Covers sends whose
// ack timed out client-side but landed server-side.
func (c *Client) onMessageSent(data json.RawMessage) {
	var ack protocol.SendAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return
	}
	c.Projection.ApplyAck(&ack)

	if temp, err := c.store.FindByID(ack.TempID); err == nil {
		settled := *temp
		settled.ID = ack.ServerID
		settled.TempID = ""
		settled.CreatedAt = ack.Timestamp
		settled.Status = models.MergeStatus(temp.Status, models.StatusSent)
		if err := c.store.Delete(temp.ID); err != nil {
			c.log.Errorw("drop temp row failed", "tempId", temp.ID, "err", err)
		}
		if err := c.store.Upsert(&settled); err != nil {
			c.log.Errorw("persist settled row failed", "id", settled.ID, "err", err)
		}
	}
	c.notify()
}

func (c *Client) onMessageStatus(data json.RawMessage) {
	var push protocol.StatusPush
	if err := json.Unmarshal(data, &push); err != nil {
		return
	}
	c.Projection.ApplyStatus(push.ID, push.Status, push.TempID)

	err := c.store.UpdateStatus(push.ID, push.Status)
	if errors.Is(err, storage.ErrNotFound) && push.TempID != "" {
		err = c.store.UpdateStatus(push.TempID, push.Status)
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.log.Errorw("status update failed", "id", push.ID, "err", err)
	}
	c.notify()
}

func (c *Client) onUserUpserted(data json.RawMessage) {
	var push protocol.UserPush
	if err := json.Unmarshal(data, &push); err != nil || push.User == nil {
		return
	}
	c.mu.Lock()
	c.users[push.User.ID] = push.User
	c.mu.Unlock()
	c.notify()
}

// persistPush writes a pushed message durably, folding in any stored
// status and dropping a matching optimistic row first.
func (c *Client) persistPush(msg *models.Message) {
	if msg.TempID != "" && msg.TempID != msg.ID {
		if err := c.store.Delete(msg.TempID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.log.Errorw("drop temp row failed", "tempId", msg.TempID, "err", err)
		}
	}
	cp := *msg
	cp.TempID = ""
	if existing, err := c.store.FindByID(cp.ID); err == nil {
		cp.Status = models.MergeStatus(existing.Status, cp.Status)
	}
	if err := c.store.Upsert(&cp); err != nil {
		c.log.Errorw("persist pushed message failed", "id", cp.ID, "err", err)
	}
}

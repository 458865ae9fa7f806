// Package session owns the client's single logical connection to the
// server: dialing, automatic reconnection with jittered backoff, buffered
// and acknowledged emission, and fan-out of inbound pushes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

var (
	ErrNotInitialized = errors.New("session: connect never called")
	ErrNotConnected   = errors.New("session: not connected")
	ErrConnectTimeout = errors.New("session: connect timed out")
	ErrAckTimeout     = errors.New("session: ack timed out")
)

const (
	reconnectBase = time.Second
	reconnectCap  = 5 * time.Second
	wsPath        = "/v1/ws"
)

// Handler receives the raw payload of one inbound push.
type Handler func(data json.RawMessage)

// Emitter is the narrow surface the outbox and paginator depend on.
type Emitter interface {
	EmitBuffered(event string, payload any)
	EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration) (json.RawMessage, error)
	EnsureConnected(ctx context.Context, timeout time.Duration) error
}

// Manager is the connection session manager. Construct one per process
// and hand it by reference to every consumer; it owns the endpoint URL,
// the auth token and the socket identity exclusively.
type Manager struct {
	log *zap.SugaredLogger

	mu            sync.Mutex
	endpoint      string
	token         string
	initialized   bool
	connected     bool
	conn          *websocket.Conn
	connectedCh   chan struct{} // closed while connected
	triedLoopback bool
	gen           int
	cancel        context.CancelFunc

	writeMu  sync.Mutex
	buffered [][]byte // frames submitted before the transport was ready

	seq     uint64
	pending map[uint64]chan json.RawMessage

	subSeq    int
	subs      map[string]map[int]Handler
	stateSubs map[int]func(connected bool)
}

func NewManager(log *zap.SugaredLogger) *Manager {
	return &Manager{
		log:         log,
		connectedCh: make(chan struct{}),
		pending:     make(map[uint64]chan json.RawMessage),
		subs:        make(map[string]map[int]Handler),
		stateSubs:   make(map[int]func(bool)),
	}
}

// Connect is idempotent for an unchanged endpoint: it refreshes the
// credentials and lets the reconnect loop pick things up. A different
// endpoint tears the current connection down first. There is never more
// than one live connection.
func (m *Manager) Connect(endpoint, token string) {
	endpoint = protocol.NormalizeEndpoint(endpoint)

	m.mu.Lock()
	if m.initialized && m.endpoint == endpoint {
		m.token = token
		m.mu.Unlock()
		return
	}
	if m.initialized {
		m.teardownLocked()
	}
	m.endpoint = endpoint
	m.token = token
	m.initialized = true
	m.triedLoopback = false
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.log.Infow("connecting", "endpoint", endpoint)
	go m.run(ctx, gen)
}

// Disconnect tears down the connection and forgets the endpoint; a later
// Connect starts from scratch.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.initialized = false
	m.endpoint = ""
	m.token = ""
}

func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.setConnectedLocked(false)
}

func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Manager) CurrentEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// run dials and re-dials until cancelled. Backoff starts at one second,
// doubles to a five second cap and carries +-50% jitter so a fleet of
// clients does not reconnect in lockstep.
func (m *Manager) run(ctx context.Context, gen int) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		target, token := m.endpoint, m.token
		m.mu.Unlock()

		conn, err := dial(ctx, target, token)
		if err != nil {
			m.log.Warnw("dial failed", "endpoint", target, "attempt", attempt, "err", err)

			// One shot per Connect: a constrained client that cannot reach a
			// remote host may still reach it through a local port forward.
			m.mu.Lock()
			if m.gen == gen && !m.triedLoopback {
				if alt, ok := loopbackVariant(m.endpoint); ok {
					m.triedLoopback = true
					m.endpoint = alt
					m.log.Warnw("retrying via loopback", "endpoint", alt)
				} else {
					m.triedLoopback = true
				}
			}
			m.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffDelay(attempt)):
			}
			attempt++
			continue
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.conn = conn
		m.setConnectedLocked(true)
		flush := m.buffered
		m.buffered = nil
		m.mu.Unlock()

		m.log.Infow("connected", "endpoint", target)
		attempt = 0
		for _, frame := range flush {
			if err := m.write(frame); err != nil {
				break
			}
		}

		m.readLoop(conn, gen)

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.conn = nil
		m.setConnectedLocked(false)
		m.failPendingLocked()
		m.mu.Unlock()
		m.log.Warnw("disconnected", "endpoint", target)
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return
		}
		frame, err := protocol.Decode(raw)
		if err != nil {
			m.log.Debugw("dropping malformed frame", "err", err)
			continue
		}
		m.handleFrame(frame)
	}
}

// handleFrame routes an ack to its waiter and anything else to the event
// subscribers.
func (m *Manager) handleFrame(f *protocol.Frame) {
	if f.Event == protocol.EventAck && f.Seq > 0 {
		m.mu.Lock()
		ch, ok := m.pending[f.Seq]
		delete(m.pending, f.Seq)
		m.mu.Unlock()
		if ok {
			ch <- f.Data
		}
		return
	}

	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.subs[f.Event]))
	for _, h := range m.subs[f.Event] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(f.Data)
	}
}

// EnsureConnected blocks until the session is connected, ErrConnectTimeout
// after timeout, or ErrNotInitialized when Connect was never called.
func (m *Manager) EnsureConnected(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	ch := m.connectedCh
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitBuffered submits without waiting for transport readiness: when not
// yet connected the frame is queued and flushed, in order, on the next
// connect. Dropped (logged) only if Connect was never called.
func (m *Manager) EmitBuffered(event string, payload any) {
	frame, err := protocol.Encode(event, 0, payload)
	if err != nil {
		m.log.Errorw("encode failed", "event", event, "err", err)
		return
	}

	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		m.log.Warnw("emit dropped, session never initialized", "event", event)
		return
	}
	if !m.connected {
		m.buffered = append(m.buffered, frame)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.write(frame); err != nil {
		m.log.Warnw("buffered emit failed", "event", event, "err", err)
	}
}

// EmitWithAck requires an established connection and resolves with the
// server's acknowledgment payload. The timeout is an explicit timer raced
// against the ack; it abandons the wait, not the server-side operation.
func (m *Manager) EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration) (json.RawMessage, error) {
	m.mu.Lock()
	if !m.initialized || !m.connected {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	m.seq++
	seq := m.seq
	ch := make(chan json.RawMessage, 1)
	m.pending[seq] = ch
	m.mu.Unlock()

	frame, err := protocol.Encode(event, seq, payload)
	if err != nil {
		m.dropPending(seq)
		return nil, err
	}
	if err := m.write(frame); err != nil {
		m.dropPending(seq)
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		return data, nil
	case <-timer.C:
		m.dropPending(seq)
		return nil, ErrAckTimeout
	case <-ctx.Done():
		m.dropPending(seq)
		return nil, ctx.Err()
	}
}

// On subscribes to an inbound event. Subscribers are independent;
// unsubscribing one never disturbs the others.
func (m *Manager) On(event string, h Handler) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSeq++
	id := m.subSeq
	if m.subs[event] == nil {
		m.subs[event] = make(map[int]Handler)
	}
	m.subs[event][id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[event], id)
	}
}

// OnStateChange notifies on every connect/disconnect transition; the
// outbox treats a transition to connected as its "online" trigger.
func (m *Manager) OnStateChange(fn func(connected bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSeq++
	id := m.subSeq
	m.stateSubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.stateSubs, id)
	}
}

func (m *Manager) setConnectedLocked(connected bool) {
	if m.connected == connected {
		return
	}
	m.connected = connected
	if connected {
		close(m.connectedCh)
	} else {
		m.connectedCh = make(chan struct{})
	}
	subs := make([]func(bool), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		subs = append(subs, fn)
	}
	go func() {
		for _, fn := range subs {
			fn(connected)
		}
	}()
}

func (m *Manager) failPendingLocked() {
	for seq, ch := range m.pending {
		close(ch)
		delete(m.pending, seq)
	}
}

func (m *Manager) dropPending(seq uint64) {
	m.mu.Lock()
	delete(m.pending, seq)
	m.mu.Unlock()
}

// write serializes frame writes; gorilla connections allow one writer.
func (m *Manager) write(frame []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func dial(ctx context.Context, endpoint, token string) (*websocket.Conn, error) {
	target, err := wsURL(endpoint, token)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// wsURL maps the stored http endpoint onto the websocket route.
func wsURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + wsPath
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// loopbackVariant maps the endpoint's host to 127.0.0.1, keeping port and
// scheme. Returns false when the host already is a loopback address.
func loopbackVariant(endpoint string) (string, bool) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false
	}
	host := u.Hostname()
	if host == "" || host == "127.0.0.1" || host == "localhost" || host == "::1" {
		return "", false
	}
	if port := u.Port(); port != "" {
		u.Host = "127.0.0.1:" + port
	} else {
		u.Host = "127.0.0.1"
	}
	return u.String(), true
}

// backoffDelay is min(1s << attempt, 5s) with +-50% jitter.
func backoffDelay(attempt int) time.Duration {
	d := reconnectBase
	for i := 0; i < attempt && d < reconnectCap; i++ {
		d *= 2
	}
	if d > reconnectCap {
		d = reconnectCap
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d)))
}

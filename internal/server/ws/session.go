package ws

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Session is one connected websocket. Outbound frames go through a
// buffered channel drained by a single writer goroutine, so handler code
// never writes to the connection directly.
type Session struct {
	conn   *websocket.Conn
	id     string
	userID string

	send      chan []byte
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, userID string) *Session {
	return &Session{
		conn:   conn,
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

func (s *Session) SocketID() string { return s.id }

// Enqueue hands a frame to the writer goroutine. It reports false when the
// session's buffer is full; the frame is dropped rather than blocking the
// broadcasting goroutine.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

// writePump owns all writes: queued frames plus the keepalive ping.
func (s *Session) writePump(pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

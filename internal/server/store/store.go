// Package store holds the authoritative per-conversation message log. It
// is in-memory by design: the log resets on restart, clients rehydrate
// from their own durable copies.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

const (
	// DefaultCapacity bounds each conversation's log; the oldest rows and
	// their idempotency index entries are evicted together.
	DefaultCapacity = 10000

	// readMarkCap bounds how many rows a single conversation:read may flip,
	// to keep the resulting status broadcast burst bounded.
	readMarkCap = 200

	defaultPageLimit = 50
	maxPageLimit     = 200
)

type conversation struct {
	mu       sync.Mutex
	messages []*models.Message // append order, createdAt strictly increasing
	byTempID map[string]*models.Message
	lastTS   int64
}

// Store keys conversations by id. All mutation of one conversation's log,
// its tempId index and its status fields happens under that conversation's
// lock; cross-conversation operations share nothing.
type Store struct {
	mu       sync.RWMutex
	convs    map[string]*conversation
	capacity int
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{convs: make(map[string]*conversation), capacity: capacity}
}

func (s *Store) conv(id string) *conversation {
	s.mu.RLock()
	c, ok := s.convs[id]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.convs[id]; ok {
		return c
	}
	c = &conversation{byTempID: make(map[string]*models.Message)}
	s.convs[id] = c
	return c
}

// Conversations returns the number of conversations with at least one row.
func (s *Store) Conversations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Ingest validates and appends one message. A tempId already indexed for
// the conversation returns the previously assigned identity unchanged, so
// a client resending after a missed ack never creates a duplicate. The
// second return value reports whether the send was such a retry.
func (s *Store) Ingest(req *protocol.SendRequest) (*protocol.SendAck, bool, error) {
	if req.ConversationID == "" {
		return nil, false, &protocol.ValidationError{Field: "conversation_id"}
	}
	if req.UserID == "" {
		return nil, false, &protocol.ValidationError{Field: "user_id"}
	}
	if req.ID == "" {
		return nil, false, &protocol.ValidationError{Field: "temp_id"}
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, false, &protocol.ValidationError{Field: "body"}
	}
	msgType := req.Type
	if msgType == "" {
		msgType = models.TypeText
	}

	c := s.conv(req.ConversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byTempID[req.ID]; ok {
		return &protocol.SendAck{TempID: req.ID, ServerID: existing.ID, Timestamp: existing.CreatedAt}, true, nil
	}

	// Strictly increasing per conversation so page boundaries never split a
	// timestamp tie.
	now := time.Now().UnixMilli()
	if now <= c.lastTS {
		now = c.lastTS + 1
	}
	c.lastTS = now
	serverID := fmt.Sprintf("%d-%s", now, strings.SplitN(uuid.NewString(), "-", 2)[0])

	msg := &models.Message{
		ID:             serverID,
		TempID:         req.ID,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Body:           req.Body,
		Type:           msgType,
		Status:         models.StatusSent,
		CreatedAt:      now,
	}
	c.messages = append(c.messages, msg)
	c.byTempID[req.ID] = msg

	if overflow := len(c.messages) - s.capacity; overflow > 0 {
		for _, evicted := range c.messages[:overflow] {
			if evicted.TempID != "" {
				delete(c.byTempID, evicted.TempID)
			}
		}
		c.messages = append([]*models.Message(nil), c.messages[overflow:]...)
	}

	return &protocol.SendAck{TempID: req.ID, ServerID: serverID, Timestamp: now}, false, nil
}

// Message returns a copy of one row, if present.
func (s *Store) Message(conversationID, id string) (models.Message, bool) {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m.ID == id {
			return *m, true
		}
	}
	return models.Message{}, false
}

// MarkDelivered advances one row to delivered. It reports whether the row
// actually changed; read is never regressed.
func (s *Store) MarkDelivered(conversationID, messageID string) bool {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m.ID != messageID {
			continue
		}
		next := models.MergeStatus(m.Status, models.StatusDelivered)
		if next == m.Status {
			return false
		}
		m.Status = next
		return true
	}
	return false
}

// MarkRead flips the most recent unread rows not authored by readerId to
// read, bounded to readMarkCap rows, and returns copies of the rows it
// changed so the caller can broadcast them.
func (s *Store) MarkRead(conversationID, readerID string) []models.Message {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	var candidates []*models.Message
	for _, m := range c.messages {
		if m.UserID != readerID && m.Status != models.StatusRead {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) > readMarkCap {
		candidates = candidates[len(candidates)-readMarkCap:]
	}

	marked := make([]models.Message, 0, len(candidates))
	for _, m := range candidates {
		m.Status = models.StatusRead
		marked = append(marked, *m)
	}
	return marked
}

// Page returns rows with createdAt < before (before <= 0 means newest
// page), ordered oldest->newest, at most limit rows. hasMore reports
// whether older rows remain; nextBefore is the createdAt of the oldest row
// returned, nil for an empty page.
func (s *Store) Page(conversationID string, before int64, limit int) (page []*models.Message, hasMore bool, nextBefore *int64) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	var older []*models.Message
	for _, m := range c.messages {
		if before <= 0 || m.CreatedAt < before {
			cp := *m
			older = append(older, &cp)
		}
	}
	models.SortMessages(older)

	hasMore = len(older) > limit
	if hasMore {
		older = older[len(older)-limit:]
	}
	if len(older) > 0 {
		nb := older[0].CreatedAt
		nextBefore = &nb
	}
	return older, hasMore, nextBefore
}

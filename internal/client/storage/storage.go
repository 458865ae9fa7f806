// Package storage is the client's durable message store behind a narrow
// contract: find by id, predicate query with sort and limit, upsert,
// status update, delete. The engine behind it is interchangeable; the
// rest of the client never sees storage internals.
package storage

import (
	"errors"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
)

var ErrNotFound = errors.New("storage: record not found")

// Query is the predicate for message lookups. Zero values mean "no
// filter"; results are sorted by createdAt (ties by id).
type Query struct {
	ConversationID string
	Statuses       []models.Status
	Before         int64 // createdAt < Before when > 0
	Descending     bool
	Limit          int
}

// Settings is the singleton row: chosen server endpoint plus the local
// identity.
type Settings struct {
	Endpoint   string `json:"endpoint"`
	SelfID     string `json:"selfId"`
	SelfName   string `json:"selfName"`
	SelfMobile string `json:"selfMobile"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// Store is the durable store contract. Status writes go through the merge
// rule inside the implementation, so callers cannot accidentally regress
// a row.
type Store interface {
	FindByID(id string) (*models.Message, error)
	Find(q Query) ([]*models.Message, error)
	Upsert(m *models.Message) error
	UpdateStatus(id string, incoming models.Status) error
	Delete(id string) error
	LoadSettings() (*Settings, error) // (nil, nil) when absent
	SaveSettings(s *Settings) error
	Close() error
}

// Latest returns the newest rows of a conversation, oldest->newest for
// stable insertion into the projection.
func Latest(s Store, conversationID string, limit int) ([]*models.Message, error) {
	rows, err := s.Find(Query{ConversationID: conversationID, Descending: true, Limit: limit})
	if err != nil {
		return nil, err
	}
	reverse(rows)
	return rows, nil
}

// OlderThan returns rows older than before, oldest->newest.
func OlderThan(s Store, conversationID string, before int64, limit int) ([]*models.Message, error) {
	rows, err := s.Find(Query{ConversationID: conversationID, Before: before, Descending: true, Limit: limit})
	if err != nil {
		return nil, err
	}
	reverse(rows)
	return rows, nil
}

// PendingOutgoing returns rows that never reached sent, oldest first, the
// outgoing queue processor's scan.
func PendingOutgoing(s Store, limit int) ([]*models.Message, error) {
	return s.Find(Query{
		Statuses: []models.Status{models.StatusQueued, models.StatusFailed, models.StatusSending},
		Limit:    limit,
	})
}

// ClearConversation deletes every row of one conversation.
func ClearConversation(s Store, conversationID string) error {
	rows, err := s.Find(Query{ConversationID: conversationID})
	if err != nil {
		return err
	}
	for _, m := range rows {
		if err := s.Delete(m.ID); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll deletes every message row, keeping settings.
func ClearAll(s Store) error {
	rows, err := s.Find(Query{})
	if err != nil {
		return err
	}
	for _, m := range rows {
		if err := s.Delete(m.ID); err != nil {
			return err
		}
	}
	return nil
}

func reverse(rows []*models.Message) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func matches(m *models.Message, q Query) bool {
	if q.ConversationID != "" && m.ConversationID != q.ConversationID {
		return false
	}
	if q.Before > 0 && m.CreatedAt >= q.Before {
		return false
	}
	if len(q.Statuses) > 0 {
		ok := false
		for _, st := range q.Statuses {
			if m.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

package models

import (
	"sort"
	"strings"
)

// Message type values. Media transfer is out of scope; "image" rows only
// carry a reference in the body.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// Message is one chat message. Before the server accepts it, ID holds the
// client-generated temp id; after reconciliation ID is server-assigned and
// TempID carries the original temp id so both ends can de-duplicate.
type Message struct {
	ID             string `json:"id"`
	TempID         string `json:"tempId,omitempty"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Body           string `json:"body"`
	Type           string `json:"type"`
	Status         Status `json:"status"`
	CreatedAt      int64  `json:"createdAt"` // epoch millis
}

// Less orders messages oldest-first by CreatedAt, ties broken by ID so the
// order is deterministic across client and server.
func (m *Message) Less(other *Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}

// SortMessages sorts in place, oldest first.
func SortMessages(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Less(msgs[j]) })
}

// DirectConversationID derives the conversation id for a 1:1 chat by
// sorting the two participant ids, so both peers compute the same id
// without a directory lookup.
func DirectConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return "dm:" + strings.Join(ids, ":")
}

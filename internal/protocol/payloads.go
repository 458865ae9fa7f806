package protocol

import "github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"

// SendRequest is the message:send payload. ID carries the client temp id
// used as the idempotency key.
type SendRequest struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Body           string `json:"body"`
	Type           string `json:"type"`
}

// SendAck acknowledges message:send and rides the message:sent push.
type SendAck struct {
	TempID    string `json:"tempId"`
	ServerID  string `json:"serverId"`
	Timestamp int64  `json:"timestamp"`
}

// StatusPush is the message:status payload. TempID is set when the row may
// still live under its optimistic id on the receiving client.
type StatusPush struct {
	ID     string        `json:"id"`
	Status models.Status `json:"status"`
	TempID string        `json:"tempId,omitempty"`
}

type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// DeliveredRequest confirms receipt of one message (message:delivered).
type DeliveredRequest struct {
	ConversationID string `json:"conversationId"`
	ID             string `json:"id"`
}

// ReadRequest marks recent peer messages read (conversation:read).
type ReadRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// HistoryRequest pages older messages. Before == 0 means most recent page.
type HistoryRequest struct {
	ConversationID string `json:"conversationId"`
	Before         int64  `json:"before,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// HistoryResponse returns one page oldest->newest. NextBefore is the
// createdAt of the oldest item, or nil for an empty page.
type HistoryResponse struct {
	OK         bool              `json:"ok"`
	Messages   []*models.Message `json:"messages"`
	HasMore    bool              `json:"hasMore"`
	NextBefore *int64            `json:"nextBefore"`
	Error      string            `json:"error,omitempty"`
}

type UserUpsertRequest struct {
	Name   string `json:"name"`
	Mobile string `json:"mobile"`
}

type UserAck struct {
	OK    bool         `json:"ok"`
	User  *models.User `json:"user,omitempty"`
	Error string       `json:"error,omitempty"`
}

type UserListAck struct {
	OK    bool           `json:"ok"`
	Users []*models.User `json:"users"`
}

type UserPush struct {
	User *models.User `json:"user"`
}

// OKAck is the generic boolean acknowledgment; Count is set by
// conversation:read with the number of rows marked.
type OKAck struct {
	OK    bool   `json:"ok"`
	Count int    `json:"count,omitempty"`
	Error string `json:"error,omitempty"`
}

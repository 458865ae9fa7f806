package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

func sendReq(tempID, body string) *protocol.SendRequest {
	return &protocol.SendRequest{
		ID:             tempID,
		ConversationID: "dm:a:b",
		UserID:         "a",
		Body:           body,
		Type:           models.TypeText,
	}
}

func TestIngestAssignsServerIdentity(t *testing.T) {
	s := New(0)
	ack, dup, err := s.Ingest(sendReq("t1", "hi"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, "t1", ack.TempID)
	assert.NotEmpty(t, ack.ServerID)
	assert.NotZero(t, ack.Timestamp)

	msg, ok := s.Message("dm:a:b", ack.ServerID)
	require.True(t, ok)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, "hi", msg.Body)
}

func TestIngestIsIdempotentPerTempID(t *testing.T) {
	s := New(0)
	first, dup, err := s.Ingest(sendReq("t1", "hi"))
	require.NoError(t, err)
	require.False(t, dup)

	// Retry after a missed ack, even with a diverged body, resolves to the
	// same identity and stores exactly one row.
	second, dup, err := s.Ingest(sendReq("t1", "hi (edited)"))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ServerID, second.ServerID)
	assert.Equal(t, first.Timestamp, second.Timestamp)

	page, hasMore, _ := s.Page("dm:a:b", 0, 50)
	assert.False(t, hasMore)
	require.Len(t, page, 1)
	assert.Equal(t, "hi", page[0].Body)
}

func TestIngestValidation(t *testing.T) {
	s := New(0)
	cases := []struct {
		name  string
		req   *protocol.SendRequest
		field string
	}{
		{"missing conversation", &protocol.SendRequest{ID: "t", UserID: "a", Body: "x"}, "conversation_id"},
		{"missing user", &protocol.SendRequest{ID: "t", ConversationID: "c", Body: "x"}, "user_id"},
		{"missing temp id", &protocol.SendRequest{ConversationID: "c", UserID: "a", Body: "x"}, "temp_id"},
		{"blank body", sendReq("t", "   "), "body"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := s.Ingest(c.req)
			require.Error(t, err)
			assert.True(t, protocol.IsValidation(err))
			assert.Equal(t, c.field+"_required", err.Error())
		})
	}
}

func TestBoundedRetentionDropsIndexWithRows(t *testing.T) {
	s := New(5)
	var firstAck *protocol.SendAck
	for i := 0; i < 8; i++ {
		ack, _, err := s.Ingest(sendReq(fmt.Sprintf("t%d", i), fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
		if i == 0 {
			firstAck = ack
		}
	}

	page, hasMore, _ := s.Page("dm:a:b", 0, 200)
	assert.False(t, hasMore)
	require.Len(t, page, 5)
	assert.Equal(t, "m3", page[0].Body)
	assert.Equal(t, "m7", page[4].Body)

	// The evicted tempId must not resolve to the old identity anymore: a
	// resend of t0 is a fresh ingest, not a duplicate.
	ack, dup, err := s.Ingest(sendReq("t0", "m0 again"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotEqual(t, firstAck.ServerID, ack.ServerID)
}

func TestPaginationRoundTrip(t *testing.T) {
	s := New(0)
	const total = 23
	for i := 0; i < total; i++ {
		_, _, err := s.Ingest(sendReq(fmt.Sprintf("t%d", i), fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	var collected []*models.Message
	before := int64(0)
	for {
		page, hasMore, nextBefore := s.Page("dm:a:b", before, 5)
		// pages are oldest->newest and prepend onto what we already have
		collected = append(append([]*models.Message(nil), page...), collected...)
		if !hasMore {
			break
		}
		require.NotNil(t, nextBefore)
		before = *nextBefore
	}

	require.Len(t, collected, total)
	seen := map[string]bool{}
	for i, m := range collected {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.Body)
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.Greater(t, m.CreatedAt, collected[i-1].CreatedAt)
		}
	}
}

func TestPageClampsLimit(t *testing.T) {
	s := New(0)
	for i := 0; i < 60; i++ {
		_, _, err := s.Ingest(sendReq(fmt.Sprintf("t%d", i), "x"))
		require.NoError(t, err)
	}
	page, hasMore, _ := s.Page("dm:a:b", 0, 0)
	assert.Len(t, page, 50) // default
	assert.True(t, hasMore)

	page, _, _ = s.Page("dm:a:b", 0, 100000)
	assert.Len(t, page, 60) // capped at 200, only 60 exist
}

func TestMarkDeliveredForwardOnly(t *testing.T) {
	s := New(0)
	ack, _, err := s.Ingest(sendReq("t1", "hi"))
	require.NoError(t, err)

	assert.True(t, s.MarkDelivered("dm:a:b", ack.ServerID))
	assert.False(t, s.MarkDelivered("dm:a:b", ack.ServerID), "second delivery is a no-op")

	s.MarkRead("dm:a:b", "b")
	// A late delivered after read must not regress it.
	assert.False(t, s.MarkDelivered("dm:a:b", ack.ServerID))
	msg, ok := s.Message("dm:a:b", ack.ServerID)
	require.True(t, ok)
	assert.Equal(t, models.StatusRead, msg.Status)
}

func TestMarkReadSkipsOwnAndIsBounded(t *testing.T) {
	s := New(0)
	for i := 0; i < 250; i++ {
		req := sendReq(fmt.Sprintf("t%d", i), "x")
		req.UserID = "a"
		_, _, err := s.Ingest(req)
		require.NoError(t, err)
	}
	own := sendReq("mine", "my own")
	own.UserID = "b"
	_, _, err := s.Ingest(own)
	require.NoError(t, err)

	marked := s.MarkRead("dm:a:b", "b")
	assert.Len(t, marked, 200, "read marking is capped")
	for _, m := range marked {
		assert.Equal(t, models.StatusRead, m.Status)
		assert.Equal(t, "a", m.UserID)
	}

	// A second read pass only finds what the cap left over.
	marked = s.MarkRead("dm:a:b", "b")
	assert.Len(t, marked, 50)
	assert.Empty(t, s.MarkRead("dm:a:b", "b"))
}

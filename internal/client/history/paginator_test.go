package history

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/projection"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/storage"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

// fakeEmitter serves history pages out of a fixed ascending dataset the
// way the server store does: createdAt < before, newest page first.
type fakeEmitter struct {
	mu       sync.Mutex
	dataset  []*models.Message
	pageSize int
	requests []protocol.HistoryRequest
	block    chan struct{} // when set, EmitWithAck parks until closed
}

func (f *fakeEmitter) EmitBuffered(event string, payload any) {}

func (f *fakeEmitter) EnsureConnected(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (f *fakeEmitter) EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	req := payload.(protocol.HistoryRequest)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	var eligible []*models.Message
	for _, m := range f.dataset {
		if req.Before == 0 || m.CreatedAt < req.Before {
			eligible = append(eligible, m)
		}
	}
	limit := f.pageSize
	resp := protocol.HistoryResponse{OK: true}
	if len(eligible) > limit {
		resp.Messages = eligible[len(eligible)-limit:]
		resp.HasMore = true
	} else {
		resp.Messages = eligible
	}
	if len(resp.Messages) > 0 {
		nb := resp.Messages[0].CreatedAt
		resp.NextBefore = &nb
	}
	return json.Marshal(resp)
}

func dataset(n int) []*models.Message {
	msgs := make([]*models.Message, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, &models.Message{
			ID:             "m" + string(rune('a'+i-1)),
			ConversationID: "c1",
			UserID:         "peer",
			Body:           "b",
			Type:           models.TypeText,
			Status:         models.StatusSent,
			CreatedAt:      int64(i * 10),
		})
	}
	return msgs
}

func newPaginator(em *fakeEmitter) (*Paginator, storage.Store, *projection.Projection) {
	store := storage.NewMemory()
	proj := projection.New()
	return New(zap.NewNop().Sugar(), em, store, proj), store, proj
}

func TestWalkBackwardsNoDuplicatesNoGaps(t *testing.T) {
	em := &fakeEmitter{dataset: dataset(13), pageSize: 5}
	p, store, proj := newPaginator(em)
	ctx := context.Background()

	n, err := p.LoadLatest(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, p.HasMore("c1"))

	for p.HasMore("c1") {
		if _, err := p.LoadOlder(ctx, "c1"); err != nil {
			t.Fatal(err)
		}
	}

	msgs := proj.Messages("c1")
	require.Len(t, msgs, 13, "every row loaded exactly once")
	for i := 1; i < len(msgs); i++ {
		assert.Less(t, msgs[i-1].CreatedAt, msgs[i].CreatedAt)
	}

	rows, err := storage.Latest(store, "c1", 100)
	require.NoError(t, err)
	assert.Len(t, rows, 13, "every page persisted")

	// Exhausted: further loads are no-ops without a network round-trip.
	before := len(em.requests)
	n, err = p.LoadOlder(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, em.requests, before)
}

func TestLoadOlderUsesOldestLoadedRowAsCursor(t *testing.T) {
	em := &fakeEmitter{dataset: dataset(8), pageSize: 3}
	p, _, _ := newPaginator(em)
	ctx := context.Background()

	_, err := p.LoadLatest(ctx, "c1")
	require.NoError(t, err)
	_, err = p.LoadOlder(ctx, "c1")
	require.NoError(t, err)

	require.Len(t, em.requests, 2)
	assert.Zero(t, em.requests[0].Before)
	assert.Equal(t, int64(60), em.requests[1].Before, "cursor is the oldest loaded createdAt")
}

func TestSingleFlightPerConversation(t *testing.T) {
	em := &fakeEmitter{dataset: dataset(5), pageSize: 5, block: make(chan struct{})}
	p, _, _ := newPaginator(em)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := p.LoadLatest(ctx, "c1")
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.inFlight["c1"]
	}, time.Second, 5*time.Millisecond)

	_, err := p.LoadLatest(ctx, "c1")
	assert.ErrorIs(t, err, ErrLoadInFlight)

	close(em.block)
	require.NoError(t, <-errCh)
}

func TestHistoryStatusNeverRegressesLocalState(t *testing.T) {
	em := &fakeEmitter{dataset: dataset(3), pageSize: 5}
	p, _, proj := newPaginator(em)

	// Locally the newest row is already read; the page says sent.
	proj.Receive(&models.Message{ID: "mc", ConversationID: "c1", UserID: "peer",
		Status: models.StatusRead, CreatedAt: 30})

	_, err := p.LoadLatest(context.Background(), "c1")
	require.NoError(t, err)

	got, ok := proj.Get("mc")
	require.True(t, ok)
	assert.Equal(t, models.StatusRead, got.Status)
}

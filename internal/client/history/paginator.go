// Package history pages older messages from the server into the local
// tiers, one in-flight request per conversation.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/projection"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/session"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/storage"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

const (
	DefaultPageSize = 50
	historyTimeout  = 7 * time.Second
)

var ErrLoadInFlight = errors.New("history: load already in flight")

type Paginator struct {
	log   *zap.SugaredLogger
	sess  session.Emitter
	store storage.Store
	proj  *projection.Projection

	mu       sync.Mutex
	inFlight map[string]bool
	hasMore  map[string]bool
	primed   map[string]bool
}

func New(log *zap.SugaredLogger, sess session.Emitter, store storage.Store, proj *projection.Projection) *Paginator {
	return &Paginator{
		log:      log,
		sess:     sess,
		store:    store,
		proj:     proj,
		inFlight: make(map[string]bool),
		hasMore:  make(map[string]bool),
		primed:   make(map[string]bool),
	}
}

// LoadLatest fetches the newest page of a conversation. Used when a
// conversation is opened; older pages then walk backwards via LoadOlder.
func (p *Paginator) LoadLatest(ctx context.Context, conversationID string) (int, error) {
	return p.load(ctx, conversationID, 0)
}

// LoadOlder fetches the page before the oldest loaded row. Returns
// (0, nil) when the top of history was already reached.
func (p *Paginator) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	p.mu.Lock()
	done := p.primed[conversationID] && !p.hasMore[conversationID]
	p.mu.Unlock()
	if done {
		return 0, nil
	}
	before := p.proj.OldestCreatedAt(conversationID)
	return p.load(ctx, conversationID, before)
}

// HasMore reports whether older pages remain; true until the first page
// for the conversation has been loaded.
func (p *Paginator) HasMore(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.primed[conversationID] {
		return true
	}
	return p.hasMore[conversationID]
}

func (p *Paginator) load(ctx context.Context, conversationID string, before int64) (int, error) {
	p.mu.Lock()
	if p.inFlight[conversationID] {
		p.mu.Unlock()
		return 0, ErrLoadInFlight
	}
	p.inFlight[conversationID] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, conversationID)
		p.mu.Unlock()
	}()

	if err := p.sess.EnsureConnected(ctx, historyTimeout); err != nil {
		return 0, err
	}

	req := protocol.HistoryRequest{ConversationID: conversationID, Before: before, Limit: DefaultPageSize}
	raw, err := p.sess.EmitWithAck(ctx, protocol.EventMessageHistory, req, historyTimeout)
	if err != nil {
		return 0, err
	}
	var resp protocol.HistoryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, errors.New("history: " + resp.Error)
	}

	p.proj.ReceiveMany(resp.Messages)
	for _, m := range resp.Messages {
		// Upsert replaces, so fold the stored status in first; a page must
		// never regress a row the client already advanced.
		if existing, err := p.store.FindByID(m.ID); err == nil {
			m.Status = models.MergeStatus(existing.Status, m.Status)
		}
		if err := p.store.Upsert(m); err != nil {
			p.log.Errorw("persist history row failed", "id", m.ID, "err", err)
		}
	}

	p.mu.Lock()
	p.primed[conversationID] = true
	p.hasMore[conversationID] = resp.HasMore
	p.mu.Unlock()

	return len(resp.Messages), nil
}

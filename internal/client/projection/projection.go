// Package projection keeps the in-memory, per-conversation ordered view
// the UI reads. Every mutation goes through the status merge rule, so
// local optimism, acks, pushes and rehydrated pages converge to the same
// state regardless of arrival order.
package projection

import (
	"sync"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

type Projection struct {
	mu   sync.RWMutex
	byID map[string]*models.Message
}

func New() *Projection {
	return &Projection{byID: make(map[string]*models.Message)}
}

// Put inserts or replaces a row, used for the optimistic write on send.
func (p *Projection) Put(msg *models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *msg
	p.byID[cp.ID] = &cp
}

// ApplyAck rewrites the optimistic temp row to its server identity: the
// temp row is removed, the server row takes its place with the
// authoritative timestamp and at least status sent.
func (p *Projection) ApplyAck(ack *protocol.SendAck) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if temp, ok := p.byID[ack.TempID]; ok {
		cp := *temp
		cp.ID = ack.ServerID
		cp.TempID = ""
		cp.CreatedAt = ack.Timestamp
		cp.Status = models.MergeStatus(temp.Status, models.StatusSent)
		delete(p.byID, ack.TempID)
		p.byID[ack.ServerID] = &cp
		return
	}
	// The server row may already be present (e.g. echoed history); still
	// make sure it is at least sent.
	if existing, ok := p.byID[ack.ServerID]; ok {
		existing.Status = models.MergeStatus(existing.Status, models.StatusSent)
		existing.CreatedAt = ack.Timestamp
	}
}

// ApplyStatus merges one status event into the row addressed by id, or by
// tempID when the row still lives under its optimistic identity.
func (p *Projection) ApplyStatus(id string, status models.Status, tempID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.byID[id]
	if !ok && tempID != "" {
		target, ok = p.byID[tempID]
	}
	if !ok {
		return
	}
	target.Status = models.MergeStatus(target.Status, status)
}

// Receive merges one inbound or rehydrated message. A matching optimistic
// temp row is dropped first so reconciliation never leaves duplicates,
// and an already-known row never regresses its status.
func (p *Projection) Receive(msg *models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiveLocked(msg)
}

func (p *Projection) ReceiveMany(msgs []*models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range msgs {
		p.receiveLocked(msg)
	}
}

func (p *Projection) receiveLocked(msg *models.Message) {
	if msg.TempID != "" && msg.TempID != msg.ID {
		delete(p.byID, msg.TempID)
	}
	cp := *msg
	cp.TempID = ""
	if existing, ok := p.byID[cp.ID]; ok {
		cp.Status = models.MergeStatus(existing.Status, cp.Status)
	}
	p.byID[cp.ID] = &cp
}

// Get returns a copy of one row.
func (p *Projection) Get(id string) (models.Message, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if msg, ok := p.byID[id]; ok {
		return *msg, true
	}
	return models.Message{}, false
}

// Messages returns the conversation's rows oldest-first, ties broken by
// id.
func (p *Projection) Messages(conversationID string) []*models.Message {
	p.mu.RLock()
	var out []*models.Message
	for _, msg := range p.byID {
		if msg.ConversationID == conversationID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	p.mu.RUnlock()
	models.SortMessages(out)
	return out
}

// OldestCreatedAt is the paging cursor: the createdAt of the oldest
// loaded row, or 0 when the conversation is empty.
func (p *Projection) OldestCreatedAt(conversationID string) int64 {
	msgs := p.Messages(conversationID)
	if len(msgs) == 0 {
		return 0
	}
	return msgs[0].CreatedAt
}

func (p *Projection) ClearConversation(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, msg := range p.byID {
		if msg.ConversationID == conversationID {
			delete(p.byID, id)
		}
	}
}

func (p *Projection) ClearAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[string]*models.Message)
}

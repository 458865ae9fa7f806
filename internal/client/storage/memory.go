package storage

import (
	"sync"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
)

// Memory is the in-process Store used by tests and by the CLI when run
// without a data directory.
type Memory struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	settings *Settings
}

func NewMemory() *Memory {
	return &Memory{messages: make(map[string]*models.Message)}
}

func (m *Memory) FindByID(id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) Find(q Query) ([]*models.Message, error) {
	m.mu.RLock()
	var rows []*models.Message
	for _, msg := range m.messages {
		if matches(msg, q) {
			cp := *msg
			rows = append(rows, &cp)
		}
	}
	m.mu.RUnlock()

	models.SortMessages(rows)
	if q.Descending {
		reverse(rows)
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func (m *Memory) Upsert(msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) UpdateStatus(id string, incoming models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Status = models.MergeStatus(msg.Status, incoming)
	return nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

func (m *Memory) LoadSettings() (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, nil
	}
	cp := *m.settings
	return &cp, nil
}

func (m *Memory) SaveSettings(s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings = &cp
	return nil
}

func (m *Memory) Close() error { return nil }

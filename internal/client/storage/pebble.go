package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
)

// Pebble is the on-disk Store. Rows are kept twice: the record itself
// under its id, and a conversation-ordered index key whose value is the
// id, so per-conversation scans are a bounded iterator walk.
//
// Key layout:
//
//	msg:id:<id>                                  -> message JSON
//	msg:conv:<conversationId>:<createdAt>:<id>   -> <id>   (createdAt zero-padded)
//	settings:self                                -> settings JSON
type Pebble struct {
	db *pebble.DB
}

const settingsKey = "settings:self"

func OpenPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Close() error { return p.db.Close() }

func idKey(id string) []byte {
	return []byte("msg:id:" + id)
}

func convKey(conversationID string, createdAt int64, id string) []byte {
	return []byte(fmt.Sprintf("msg:conv:%s:%020d:%s", conversationID, createdAt, id))
}

func (p *Pebble) get(key []byte) (*models.Message, error) {
	val, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(val, &m); err != nil {
		return nil, fmt.Errorf("decode message row: %w", err)
	}
	return &m, nil
}

func (p *Pebble) FindByID(id string) (*models.Message, error) {
	return p.get(idKey(id))
}

func (p *Pebble) Find(q Query) ([]*models.Message, error) {
	if q.ConversationID != "" {
		return p.findByConversation(q)
	}
	return p.scanAll(q)
}

// findByConversation walks the conversation index inside key bounds, so
// Before and the sort direction never touch rows outside the range.
func (p *Pebble) findByConversation(q Query) ([]*models.Message, error) {
	lower := []byte("msg:conv:" + q.ConversationID + ":")
	upper := []byte("msg:conv:" + q.ConversationID + ";") // ':'+1
	if q.Before > 0 {
		upper = []byte(fmt.Sprintf("msg:conv:%s:%020d", q.ConversationID, q.Before))
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rows []*models.Message
	step := func(valid bool) bool {
		return valid && (q.Limit <= 0 || len(rows) < q.Limit)
	}
	load := func() error {
		m, err := p.get(idKey(string(iter.Value())))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil // index row without a record; skip
			}
			return err
		}
		if matches(m, q) {
			rows = append(rows, m)
		}
		return nil
	}

	if q.Descending {
		for ok := iter.Last(); step(ok); ok = iter.Prev() {
			if err := load(); err != nil {
				return nil, err
			}
		}
	} else {
		for ok := iter.First(); step(ok); ok = iter.Next() {
			if err := load(); err != nil {
				return nil, err
			}
		}
	}
	return rows, iter.Error()
}

func (p *Pebble) scanAll(q Query) ([]*models.Message, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("msg:id:"),
		UpperBound: []byte("msg:id;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rows []*models.Message
	for ok := iter.First(); ok; ok = iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if matches(&m, q) {
			cp := m
			rows = append(rows, &cp)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	models.SortMessages(rows)
	if q.Descending {
		reverse(rows)
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func (p *Pebble) Upsert(m *models.Message) error {
	existing, err := p.get(idKey(m.ID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	if existing != nil && (existing.CreatedAt != m.CreatedAt || existing.ConversationID != m.ConversationID) {
		if err := batch.Delete(convKey(existing.ConversationID, existing.CreatedAt, existing.ID), nil); err != nil {
			return err
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := batch.Set(idKey(m.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set(convKey(m.ConversationID, m.CreatedAt, m.ID), []byte(m.ID), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (p *Pebble) UpdateStatus(id string, incoming models.Status) error {
	m, err := p.get(idKey(id))
	if err != nil {
		return err
	}
	m.Status = models.MergeStatus(m.Status, incoming)
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return p.db.Set(idKey(id), data, pebble.Sync)
}

func (p *Pebble) Delete(id string) error {
	m, err := p.get(idKey(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(idKey(id), nil); err != nil {
		return err
	}
	if err := batch.Delete(convKey(m.ConversationID, m.CreatedAt, m.ID), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (p *Pebble) LoadSettings() (*Settings, error) {
	val, closer, err := p.db.Get([]byte(settingsKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()
	var s Settings
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("decode settings row: %w", err)
	}
	return &s, nil
}

func (p *Pebble) SaveSettings(s *Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return p.db.Set([]byte(settingsKey), data, pebble.Sync)
}

// Package users keeps the in-memory directory of registered users, keyed
// by normalized mobile number.
package users

import (
	"strings"
	"sync"
	"time"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/protocol"
)

type Registry struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*models.User)}
}

// Upsert registers or renames a user. The normalized mobile number is the
// identity, so re-registering from a new device keeps the same id.
func (r *Registry) Upsert(name, mobile string) (*models.User, error) {
	name = strings.TrimSpace(name)
	mobile = models.NormalizeMobile(mobile)
	if name == "" {
		return nil, &protocol.ValidationError{Field: "name"}
	}
	if mobile == "" {
		return nil, &protocol.ValidationError{Field: "mobile"}
	}

	now := time.Now().UnixMilli()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.users[mobile]; ok {
		existing.Name = name
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}
	u := &models.User{ID: mobile, Name: name, Mobile: mobile, CreatedAt: now, UpdatedAt: now}
	r.users[mobile] = u
	cp := *u
	return &cp, nil
}

// List returns all users, insertion order not guaranteed.
func (r *Registry) List() []*models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		cp := *u
		out = append(out, &cp)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

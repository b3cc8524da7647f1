package meeting

import (
	"context"
	"sync"
	"time"

	"github.com/chapelhq/chapel/internal/entitlement"
)

// MemoryStore is an in-memory token and class-meeting store for
// demo/development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	tokens  map[string]*Token        // by tenantID + "/" + platform
	classes map[string]*ClassMeeting // by class ID
}

// NewMemoryStore creates a new in-memory meeting store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:  make(map[string]*Token),
		classes: make(map[string]*ClassMeeting),
	}
}

func tokenKey(tenantID string, platform entitlement.Platform) string {
	return tenantID + "/" + string(platform)
}

func (m *MemoryStore) GetToken(_ context.Context, tenantID string, platform entitlement.Platform) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[tokenKey(tenantID, platform)]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) SaveTokenIfNewer(_ context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tokenKey(t.TenantID, t.Platform)
	if existing, ok := m.tokens[key]; ok && !t.UpdatedAt.After(existing.UpdatedAt) {
		return ErrStaleToken
	}
	cp := *t
	m.tokens[key] = &cp
	return nil
}

func (m *MemoryStore) DeactivateToken(_ context.Context, tenantID string, platform entitlement.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[tokenKey(tenantID, platform)]
	if !ok {
		return ErrTokenNotFound
	}
	t.Active = false
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) GetClassMeeting(_ context.Context, classID string) (*ClassMeeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cm, ok := m.classes[classID]
	if !ok {
		return nil, ErrClassNotFound
	}
	cp := *cm
	return &cp, nil
}

func (m *MemoryStore) SaveClassMeeting(_ context.Context, cm *ClassMeeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cm
	m.classes[cm.ClassID] = &cp
	return nil
}

func (m *MemoryStore) ClearClassMeeting(_ context.Context, classID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.classes, classID)
	return nil
}

// PutToken seeds a token connection, overwriting any existing one.
func (m *MemoryStore) PutToken(t *Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.tokens[tokenKey(t.TenantID, t.Platform)] = &cp
}

var (
	_ TokenStore = (*MemoryStore)(nil)
	_ ClassStore = (*MemoryStore)(nil)
)

package entitlement

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory entitlement store for demo/development and
// tests.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]*Tenant
	plans       map[string]*PlanDefinition
	overrides   map[string]*ManualOverride     // by tenant ID
	coupons     map[string]*Coupon             // by ID
	couponCodes map[string]string              // code → ID
	redemptions map[string][]*CouponRedemption // by tenant ID, redemption order
}

// NewMemoryStore creates a new in-memory entitlement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]*Tenant),
		plans:       make(map[string]*PlanDefinition),
		overrides:   make(map[string]*ManualOverride),
		coupons:     make(map[string]*Coupon),
		couponCodes: make(map[string]string),
		redemptions: make(map[string][]*CouponRedemption),
	}
}

func (m *MemoryStore) GetTenant(_ context.Context, tenantID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetPlan(_ context.Context, planID string) (*PlanDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetOverride(_ context.Context, tenantID string) (*ManualOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ov, ok := m.overrides[tenantID]
	if !ok {
		return nil, ErrOverrideNotFound
	}
	cp := *ov
	return &cp, nil
}

func (m *MemoryStore) GetCoupon(_ context.Context, couponID string) (*Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.coupons[couponID]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) GetCouponByCode(_ context.Context, code string) (*Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.couponCodes[NormalizeCode(code)]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := *m.coupons[id]
	return &cp, nil
}

func (m *MemoryStore) LatestActiveRedemption(_ context.Context, tenantID string) (*CouponRedemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.redemptions[tenantID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].IsActive {
			cp := *list[i]
			return &cp, nil
		}
	}
	return nil, ErrRedemptionNotFound
}

func (m *MemoryStore) ActiveRedemptionOfCoupon(_ context.Context, tenantID, couponID string) (*CouponRedemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.redemptions[tenantID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].IsActive && list[i].CouponID == couponID {
			cp := *list[i]
			return &cp, nil
		}
	}
	return nil, ErrRedemptionNotFound
}

func (m *MemoryStore) CreateRedemption(_ context.Context, r *CouponRedemption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coupons[r.CouponID]
	if !ok {
		return ErrCouponNotFound
	}
	c.CurrentRedemptions++

	cp := *r
	m.redemptions[r.TenantID] = append(m.redemptions[r.TenantID], &cp)
	return nil
}

// Seeding helpers for demo mode and tests.

// PutTenant stores a tenant record.
func (m *MemoryStore) PutTenant(t *Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tenants[t.ID] = &cp
}

// PutPlan stores a plan definition.
func (m *MemoryStore) PutPlan(p *PlanDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
}

// PutOverride stores a manual override keyed by tenant.
func (m *MemoryStore) PutOverride(ov *ManualOverride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ov
	m.overrides[ov.TenantID] = &cp
}

// PutCoupon stores a coupon and indexes its normalised code.
func (m *MemoryStore) PutCoupon(c *Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Code = NormalizeCode(c.Code)
	m.coupons[c.ID] = &cp
	m.couponCodes[cp.Code] = c.ID
}

// DeactivateRedemption flags a redemption inactive.
func (m *MemoryStore) DeactivateRedemption(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.redemptions {
		for _, r := range list {
			if r.ID == id {
				r.IsActive = false
			}
		}
	}
}

var _ Store = (*MemoryStore)(nil)

package entitlement

import (
	"context"
	"strings"
	"time"

	"github.com/chapelhq/chapel/internal/idgen"
)

// GrantType says what a coupon confers when redeemed.
type GrantType string

const (
	GrantPlan         GrantType = "plan"          // the grant of a referenced PlanDefinition
	GrantManualConfig GrantType = "manual_config" // an inlined limit/flag bundle
)

// DurationType controls how long a redemption stays in force.
type DurationType string

const (
	DurationPermanent DurationType = "permanent"
	DurationDays      DurationType = "days"
	DurationMonths    DurationType = "months"
)

// Coupon is a redeemable code conferring a grant for a duration.
//
// For GrantManualConfig coupons the numeric fields are nullable: an absent
// value means unlimited, which is the opposite convention from plan rows
// (where -1 means unlimited). FromStoredPtr handles the first, FromStored
// the second.
type Coupon struct {
	ID                  string           `json:"id"`
	Code                string           `json:"code"` // unique, upper-cased
	GrantType           GrantType        `json:"grantType"`
	PlanID              string           `json:"planId,omitempty"` // set when GrantType == plan
	MaxFacilitators     *int             `json:"maxFacilitators,omitempty"`
	MaxStudents         *int             `json:"maxStudents,omitempty"`
	MaxPrograms         *int             `json:"maxPrograms,omitempty"`
	MaxCourses          *int             `json:"maxCourses,omitempty"`
	MaxStorageMB        *int             `json:"maxStorageMb,omitempty"`
	IntegrationsMode    IntegrationsMode `json:"integrationsMode,omitempty"`
	AllowedIntegrations []Platform       `json:"allowedIntegrations,omitempty"`
	Features            Features         `json:"features"`
	DurationType        DurationType     `json:"durationType"`
	DurationValue       int              `json:"durationValue,omitempty"`
	MaxRedemptions      *int             `json:"maxRedemptions,omitempty"` // nil = unlimited
	CurrentRedemptions  int              `json:"currentRedemptions"`
	IsActive            bool             `json:"isActive"`
	ExpiresAt           *time.Time       `json:"expiresAt,omitempty"` // hard redeem-by date
	CreatedAt           time.Time        `json:"createdAt"`
}

// NormalizeCode canonicalises a coupon code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// inlineGrant builds the grant a manual_config coupon confers. Absent
// numeric fields mean unlimited.
func (c *Coupon) inlineGrant() Grant {
	mode := c.IntegrationsMode
	if mode == "" {
		mode = IntegrationsManual
	}
	return Grant{
		MaxFacilitators:     FromStoredPtr(c.MaxFacilitators),
		MaxStudents:         FromStoredPtr(c.MaxStudents),
		MaxPrograms:         FromStoredPtr(c.MaxPrograms),
		MaxCourses:          FromStoredPtr(c.MaxCourses),
		MaxStorageMB:        FromStoredPtr(c.MaxStorageMB),
		IntegrationsMode:    mode,
		AllowedIntegrations: append([]Platform(nil), c.AllowedIntegrations...),
		Features:            c.Features,
	}
}

// redemptionExpiry computes when a redemption made at now lapses. Nil for
// permanent coupons.
func (c *Coupon) redemptionExpiry(now time.Time) *time.Time {
	switch c.DurationType {
	case DurationDays:
		t := now.AddDate(0, 0, c.DurationValue)
		return &t
	case DurationMonths:
		t := now.AddDate(0, c.DurationValue, 0)
		return &t
	default:
		return nil
	}
}

// CouponRedemption links a coupon to the tenant that redeemed it. At most
// one active, unexpired redemption per tenant counts toward entitlement;
// the most recently redeemed wins if several exist.
type CouponRedemption struct {
	ID         string     `json:"id"`
	CouponID   string     `json:"couponId"`
	TenantID   string     `json:"tenantId"`
	RedeemedBy string     `json:"redeemedBy"` // user id
	RedeemedAt time.Time  `json:"redeemedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	IsActive   bool       `json:"isActive"`
}

// Expired reports whether the redemption has lapsed at the given time.
func (r *CouponRedemption) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Redeem records a coupon redemption for a tenant.
//
// It rejects unknown, inactive, or hard-expired coupons, coupons whose
// redemption budget is exhausted, and a second redemption by a tenant that
// already holds an active unexpired redemption of the same coupon. A
// different tenant consuming the last slot is allowed right up to the
// budget.
func Redeem(ctx context.Context, store Store, code, tenantID, userID string) (*CouponRedemption, error) {
	now := time.Now().UTC()

	coupon, err := store.GetCouponByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if !coupon.IsActive {
		return nil, ErrCouponInactive
	}
	if coupon.ExpiresAt != nil && !coupon.ExpiresAt.After(now) {
		return nil, ErrCouponExpired
	}
	if coupon.MaxRedemptions != nil && coupon.CurrentRedemptions >= *coupon.MaxRedemptions {
		return nil, ErrCouponExhausted
	}

	// Idempotent-redemption guard: one active redemption per tenant+coupon.
	// The lookup is scoped to this coupon so a more recent redemption of a
	// different coupon cannot mask an earlier one of the same coupon.
	if existing, err := store.ActiveRedemptionOfCoupon(ctx, tenantID, coupon.ID); err == nil &&
		!existing.Expired(now) {
		return nil, ErrAlreadyRedeemed
	}

	redemption := &CouponRedemption{
		ID:         idgen.WithPrefix("rdm_"),
		CouponID:   coupon.ID,
		TenantID:   tenantID,
		RedeemedBy: userID,
		RedeemedAt: now,
		ExpiresAt:  coupon.redemptionExpiry(now),
		IsActive:   true,
	}
	if err := store.CreateRedemption(ctx, redemption); err != nil {
		return nil, err
	}
	return redemption, nil
}

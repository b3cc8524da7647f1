package entitlement

import "context"

// Store persists the records entitlement resolution reads.
//
// Absence is reported via the package sentinel errors; the resolver treats
// those as "fall through to the next source", never as a failure.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	GetPlan(ctx context.Context, planID string) (*PlanDefinition, error)
	GetOverride(ctx context.Context, tenantID string) (*ManualOverride, error)

	GetCoupon(ctx context.Context, couponID string) (*Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)

	// LatestActiveRedemption returns the tenant's most recently redeemed
	// redemption with IsActive set, or ErrRedemptionNotFound.
	LatestActiveRedemption(ctx context.Context, tenantID string) (*CouponRedemption, error)

	// ActiveRedemptionOfCoupon returns the tenant's most recent active
	// redemption of one specific coupon, or ErrRedemptionNotFound. The
	// redemption guard uses this; an older redemption of the same coupon
	// still blocks re-redeeming even when a different coupon was redeemed
	// more recently.
	ActiveRedemptionOfCoupon(ctx context.Context, tenantID, couponID string) (*CouponRedemption, error)

	// CreateRedemption inserts the redemption and increments the coupon's
	// redemption counter.
	CreateRedemption(ctx context.Context, r *CouponRedemption) error
}

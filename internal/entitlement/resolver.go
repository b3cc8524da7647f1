package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/chapelhq/chapel/internal/logging"
	"github.com/chapelhq/chapel/internal/metrics"
)

// Resolver computes the effective entitlement for a tenant. It is a pure
// read with no caching: every call re-evaluates the precedence chain, so it
// is safe to call concurrently and repeatedly.
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver creates a resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// Resolve returns the entitlement in force for a tenant.
//
// Precedence, first match wins:
//  1. active, unexpired coupon redemption whose coupon is still active
//  2. manual override with the toggle enabled
//  3. assigned plan, if active
//  4. legacy tier catalogue (free when the tier is unrecognised)
//
// Missing rows at any level fall through to the next; only infrastructure
// errors are returned.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (Entitlement, error) {
	now := r.now().UTC()

	if ent, ok, err := r.fromCoupon(ctx, tenantID, now); err != nil {
		return Entitlement{}, err
	} else if ok {
		metrics.EntitlementResolutionsTotal.WithLabelValues(string(SourceCoupon)).Inc()
		return ent, nil
	}

	if ent, ok, err := r.fromOverride(ctx, tenantID); err != nil {
		return Entitlement{}, err
	} else if ok {
		metrics.EntitlementResolutionsTotal.WithLabelValues(string(SourceManualOverride)).Inc()
		return ent, nil
	}

	ent, err := r.fromPlanOrTier(ctx, tenantID)
	if err != nil {
		return Entitlement{}, err
	}
	metrics.EntitlementResolutionsTotal.WithLabelValues(string(ent.Source)).Inc()
	return ent, nil
}

func (r *Resolver) fromCoupon(ctx context.Context, tenantID string, now time.Time) (Entitlement, bool, error) {
	redemption, err := r.store.LatestActiveRedemption(ctx, tenantID)
	if errors.Is(err, ErrRedemptionNotFound) {
		return Entitlement{}, false, nil
	}
	if err != nil {
		return Entitlement{}, false, err
	}
	if redemption.Expired(now) {
		return Entitlement{}, false, nil
	}

	coupon, err := r.store.GetCoupon(ctx, redemption.CouponID)
	if errors.Is(err, ErrCouponNotFound) {
		logging.L(ctx).Warn("redemption references missing coupon",
			"tenant_id", tenantID, "coupon_id", redemption.CouponID)
		return Entitlement{}, false, nil
	}
	if err != nil {
		return Entitlement{}, false, err
	}
	if !coupon.IsActive {
		return Entitlement{}, false, nil
	}

	var grant Grant
	switch coupon.GrantType {
	case GrantPlan:
		plan, err := r.store.GetPlan(ctx, coupon.PlanID)
		if errors.Is(err, ErrPlanNotFound) {
			logging.L(ctx).Warn("coupon references missing plan",
				"coupon_code", coupon.Code, "plan_id", coupon.PlanID)
			return Entitlement{}, false, nil
		}
		if err != nil {
			return Entitlement{}, false, err
		}
		grant = plan.Grant
	default:
		grant = coupon.inlineGrant()
	}

	return Entitlement{
		Grant:        grant,
		Source:       SourceCoupon,
		SourceDetail: coupon.Code,
		ExpiresAt:    redemption.ExpiresAt,
	}, true, nil
}

func (r *Resolver) fromOverride(ctx context.Context, tenantID string) (Entitlement, bool, error) {
	ov, err := r.store.GetOverride(ctx, tenantID)
	if errors.Is(err, ErrOverrideNotFound) {
		return Entitlement{}, false, nil
	}
	if err != nil {
		return Entitlement{}, false, err
	}
	if !ov.Enabled {
		return Entitlement{}, false, nil
	}

	grant := overrideDefaults
	if ov.MaxFacilitators != nil {
		grant.MaxFacilitators = FromStored(*ov.MaxFacilitators)
	}
	if ov.MaxStudents != nil {
		grant.MaxStudents = FromStored(*ov.MaxStudents)
	}
	if ov.MaxPrograms != nil {
		grant.MaxPrograms = FromStored(*ov.MaxPrograms)
	}
	if ov.MaxCourses != nil {
		grant.MaxCourses = FromStored(*ov.MaxCourses)
	}
	if ov.MaxStorageMB != nil {
		grant.MaxStorageMB = FromStored(*ov.MaxStorageMB)
	}
	if ov.IntegrationsMode != nil {
		grant.IntegrationsMode = *ov.IntegrationsMode
	}
	if ov.AllowedIntegrations != nil {
		grant.AllowedIntegrations = append([]Platform(nil), ov.AllowedIntegrations...)
	}
	if ov.Features != nil {
		grant.Features = *ov.Features
	}

	return Entitlement{
		Grant:        grant,
		Source:       SourceManualOverride,
		SourceDetail: "manual override",
	}, true, nil
}

func (r *Resolver) fromPlanOrTier(ctx context.Context, tenantID string) (Entitlement, error) {
	tenant, err := r.store.GetTenant(ctx, tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		// Unknown tenants resolve to the free tier rather than erroring;
		// the host application authorises tenant ids before calling in.
		tier, grant := legacyTierGrant(TierFree)
		return Entitlement{Grant: grant, Source: SourceDefault, SourceDetail: string(tier)}, nil
	}
	if err != nil {
		return Entitlement{}, err
	}

	if tenant.PlanID != "" {
		plan, err := r.store.GetPlan(ctx, tenant.PlanID)
		if err != nil && !errors.Is(err, ErrPlanNotFound) {
			return Entitlement{}, err
		}
		if err == nil && plan.Active {
			return Entitlement{
				Grant:        plan.Grant,
				Source:       SourcePlan,
				SourceDetail: plan.Name,
			}, nil
		}
	}

	tier, grant := legacyTierGrant(tenant.LegacyTier)
	return Entitlement{
		Grant:        grant,
		Source:       SourcePlan,
		SourceDetail: string(tier),
	}, nil
}

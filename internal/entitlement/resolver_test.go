package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProPlan(store *MemoryStore) *PlanDefinition {
	plan := &PlanDefinition{
		ID:   "plan_pro",
		Name: "Pro",
		Grant: Grant{
			MaxFacilitators:     Finite(10),
			MaxStudents:         Finite(500),
			MaxPrograms:         Finite(10),
			MaxCourses:          Finite(50),
			MaxStorageMB:        Finite(5120),
			IntegrationsMode:    IntegrationsAuto,
			AllowedIntegrations: []Platform{PlatformZoom, PlatformTeams},
			Features:            Features{Certificates: true, Analytics: true},
		},
		Public: true,
		Active: true,
	}
	store.PutPlan(plan)
	return plan
}

func TestResolve_CouponBeatsOverrideAndPlan(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedProPlan(store)

	store.PutTenant(&Tenant{ID: "t_1", PlanID: "plan_pro", LegacyTier: TierFree})
	store.PutOverride(&ManualOverride{TenantID: "t_1", Enabled: true})
	store.PutCoupon(&Coupon{
		ID:        "cpn_1",
		Code:      "WELCOME",
		GrantType: GrantPlan,
		PlanID:    "plan_pro",
		IsActive:  true,
	})

	future := time.Now().Add(24 * time.Hour)
	require.NoError(t, store.CreateRedemption(ctx, &CouponRedemption{
		ID: "rdm_1", CouponID: "cpn_1", TenantID: "t_1",
		RedeemedAt: time.Now(), ExpiresAt: &future, IsActive: true,
	}))

	ent, err := NewResolver(store).Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, SourceCoupon, ent.Source)
	assert.Equal(t, "WELCOME", ent.SourceDetail)
	require.NotNil(t, ent.ExpiresAt)
	assert.WithinDuration(t, future, *ent.ExpiresAt, time.Second)
}

func TestResolve_ExpiredRedemptionFallsThrough(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedProPlan(store)

	store.PutTenant(&Tenant{ID: "t_1", PlanID: "plan_pro"})
	store.PutCoupon(&Coupon{ID: "cpn_1", Code: "OLD", GrantType: GrantPlan, PlanID: "plan_pro", IsActive: true})

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateRedemption(ctx, &CouponRedemption{
		ID: "rdm_1", CouponID: "cpn_1", TenantID: "t_1",
		RedeemedAt: past.Add(-time.Hour), ExpiresAt: &past, IsActive: true,
	}))

	ent, err := NewResolver(store).Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, SourcePlan, ent.Source)
	assert.Equal(t, "Pro", ent.SourceDetail)
}

func TestResolve_InactiveCouponFallsThrough(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedProPlan(store)

	store.PutTenant(&Tenant{ID: "t_1", PlanID: "plan_pro"})
	store.PutCoupon(&Coupon{ID: "cpn_1", Code: "DEAD", GrantType: GrantPlan, PlanID: "plan_pro", IsActive: false})
	require.NoError(t, store.CreateRedemption(ctx, &CouponRedemption{
		ID: "rdm_1", CouponID: "cpn_1", TenantID: "t_1",
		RedeemedAt: time.Now(), IsActive: true,
	}))

	ent, err := NewResolver(store).Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, SourcePlan, ent.Source)
}

func TestResolve_OverrideBeatsPlan(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedProPlan(store)

	maxStudents := 75
	mode := IntegrationsAuto
	store.PutTenant(&Tenant{ID: "t_1", PlanID: "plan_pro"})
	store.PutOverride(&ManualOverride{
		TenantID:            "t_1",
		Enabled:             true,
		MaxStudents:         &maxStudents,
		IntegrationsMode:    &mode,
		AllowedIntegrations: []Platform{PlatformGoogleMeet},
	})

	ent, err := NewResolver(store).Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, SourceManualOverride, ent.Source)
	assert.Equal(t, 75, ent.MaxStudents.Value())
	// Unset fields use the manual-override defaults, not the plan's.
	assert.Equal(t, overrideDefaults.MaxFacilitators, ent.MaxFacilitators)
	assert.True(t, ent.AllowsPlatform(PlatformGoogleMeet))
	assert.False(t, ent.AllowsPlatform(PlatformZoom))
}

func TestResolve_DisabledOverrideIgnored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedProPlan(store)

	maxStudents := 5
	store.PutTenant(&Tenant{ID: "t_1", PlanID: "plan_pro"})
	store.PutOverride(&ManualOverride{TenantID: "t_1", Enabled: false, MaxStudents: &maxStudents})

	ent, err := NewResolver(store).Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, SourcePlan, ent.Source)
	assert.Equal(t, 500, ent.MaxStudents.Value())
}

func TestResolve_InactivePlanFallsToLegacyTier(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.PutPlan(&PlanDefinition{ID: "plan_old", Name: "Retired", Active: false})
	store.PutTenant(&Tenant{ID: "t_1", PlanID: "plan_old", LegacyTier: TierPro})

	ent, err := NewResolver(store).Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, SourcePlan, ent.Source)
	assert.Equal(t, "pro", ent.SourceDetail)
	assert.Equal(t, 500, ent.MaxStudents.Value())
}

func TestResolve_LegacyTiers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store)

	store.PutTenant(&Tenant{ID: "t_free", LegacyTier: TierFree})
	store.PutTenant(&Tenant{ID: "t_unlimited", LegacyTier: TierUnlimited})
	store.PutTenant(&Tenant{ID: "t_bogus", LegacyTier: LegacyTier("platinum")})

	ent, err := resolver.Resolve(ctx, "t_free")
	require.NoError(t, err)
	assert.Equal(t, "free", ent.SourceDetail)
	assert.Equal(t, IntegrationsManual, ent.IntegrationsMode)

	ent, err = resolver.Resolve(ctx, "t_unlimited")
	require.NoError(t, err)
	assert.True(t, ent.MaxStudents.IsUnlimited())
	assert.True(t, ent.Features.PrioritySupport)

	// Unrecognised tiers resolve as free.
	ent, err = resolver.Resolve(ctx, "t_bogus")
	require.NoError(t, err)
	assert.Equal(t, "free", ent.SourceDetail)
}

func TestResolve_UnknownTenantDefaultsToFree(t *testing.T) {
	ent, err := NewResolver(NewMemoryStore()).Resolve(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, ent.Source)
	assert.Equal(t, "free", ent.SourceDetail)
}

func TestResolve_NeverNegativeLimits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	neg := -1
	store.PutTenant(&Tenant{ID: "t_1"})
	store.PutOverride(&ManualOverride{TenantID: "t_1", Enabled: true, MaxCourses: &neg})

	ent, err := NewResolver(store).Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.True(t, ent.MaxCourses.IsUnlimited())
	assert.GreaterOrEqual(t, ent.MaxFacilitators.Stored(), -1)
	assert.True(t, ent.MaxCourses.Allows(1_000_000))
}

func TestResolve_PlanAndCouponGrantsMatch(t *testing.T) {
	// An entitlement from the plan path and one from a coupon referencing
	// the same plan must agree on every grant field.
	ctx := context.Background()

	storeA := NewMemoryStore()
	seedProPlan(storeA)
	storeA.PutTenant(&Tenant{ID: "t_plan", PlanID: "plan_pro"})

	storeB := NewMemoryStore()
	seedProPlan(storeB)
	storeB.PutTenant(&Tenant{ID: "t_coupon"})
	storeB.PutCoupon(&Coupon{ID: "cpn_1", Code: "PRO4U", GrantType: GrantPlan, PlanID: "plan_pro", IsActive: true})
	require.NoError(t, storeB.CreateRedemption(ctx, &CouponRedemption{
		ID: "rdm_1", CouponID: "cpn_1", TenantID: "t_coupon",
		RedeemedAt: time.Now(), IsActive: true,
	}))

	fromPlan, err := NewResolver(storeA).Resolve(ctx, "t_plan")
	require.NoError(t, err)
	fromCoupon, err := NewResolver(storeB).Resolve(ctx, "t_coupon")
	require.NoError(t, err)

	assert.Equal(t, SourcePlan, fromPlan.Source)
	assert.Equal(t, SourceCoupon, fromCoupon.Source)
	assert.Equal(t, fromPlan.Grant, fromCoupon.Grant)
}

func TestResolve_MostRecentActiveRedemptionWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedProPlan(store)

	store.PutTenant(&Tenant{ID: "t_1"})
	store.PutCoupon(&Coupon{ID: "cpn_a", Code: "FIRST", GrantType: GrantPlan, PlanID: "plan_pro", IsActive: true})
	store.PutCoupon(&Coupon{ID: "cpn_b", Code: "SECOND", GrantType: GrantPlan, PlanID: "plan_pro", IsActive: true})

	require.NoError(t, store.CreateRedemption(ctx, &CouponRedemption{
		ID: "rdm_a", CouponID: "cpn_a", TenantID: "t_1",
		RedeemedAt: time.Now().Add(-time.Hour), IsActive: true,
	}))
	require.NoError(t, store.CreateRedemption(ctx, &CouponRedemption{
		ID: "rdm_b", CouponID: "cpn_b", TenantID: "t_1",
		RedeemedAt: time.Now(), IsActive: true,
	}))

	ent, err := NewResolver(store).Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, "SECOND", ent.SourceDetail)
}

func TestResolve_ManualConfigCouponAbsentMeansUnlimited(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	students := 200
	store.PutTenant(&Tenant{ID: "t_1"})
	store.PutCoupon(&Coupon{
		ID:          "cpn_1",
		Code:        "CUSTOM",
		GrantType:   GrantManualConfig,
		MaxStudents: &students,
		IsActive:    true,
	})
	require.NoError(t, store.CreateRedemption(ctx, &CouponRedemption{
		ID: "rdm_1", CouponID: "cpn_1", TenantID: "t_1",
		RedeemedAt: time.Now(), IsActive: true,
	}))

	ent, err := NewResolver(store).Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, 200, ent.MaxStudents.Value())
	assert.True(t, ent.MaxFacilitators.IsUnlimited())
	assert.True(t, ent.MaxStorageMB.IsUnlimited())
}

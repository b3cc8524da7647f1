package entitlement

import "time"

// PlanDefinition is a named tier an admin can assign to tenants. Resolution
// copies its fields per call, so editing a plan affects future resolutions
// only.
type PlanDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Grant       Grant     `json:"grant"`
	Public      bool      `json:"public"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LegacyTier is the coarse pre-plans tier kept on the tenant row. It is the
// final fallback when a tenant has no coupon, override, or assigned plan.
type LegacyTier string

const (
	TierFree      LegacyTier = "free"
	TierPro       LegacyTier = "pro"
	TierUnlimited LegacyTier = "unlimited"
)

// LegacyTiers is the hardcoded fallback catalogue.
var LegacyTiers = map[LegacyTier]Grant{
	TierFree: {
		MaxFacilitators:  Finite(2),
		MaxStudents:      Finite(50),
		MaxPrograms:      Finite(1),
		MaxCourses:       Finite(5),
		MaxStorageMB:     Finite(500),
		IntegrationsMode: IntegrationsManual,
	},
	TierPro: {
		MaxFacilitators:     Finite(10),
		MaxStudents:         Finite(500),
		MaxPrograms:         Finite(10),
		MaxCourses:          Finite(50),
		MaxStorageMB:        Finite(5120),
		IntegrationsMode:    IntegrationsAuto,
		AllowedIntegrations: []Platform{PlatformZoom, PlatformGoogleMeet},
		Features: Features{
			Certificates: true,
			Analytics:    true,
		},
	},
	TierUnlimited: {
		MaxFacilitators:     Unlimited,
		MaxStudents:         Unlimited,
		MaxPrograms:         Unlimited,
		MaxCourses:          Unlimited,
		MaxStorageMB:        Unlimited,
		IntegrationsMode:    IntegrationsAuto,
		AllowedIntegrations: []Platform{PlatformZoom, PlatformTeams, PlatformGoogleMeet},
		Features: Features{
			CustomBranding:   true,
			Certificates:     true,
			SMSNotifications: true,
			Analytics:        true,
			PrioritySupport:  true,
		},
	},
}

// legacyTierGrant returns the grant for a tier, falling back to free for an
// unrecognised value.
func legacyTierGrant(t LegacyTier) (LegacyTier, Grant) {
	if g, ok := LegacyTiers[t]; ok {
		return t, g
	}
	return TierFree, LegacyTiers[TierFree]
}

// overrideDefaults is the bundle nil manual-override fields fall back to.
// Deliberately not the free-tier grant: a populated override is assumed to
// be a generous manual arrangement.
var overrideDefaults = Grant{
	MaxFacilitators:  Finite(10),
	MaxStudents:      Finite(500),
	MaxPrograms:      Finite(10),
	MaxCourses:       Finite(50),
	MaxStorageMB:     Finite(5120),
	IntegrationsMode: IntegrationsManual,
}

// ValidTier reports whether the tier name is recognised.
func ValidTier(t LegacyTier) bool {
	_, ok := LegacyTiers[t]
	return ok
}

// Package entitlement computes the effective quotas and feature flags in
// force for a tenant.
//
// An entitlement is never stored; it is recomputed on every call from four
// overlapping sources evaluated in strict precedence order: an active coupon
// redemption, a manual admin override, the tenant's assigned plan, and
// finally the legacy coarse tier.
package entitlement

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound     = errors.New("entitlement: tenant not found")
	ErrPlanNotFound       = errors.New("entitlement: plan not found")
	ErrCouponNotFound     = errors.New("entitlement: coupon not found")
	ErrCouponInactive     = errors.New("entitlement: coupon is not active")
	ErrCouponExpired      = errors.New("entitlement: coupon can no longer be redeemed")
	ErrCouponExhausted    = errors.New("entitlement: coupon redemption limit reached")
	ErrAlreadyRedeemed    = errors.New("entitlement: tenant already holds an active redemption of this coupon")
	ErrRedemptionNotFound = errors.New("entitlement: redemption not found")
	ErrOverrideNotFound   = errors.New("entitlement: override not found")
)

// Source identifies which precedence level produced an entitlement.
type Source string

const (
	SourceCoupon         Source = "coupon"
	SourceManualOverride Source = "manual_override"
	SourcePlan           Source = "plan"
	SourceDefault        Source = "default"
)

// IntegrationsMode controls how meeting links are handled for a tenant.
type IntegrationsMode string

const (
	IntegrationsNone   IntegrationsMode = "none"   // no meeting links at all
	IntegrationsAuto   IntegrationsMode = "auto"   // platform-created via provider APIs
	IntegrationsManual IntegrationsMode = "manual" // admin pastes links by hand
)

// Platform identifies a meeting provider.
type Platform string

const (
	PlatformZoom       Platform = "zoom"
	PlatformTeams      Platform = "teams"
	PlatformGoogleMeet Platform = "google_meet"
)

// Features are the boolean feature flags a grant can switch on.
type Features struct {
	CustomBranding   bool `json:"customBranding"`
	Certificates     bool `json:"certificates"`
	SMSNotifications bool `json:"smsNotifications"`
	Analytics        bool `json:"analytics"`
	PrioritySupport  bool `json:"prioritySupport"`
}

// Grant is the limit/flag bundle a plan or coupon confers.
type Grant struct {
	MaxFacilitators     Limit            `json:"maxFacilitators"`
	MaxStudents         Limit            `json:"maxStudents"`
	MaxPrograms         Limit            `json:"maxPrograms"`
	MaxCourses          Limit            `json:"maxCourses"`
	MaxStorageMB        Limit            `json:"maxStorageMb"`
	IntegrationsMode    IntegrationsMode `json:"integrationsMode"`
	AllowedIntegrations []Platform       `json:"allowedIntegrations"`
	Features            Features         `json:"features"`
}

// Entitlement is the effective quota/flag record for a tenant, computed per
// call by the Resolver.
type Entitlement struct {
	Grant
	Source       Source     `json:"source"`
	SourceDetail string     `json:"sourceDetail,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// AllowsPlatform reports whether the entitlement permits automatic meeting
// creation on the given platform.
func (e Entitlement) AllowsPlatform(p Platform) bool {
	if e.IntegrationsMode != IntegrationsAuto {
		return false
	}
	for _, allowed := range e.AllowedIntegrations {
		if allowed == p {
			return true
		}
	}
	return false
}

// Tenant is the slim tenant record the resolver reads. The full tenant
// profile (name, subdomain, branding) lives with the host application.
type Tenant struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	PlanID     string     `json:"planId,omitempty"` // assigned PlanDefinition, "" if none
	LegacyTier LegacyTier `json:"legacyTier"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ManualOverride is an administrator-set entitlement that bypasses the
// tenant's assigned plan. Nil fields fall back to the manual-override
// defaults, not to the plan defaults. When Enabled is false the record is
// ignored even if populated.
type ManualOverride struct {
	TenantID            string            `json:"tenantId"`
	Enabled             bool              `json:"enabled"`
	MaxFacilitators     *int              `json:"maxFacilitators,omitempty"`
	MaxStudents         *int              `json:"maxStudents,omitempty"`
	MaxPrograms         *int              `json:"maxPrograms,omitempty"`
	MaxCourses          *int              `json:"maxCourses,omitempty"`
	MaxStorageMB        *int              `json:"maxStorageMb,omitempty"`
	IntegrationsMode    *IntegrationsMode `json:"integrationsMode,omitempty"`
	AllowedIntegrations []Platform        `json:"allowedIntegrations,omitempty"`
	Features            *Features         `json:"features,omitempty"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

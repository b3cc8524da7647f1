// Package quota counts live resource usage for a tenant and classifies it
// against the resolved entitlement.
package quota

import (
	"context"
	"fmt"

	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/chapelhq/chapel/internal/metrics"
)

// Resource is a countable resource kind.
type Resource string

const (
	ResourceFacilitators Resource = "facilitators"
	ResourceStudents     Resource = "students"
	ResourcePrograms     Resource = "programs"
	ResourceCourses      Resource = "courses"
	ResourceStorageMB    Resource = "storage_mb"
	ResourceIntegrations Resource = "integrations"
)

// ValidResource reports whether the resource kind is recognised.
func ValidResource(r Resource) bool {
	switch r {
	case ResourceFacilitators, ResourceStudents, ResourcePrograms,
		ResourceCourses, ResourceStorageMB, ResourceIntegrations:
		return true
	}
	return false
}

// Status classifies usage against a limit.
type Status string

const (
	StatusOK          Status = "ok"
	StatusApproaching Status = "approaching"
	StatusAtLimit     Status = "at_limit"
	StatusUnlimited   Status = "unlimited"
)

// Usage is the result of a quota check.
type Usage struct {
	Resource Resource          `json:"resource"`
	Current  int               `json:"current"`
	Max      entitlement.Limit `json:"max"`
	Allowed  bool              `json:"allowed"`
	Status   Status            `json:"status"`
}

// Classify buckets a usage count against a limit. Pure function: unlimited
// wins outright, at_limit from current >= max, approaching from 80% of max.
func Classify(current int, max entitlement.Limit) Status {
	if max.IsUnlimited() {
		return StatusUnlimited
	}
	m := max.Value()
	if current >= m {
		return StatusAtLimit
	}
	// floor(m*0.8) = m - ceil(m/5), computed without the m*8 intermediate,
	// which overflows for limits near MaxInt.
	fifth := m / 5
	if m%5 != 0 {
		fifth++
	}
	if current >= m-fifth {
		return StatusApproaching
	}
	return StatusOK
}

// UsageStore counts live rows of each resource kind scoped to a tenant.
type UsageStore interface {
	CountFacilitators(ctx context.Context, tenantID string) (int, error)
	CountStudents(ctx context.Context, tenantID string) (int, error)
	CountPrograms(ctx context.Context, tenantID string) (int, error)
	CountCourses(ctx context.Context, tenantID string) (int, error)
	CountIntegrations(ctx context.Context, tenantID string) (int, error)
}

// Counter checks a tenant's usage of a resource against its entitlement.
type Counter struct {
	resolver *entitlement.Resolver
	usage    UsageStore
}

// NewCounter creates a quota counter.
func NewCounter(resolver *entitlement.Resolver, usage UsageStore) *Counter {
	return &Counter{resolver: resolver, usage: usage}
}

// Check resolves the tenant's entitlement, counts current usage of the
// resource, and classifies it.
func (c *Counter) Check(ctx context.Context, tenantID string, resource Resource) (Usage, error) {
	ent, err := c.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return Usage{}, err
	}

	var (
		current int
		max     entitlement.Limit
	)
	switch resource {
	case ResourceFacilitators:
		current, err = c.usage.CountFacilitators(ctx, tenantID)
		max = ent.MaxFacilitators
	case ResourceStudents:
		current, err = c.usage.CountStudents(ctx, tenantID)
		max = ent.MaxStudents
	case ResourcePrograms:
		current, err = c.usage.CountPrograms(ctx, tenantID)
		max = ent.MaxPrograms
	case ResourceCourses:
		current, err = c.usage.CountCourses(ctx, tenantID)
		max = ent.MaxCourses
	case ResourceStorageMB:
		// Storage consumption is not tracked yet; always reported as 0.
		current, max = 0, ent.MaxStorageMB
	case ResourceIntegrations:
		current, err = c.usage.CountIntegrations(ctx, tenantID)
		// No numeric integration cap; availability is mode/platform gated.
		max = entitlement.Unlimited
	default:
		return Usage{}, fmt.Errorf("quota: unknown resource %q", resource)
	}
	if err != nil {
		return Usage{}, err
	}

	status := Classify(current, max)
	metrics.QuotaChecksTotal.WithLabelValues(string(resource), string(status)).Inc()

	return Usage{
		Resource: resource,
		Current:  current,
		Max:      max,
		Allowed:  max.Allows(current),
		Status:   status,
	}, nil
}

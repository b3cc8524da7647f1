package quota

import (
	"context"
	"math"
	"testing"

	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		current int
		max     entitlement.Limit
		want    Status
	}{
		{"unlimited", 5, entitlement.Unlimited, StatusUnlimited},
		{"at limit", 20, entitlement.Finite(20), StatusAtLimit},
		{"over limit", 25, entitlement.Finite(20), StatusAtLimit},
		{"approaching at 80pct", 16, entitlement.Finite(20), StatusApproaching},
		{"below 80pct", 15, entitlement.Finite(20), StatusOK},
		{"zero of zero", 0, entitlement.Finite(0), StatusAtLimit},
		{"zero usage", 0, entitlement.Finite(10), StatusOK},
		{"odd max floors threshold", 4, entitlement.Finite(5), StatusApproaching},
		{"huge max below threshold", 1, entitlement.Finite(math.MaxInt - 1), StatusOK},
		{"huge max at threshold", math.MaxInt - 1 - (math.MaxInt-1)/5, entitlement.Finite(math.MaxInt - 1), StatusApproaching},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.current, tt.max))
		})
	}
}

func newTestCounter(tier entitlement.LegacyTier) (*Counter, *MemoryUsageStore) {
	store := entitlement.NewMemoryStore()
	store.PutTenant(&entitlement.Tenant{ID: "t_1", LegacyTier: tier})
	usage := NewMemoryUsageStore()
	return NewCounter(entitlement.NewResolver(store), usage), usage
}

func TestCheck_UnderLimit(t *testing.T) {
	counter, usage := newTestCounter(entitlement.TierPro)
	usage.Set("t_1", ResourceStudents, 100)

	u, err := counter.Check(context.Background(), "t_1", ResourceStudents)
	require.NoError(t, err)
	assert.Equal(t, 100, u.Current)
	assert.Equal(t, 500, u.Max.Value())
	assert.True(t, u.Allowed)
	assert.Equal(t, StatusOK, u.Status)
}

func TestCheck_AtLimit(t *testing.T) {
	counter, usage := newTestCounter(entitlement.TierFree)
	usage.Set("t_1", ResourceFacilitators, 2)

	u, err := counter.Check(context.Background(), "t_1", ResourceFacilitators)
	require.NoError(t, err)
	assert.False(t, u.Allowed)
	assert.Equal(t, StatusAtLimit, u.Status)
}

func TestCheck_UnlimitedTier(t *testing.T) {
	counter, usage := newTestCounter(entitlement.TierUnlimited)
	usage.Set("t_1", ResourceCourses, 100000)

	u, err := counter.Check(context.Background(), "t_1", ResourceCourses)
	require.NoError(t, err)
	assert.True(t, u.Allowed)
	assert.Equal(t, StatusUnlimited, u.Status)
}

func TestCheck_StorageAlwaysZero(t *testing.T) {
	counter, usage := newTestCounter(entitlement.TierFree)
	usage.Set("t_1", ResourceStorageMB, 999) // ignored: storage is untracked

	u, err := counter.Check(context.Background(), "t_1", ResourceStorageMB)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Current)
	assert.True(t, u.Allowed)
}

func TestCheck_UnknownResource(t *testing.T) {
	counter, _ := newTestCounter(entitlement.TierFree)
	_, err := counter.Check(context.Background(), "t_1", Resource("widgets"))
	assert.Error(t, err)
}

func TestValidResource(t *testing.T) {
	assert.True(t, ValidResource(ResourceStudents))
	assert.True(t, ValidResource(ResourceStorageMB))
	assert.False(t, ValidResource(Resource("widgets")))
}

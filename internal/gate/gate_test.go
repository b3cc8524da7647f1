package gate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/chapelhq/chapel/internal/quota"
)

func testRouter(t *testing.T, mw gin.HandlerFunc) (*gin.Engine, *int) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handlerCalls := 0
	r := gin.New()
	r.POST("/v1/tenants/:tenant_id/things", mw, func(c *gin.Context) {
		handlerCalls++
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r, &handlerCalls
}

func seedStore(tier entitlement.LegacyTier) *entitlement.MemoryStore {
	store := entitlement.NewMemoryStore()
	store.PutTenant(&entitlement.Tenant{ID: "t_1", Name: "First Chapel", LegacyTier: tier})
	return store
}

func TestRequireFeature_Forbidden(t *testing.T) {
	resolver := entitlement.NewResolver(seedStore(entitlement.TierFree))
	r, handlerCalls := testRouter(t, RequireFeature(resolver, FeatureCertificates))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/t_1/things", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "feature_not_included")
	assert.Equal(t, 0, *handlerCalls, "handler must not run when the flag is off")
}

func TestRequireFeature_Allowed(t *testing.T) {
	resolver := entitlement.NewResolver(seedStore(entitlement.TierPro))
	r, handlerCalls := testRouter(t, RequireFeature(resolver, FeatureCertificates))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/t_1/things", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, *handlerCalls)
}

func TestRequireFeature_MissingTenant(t *testing.T) {
	resolver := entitlement.NewResolver(seedStore(entitlement.TierPro))
	gin.SetMode(gin.TestMode)

	handlerCalls := 0
	r := gin.New()
	r.POST("/things", RequireFeature(resolver, FeatureAnalytics), func(c *gin.Context) {
		handlerCalls++
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/things", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, handlerCalls)
}

func TestRequireCapacity_AtLimit(t *testing.T) {
	// Free tier allows a single program.
	resolver := entitlement.NewResolver(seedStore(entitlement.TierFree))
	usage := quota.NewMemoryUsageStore()
	usage.Set("t_1", quota.ResourcePrograms, 1)

	counter := quota.NewCounter(resolver, usage)
	r, handlerCalls := testRouter(t, RequireCapacity(counter, quota.ResourcePrograms))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/t_1/things", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "quota_exceeded")
	assert.Equal(t, 0, *handlerCalls)
}

func TestRequireCapacity_UnderLimit(t *testing.T) {
	resolver := entitlement.NewResolver(seedStore(entitlement.TierPro))
	usage := quota.NewMemoryUsageStore()
	usage.Set("t_1", quota.ResourcePrograms, 3)

	counter := quota.NewCounter(resolver, usage)
	r, handlerCalls := testRouter(t, RequireCapacity(counter, quota.ResourcePrograms))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/t_1/things", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, *handlerCalls)
}

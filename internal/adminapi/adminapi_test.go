package adminapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/rrsc/internal/health"
	"github.com/agentfabric/rrsc/internal/obslog"
	"github.com/agentfabric/rrsc/internal/policy"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	agg := health.New(health.Config{}, obslog.NewNop(), nil, "")
	eng := policy.New(nil)
	return New(Config{RateLimitMax: 1000, RateLimitWindow: time.Minute}, eng, agg, nil)
}

func TestServer_GetHealth_ReportsOverallStatus(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "status")
}

func TestServer_GetReady_ServiceUnavailableBeforeFirstSample(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_PutAndDeletePolicy_RoundTrip(t *testing.T) {
	s := newTestServer(t)

	body := `{"enabled":true,"scope":"global","priority":10,"rule_ids":[]}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/policies/p1", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	del := httptest.NewRequest(http.MethodDelete, "/api/v1/policies/p1", nil)
	delRec := httptest.NewRecorder()
	s.router.ServeHTTP(delRec, del)
	assert.Equal(t, http.StatusNoContent, delRec.Code)

	delAgain := httptest.NewRequest(http.MethodDelete, "/api/v1/policies/p1", nil)
	delAgainRec := httptest.NewRecorder()
	s.router.ServeHTTP(delAgainRec, delAgain)
	assert.Equal(t, http.StatusNotFound, delAgainRec.Code)
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	assert.True(t, rl.allow("ip"))
	assert.True(t, rl.allow("ip"))
	assert.False(t, rl.allow("ip"))
}

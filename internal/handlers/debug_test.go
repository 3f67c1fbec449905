package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats map[string]int

func (s staticStats) Stats() map[string]int { return s }

type staticSockets struct {
	staticStats
	users map[string]int
}

func (s staticSockets) UserConnections(userID string) int { return s.users[userID] }

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, nil, staticStats{}, staticSockets{}, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/subscriptions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugSubscriptions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	sockets := staticSockets{staticStats: staticStats{"messages:c1": 3}, users: map[string]int{"u1": 2}}
	RegisterDebugRoutes(r, nil, staticStats{"presence": 2}, sockets, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/subscriptions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["topics"].(map[string]any)["presence"])
	assert.Equal(t, float64(3), body["sockets"].(map[string]any)["messages:c1"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/sockets/u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["connections"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

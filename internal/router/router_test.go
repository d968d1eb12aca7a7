package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSwagger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New(Handlers{}, zap.NewNop())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/openapi.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	for _, p := range []string{"/api/v1/events", "/api/v1/business-hours/status", "/api/v1/metrics/daily/{date}", "/api/v1/queue"} {
		assert.Contains(t, doc.Paths, p)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/swagger/", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "swagger-ui")
}

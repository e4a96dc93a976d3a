package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestHandler() *Handler {
	gin.SetMode(gin.TestMode)
	return NewHandler(nil, nil, nil, "test", nil)
}

func TestGetLivenessAlwaysAlive(t *testing.T) {
	h := newTestHandler()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health/live", nil)

	h.GetLiveness(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestGetReadinessReportsNotReadyWithoutDependencies(t *testing.T) {
	h := newTestHandler()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health/ready", nil)

	h.GetReadiness(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a store or broker, got %d", w.Code)
	}
}

package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/x", ok)
	r.POST("/x", ok)
	return r
}

func serve(r *gin.Engine, method string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/x", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, 1)
	now := time.Now()

	assert.True(t, rl.allow("a", now))
	assert.True(t, rl.allow("a", now.Add(100*time.Millisecond)))
	assert.False(t, rl.allow("a", now.Add(200*time.Millisecond)))
	assert.True(t, rl.allow("b", now.Add(200*time.Millisecond)))
	// the first two fall out of the window
	assert.True(t, rl.allow("a", now.Add(1500*time.Millisecond)))
}

func TestPaymentRateLimiterOnlyLimitsPosts(t *testing.T) {
	r := newEngine(PaymentRateLimiter(0.001, 1))

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet).Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newEngine(CORSMiddlewares("https://till.local"))
	r.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodOptions)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://till.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(newEngine(SecurityHeaders(false)), http.MethodGet)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = serve(newEngine(SecurityHeaders(true), PaymentSecurityHeaders()), http.MethodGet)
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"vitalsdash/internal"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := internal.NewLoggerWithOutput(internal.LogLevelDebug, buf, true)
	r := gin.New()
	r.Use(EnsureRequestID(), RequestLogger(logger))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r
}

func TestEnsureRequestID_Assigns(t *testing.T) {
	r := newEngine(&bytes.Buffer{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestEnsureRequestID_ReusesIncoming(t *testing.T) {
	r := newEngine(&bytes.Buffer{})
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	r := newEngine(&buf)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Contains(t, buf.String(), "request served")
	assert.Contains(t, buf.String(), `"path":"/ok"`)

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Contains(t, buf.String(), "request failed")
	assert.Contains(t, buf.String(), `"status":500`)
}

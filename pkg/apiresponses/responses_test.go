package apiresponses

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var resp APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestErrorResponders(t *testing.T) {
	tests := []struct {
		name    string
		respond func(c *gin.Context)
		status  int
		code    string
		message string
	}{
		{"not found", func(c *gin.Context) { RespondNotFound(c, "session not found") }, http.StatusNotFound, "NOT_FOUND", "session not found"},
		{"unauthorized", func(c *gin.Context) { RespondUnauthorized(c, "refresh token rejected") }, http.StatusUnauthorized, "UNAUTHORIZED", "refresh token rejected"},
		{"unauthorized default", func(c *gin.Context) { RespondUnauthorized(c, "") }, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated"},
		{"bad request", func(c *gin.Context) { RespondBadRequest(c, "invalid body") }, http.StatusBadRequest, "BAD_REQUEST", "invalid body"},
		{"bad gateway", func(c *gin.Context) { RespondBadGateway(c, "") }, http.StatusBadGateway, "BAD_GATEWAY", "bad gateway"},
		{"service unavailable", func(c *gin.Context) { RespondServiceUnavailable(c, "redis") }, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable: redis"},
		{"too many requests", RespondTooManyRequests, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "rate limit exceeded, please try again later"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			tt.respond(c)

			assert.Equal(t, tt.status, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}

func TestRespondBadRequestWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondBadRequestWithDetails(c, "invalid body", "device_name is required")

	resp := decode(t, w)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "device_name is required", resp.Details)
}

func TestRespondInternalErrorLogsButSanitizes(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	core, recorded := observer.New(zap.ErrorLevel)

	RespondInternalError(c, "issue credentials", errors.New("dial tcp 10.0.0.1:443: refused"), zap.New(core).Sugar())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "failed to issue credentials", resp.Error)
	assert.NotContains(t, w.Body.String(), "10.0.0.1")

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Failed to issue credentials", entries[0].Message)
}

func TestRespondInternalErrorNilLogger(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	assert.NotPanics(t, func() { RespondInternalError(c, "do thing", errors.New("x"), nil) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSuccessResponders(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondOK(c, gin.H{"status": "PENDING"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"PENDING"}`, w.Body.String())

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	RespondNoContent(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
}

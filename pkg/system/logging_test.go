package system

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetReqLoggerFallbackWhenContextNil(t *testing.T) {
	fallback := zap.NewNop().Sugar()
	require.Same(t, fallback, GetReqLogger(nil, fallback))
}

func TestGetReqLoggerFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	stored := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, stored)
	require.Same(t, stored, GetReqLogger(ctx, fallback))
}

func TestGetReqLoggerIgnoresInvalidTypes(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, "not-a-logger")
	require.Same(t, fallback, GetReqLogger(ctx, fallback))
}

func newLoggedEngine(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, recorded := observer.New(zap.DebugLevel)
	engine := gin.New()
	engine.Use(RequestLogger(zap.New(core).Sugar()))
	engine.GET("/ping", func(c *gin.Context) {
		GetReqLogger(c, nil).Infow("handled")
		c.String(http.StatusOK, GetRequestID(c))
	})
	return engine, recorded
}

func TestRequestLoggerGeneratesID(t *testing.T) {
	engine, recorded := newLoggedEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())

	entries := recorded.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, id, fields["requestId"])
	assert.Equal(t, "/ping", fields["path"])
}

func TestRequestLoggerReusesIncomingID(t *testing.T) {
	engine, _ := newLoggedEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "corr-123")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, "corr-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "corr-123", w.Body.String())
}

func TestRequestLoggerReplacesOversizedID(t *testing.T) {
	engine, _ := newLoggedEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	id := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Less(t, len(id), maxRequestIDLength)
}

func TestGetRequestIDNilContext(t *testing.T) {
	assert.Empty(t, GetRequestID(nil))
}

func TestEnrichReqLoggerWithSubject(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	enriched := EnrichReqLoggerWithSubject(zap.New(core).Sugar(), "user-1", "user@example.com")
	enriched.Infow("final-log")

	entries := recorded.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "user-1", fields["sub"])
	assert.Equal(t, "user@example.com", fields["email"])
}

func TestEnrichReqLoggerWithSubjectSkipsEmpty(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	EnrichReqLoggerWithSubject(zap.New(core).Sugar(), "", "").Infow("plain")

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].ContextMap())
	assert.Nil(t, EnrichReqLoggerWithSubject(nil, "sub", ""))
}

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{false, true} {
		logger, err := NewLogger(debug)
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.Equal(t, debug, logger.Core().Enabled(zap.DebugLevel))
	}
}

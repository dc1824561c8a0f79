package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeflare/stations/pkg/httputil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func TestLoggerWithOptions(t *testing.T) {
	logger, logs := newTestLogger()
	handler := LoggerWithOptions(&LoggerOptions{
		Logger: logger,
		Format: func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
			return []zap.Field{zap.String("test", "log")}
		},
	})(statusHandler(http.StatusOK))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/stations", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "response", logs.All()[0].Message)
	assert.Equal(t, "log", logs.All()[0].ContextMap()["test"])
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		level zapcore.Level
	}{
		{name: "ok", code: http.StatusOK, level: zap.InfoLevel},
		{name: "not found", code: http.StatusNotFound, level: zap.InfoLevel},
		{name: "unavailable", code: http.StatusServiceUnavailable, level: zap.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := newTestLogger()
			handler := LoggerWithOptions(&LoggerOptions{Logger: logger})(statusHandler(tt.code))

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/stations/40010", nil))

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, int64(tt.code), entry.ContextMap()["status"])
			assert.Equal(t, "GET", entry.ContextMap()["method"])
		})
	}
}

func TestLoggerWithoutRequestID(t *testing.T) {
	logger, logs := newTestLogger()
	handler := LoggerWithOptions(&LoggerOptions{Logger: logger})(statusHandler(http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example.com/stations", nil))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, uuid.Nil.String(), logs.All()[0].ContextMap()["req_id"])
}

func TestLoggerWithRequestID(t *testing.T) {
	logger, logs := newTestLogger()
	reqID := uuid.New().String()

	handler := LoggerWithOptions(&LoggerOptions{Logger: logger})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.Logger(r.Context()).Info("handling")
		}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com/stations", nil)
	req = req.WithContext(context.WithValue(req.Context(), httputil.RequestIDCtxKey, reqID))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "handling", logs.All()[0].Message)
	assert.Equal(t, reqID, logs.All()[0].ContextMap()["req_id"])
	assert.Equal(t, "response", logs.All()[1].Message)
	assert.Equal(t, reqID, logs.All()[1].ContextMap()["req_id"])
}

func TestChain(t *testing.T) {
	logger, logs := newTestLogger()
	handler := Chain(http.HandlerFunc(echoRequestID), RequestID, LoggerWithOptions(&LoggerOptions{Logger: logger}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/stations", nil))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, rr.Body.String(), logs.All()[0].ContextMap()["req_id"])
	assert.Equal(t, rr.Body.String(), rr.Header().Get(RequestIDHeader))
}

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDHttpMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDHttpMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ContextRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
}

func TestAccessLogHttpMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := ContextLogger(r.Context())
			l.Debug().Msg("inside")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("gone"))
		}),
		RequestIDHttpMiddleware,
		AccessLogHttpMiddleware(logger),
	)

	req := httptest.NewRequest(http.MethodGet, "/missing.js", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "req-7", entry["request_id"])
	assert.Equal(t, "/missing.js", entry["path"])
	assert.EqualValues(t, 404, entry["status"])
	assert.EqualValues(t, 4, entry["bytes"])
}

func TestRecoverHttpMiddleware(t *testing.T) {
	handler := RecoverHttpMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/save", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body["error"])
}

func TestContextLogger_Default(t *testing.T) {
	l := ContextLogger(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.Equal(t, zerolog.Disabled, l.GetLevel())
}

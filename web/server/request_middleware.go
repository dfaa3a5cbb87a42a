package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bikappa/blockly-sketchbook/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDContextKey contextKey = "requestId"
	loggerContextKey    contextKey = "logger"
)

const RequestIDHeader string = "X-Request-Id"

// RequestIDHttpMiddleware takes the request id from the header, or generates
// one, and adds it to the context and to the response headers
func RequestIDHttpMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ContextRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDContextKey).(string)
	return v
}

// AccessLogHttpMiddleware attaches a request scoped logger to the context and
// logs every request once it is served
func AccessLogHttpMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logging.WithRequest(logger, ContextRequestID(r.Context()), r.Method, r.URL.Path)
			r = r.WithContext(context.WithValue(r.Context(), loggerContextKey, reqLogger))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logging.LogHTTPRequest(reqLogger, r.RemoteAddr, rec.status, time.Since(start), rec.bytes)
		})
	}
}

// ContextLogger returns the request logger, or a disabled one outside a request
func ContextLogger(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerContextKey).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// RecoverHttpMiddleware turns a handler panic into a 500 json response
func RecoverHttpMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				l := ContextLogger(r.Context())
				l.Error().Interface("panic", rec).Msg("handler panicked")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				enc.Encode(map[string]string{
					"error": "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Chain wraps h so that the first middleware is the outermost
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the id correlating a request with its log lines
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture status code and response body
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	body       *bytes.Buffer
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.statusCode = statusCode
		rw.written = true
		rw.ResponseWriter.WriteHeader(statusCode)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	if rw.body != nil {
		rw.body.Write(b)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush lets streaming handlers push events through the wrapper
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		if !rw.written {
			rw.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingMiddleware logs all HTTP requests with level-based detail
//
// Log levels:
// - INFO: every request with client IP, method, path and request id
// - DEBUG: additionally query parameters plus request and response bodies
// - WARN: failed requests (4xx)
// - ERROR: server errors (5xx)
//
// Bodies of event streams and binary exports are never captured.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		debug := slog.Default().Enabled(r.Context(), slog.LevelDebug)

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		attrs := []any{
			"request_id", requestID,
			"remote_ip", ClientIP(r),
			"method", r.Method,
			"path", r.URL.Path,
		}

		capture := debug && !isStreamOrExport(r)
		var requestBody []byte
		if capture && r.Body != nil {
			requestBody, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if capture {
			wrapped.body = &bytes.Buffer{}
		}

		if debug {
			details := append([]any{"user_agent", r.UserAgent()}, attrs...)
			if len(r.URL.Query()) > 0 {
				details = append(details, "query_params", map[string][]string(r.URL.Query()))
			}
			if len(requestBody) > 0 {
				details = append(details, "request_body", string(requestBody))
			}
			slog.Debug("Incoming request", details...)
		}

		next.ServeHTTP(wrapped, r)

		level, message := slog.LevelInfo, "Request completed"
		switch {
		case wrapped.statusCode >= 500:
			level, message = slog.LevelError, "Request failed with error"
		case wrapped.statusCode >= 400:
			level, message = slog.LevelWarn, "Request failed"
		}

		attrs = append(attrs,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if wrapped.body != nil && wrapped.body.Len() > 0 {
			attrs = append(attrs, "response_body", wrapped.body.String())
		}

		slog.Log(r.Context(), level, message, attrs...)
	})
}

func isStreamOrExport(r *http.Request) bool {
	return strings.HasSuffix(r.URL.Path, "/stream") || strings.HasSuffix(r.URL.Path, "/export")
}

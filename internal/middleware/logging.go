package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/metorial/custom-server/internal/metrics"
	"github.com/metorial/custom-server/internal/utils"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func validRequestID(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// RequestID propagates a caller-supplied X-Request-Id or assigns a new one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID(id) {
			id = "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		r.Header.Set(requestIDHeader, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs each request and records HTTP metrics labelled by
// the matched route template.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := "unmatched"
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		duration := time.Since(start)
		metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status), duration)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.String("request_id", r.Header.Get(requestIDHeader)),
		}
		if rec.status >= http.StatusInternalServerError {
			utils.Logger.Warn("Request failed", fields...)
			return
		}
		utils.Logger.Debug("Request handled", fields...)
	})
}

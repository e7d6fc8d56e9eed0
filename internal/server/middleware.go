package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/memcord/memcord/internal/admission"
	"github.com/memcord/memcord/internal/auth"
	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/metrics"
)

// slowRequestThreshold is the duration above which requests are logged
// at WARN level.
const slowRequestThreshold = 100 * time.Millisecond

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging logs every request with timing. Slow requests (>100ms)
// are logged at WARN level.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		if s.collector != nil {
			s.collector.Record(metrics.OpHTTP, duration, nil)
		}

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			s.logger.Error("request failed", attrs...)
		case duration > slowRequestThreshold:
			s.logger.Warn("slow request", attrs...)
		default:
			s.logger.Debug("request completed", attrs...)
		}
	})
}

// withAuth requires a bearer token and stores the principal on the
// request context.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		principal, err := s.validator.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// withRateLimit applies per-principal admission control and sets the
// rate limit response headers.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing principal")
			return
		}

		decision := s.admit.TryAcquire(principal.UserID, admission.ClassHTTP)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.admit.Burst(admission.ClassHTTP)))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			rlErr := &memerr.RateLimitedError{RetryAfter: decision.RetryAfter}
			w.Header().Set("Retry-After", strconv.Itoa(rlErr.RetryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, rlErr.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

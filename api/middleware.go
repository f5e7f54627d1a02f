package api

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"warden/metrics"
)

// exemptFromGating reports whether the path must stay reachable regardless
// of the caller's containment state or request rate. Liveness probes and
// metric scrapes never go through the gate or the throttle.
func exemptFromGating(path string) bool {
	return path == "/health" || path == "/metrics"
}

// getRealIP returns the client identifier for gating and throttling. With
// trustProxy set, the first X-Forwarded-For hop wins; otherwise the direct
// peer address is used.
func getRealIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if first != "" && net.ParseIP(first) != nil {
				return first
			}
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// recoveryMiddleware converts handler panics into 500s. The stack is logged
// server-side only.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				s.logger.Errorw("Recovered from panic in HTTP handler",
					"panic", fmt.Sprintf("%v", rec),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(buf[:n]))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the wrapped writer so WebSocket upgrades keep working
// behind the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// requestLogMiddleware logs request completion and feeds the latency
// histogram, labeled by route template rather than raw path.
func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Observe(elapsed.Seconds())
		s.logger.Debugw("Request completed",
			"method", r.Method,
			"route", route,
			"status", sw.status,
			"client", getRealIP(r, s.cfg.TrustProxy),
			"duration_ms", elapsed.Milliseconds())
	})
}

// rateLimitMiddleware throttles each client with a token bucket.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptFromGating(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ip := getRealIP(r, s.cfg.TrustProxy)

		s.limitersMu.Lock()
		entry, ok := s.limiters[ip]
		if !ok {
			entry = &clientLimiter{
				limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst),
			}
			s.limiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		limiter := entry.limiter
		s.limitersMu.Unlock()

		if !limiter.Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// containmentGateMiddleware rejects traffic from contained sources before
// any handler runs: blocked clients get 403 everywhere, quarantined clients
// get 429 on mutating methods and may still read.
func (s *Server) containmentGateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptFromGating(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ip := getRealIP(r, s.cfg.TrustProxy)

		if s.engine.IsBlocked(ip) {
			metrics.GateRejections.WithLabelValues("blocked").Inc()
			s.logger.Debugw("Gate rejected blocked client", "client", ip, "path", r.URL.Path)
			http.Error(w, "source is blocked", http.StatusForbidden)
			return
		}
		if mutating(r.Method) && s.engine.IsQuarantined(ip) {
			metrics.GateRejections.WithLabelValues("quarantined").Inc()
			s.logger.Debugw("Gate rejected quarantined client", "client", ip, "path", r.URL.Path)
			http.Error(w, "source is quarantined", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

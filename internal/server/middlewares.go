package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RequesterHeader carries the opaque requester id the fronting auth layer
// resolves before proxying to this core. Its value is never interpreted
// here, only matched against session and token ownership.
const RequesterHeader = "X-Letstream-Requester"

type contextKey string

const requesterContextKey = contextKey("requester")

// requesterFrom returns the requester id requireRequester stashed in the
// request context, empty on chains that skip that middleware.
func requesterFrom(r *http.Request) string {
	id, _ := r.Context().Value(requesterContextKey).(string)
	return id
}

func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				s.serverErrorResponse(w, r, fmt.Errorf("%s", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireRequester rejects requests without a requester identity and makes
// the id reachable through requesterFrom for the handlers downstream.
func (s *Server) requireRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequesterHeader)
		if id == "" {
			s.unauthorizedResponse(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), requesterContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the status and body size logAccess reports.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func (s *Server) logAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"took", time.Since(start).Round(time.Millisecond),
		)
	})
}

// rateLimit applies a per-IP token bucket to the JSON API endpoints. The
// stream endpoints are never routed through it, a range fetch mid-playback
// must not lose to a burst of API calls from the same address, the
// connection pool caps bound those instead.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)
	// reap addresses idle past a few minutes so the map stays bounded
	s.BT.RunEvery(time.Minute, func(context.Context) {
		mu.Lock()
		for ip, c := range clients {
			if time.Since(c.lastSeen) > 3*time.Minute {
				delete(clients, ip)
			}
		}
		mu.Unlock()
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			s.serverErrorResponse(w, r, err)
			return
		}
		mu.Lock()
		c, ok := clients[ip]
		if !ok {
			c = &client{limiter: rate.NewLimiter(
				rate.Limit(s.Config.Server.RateLimitRPS),
				s.Config.Server.RateLimitBurst,
			)}
			clients[ip] = c
		}
		c.lastSeen = time.Now()
		allowed := c.limiter.Allow()
		mu.Unlock()
		if !allowed {
			s.rateLimitExceededResponse(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

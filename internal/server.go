package internal

import (
	"net/http"
	"time"

	"tunelink/internal/storage"
)

const (
	defaultTokenTTL  = 30 * 24 * time.Hour
	authLimiterBurst = 10
	authLimiterSpan  = time.Minute
)

// Server ties the HTTP surface to the hub and its collaborators. Everything
// is injected so tests can stand up isolated instances.
type Server struct {
	store       *storage.Store
	hub         *Hub
	verifier    Verifier
	metrics     *Metrics
	authLimiter *RateLimiter
	tokenTTL    time.Duration
}

func NewServer(store *storage.Store, hub *Hub, verifier Verifier, metrics *Metrics) *Server {
	return &Server{
		store:       store,
		hub:         hub,
		verifier:    verifier,
		metrics:     metrics,
		authLimiter: NewRateLimiter(authLimiterBurst, authLimiterSpan),
		tokenTTL:    defaultTokenTTL,
	}
}

// MetricsHandler exposes the counters as a JSON endpoint.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

type authContext struct {
	Username string
	Token    string
}

// authenticateRequest resolves the request credential to an identity. Missing
// or stale tokens map to errUnauthorized so handlers can pick the status code.
func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	token := credentialFromRequest(r)
	username, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		return nil, err
	}
	return &authContext{Username: username, Token: token}, nil
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}

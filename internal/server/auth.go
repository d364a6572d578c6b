package server

import (
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"mcscout/internal/shared"
)

// ServiceKeyHeader carries the service key on mutating requests.
const ServiceKeyHeader = "X-Service-Key"

// AuthPolicy decides whether a request may reach a mutating endpoint.
type AuthPolicy interface {
	Allow(r *http.Request) bool
}

// DevBypass allows everything. Local development only.
type DevBypass struct {
	Logger *zerolog.Logger
}

func (d DevBypass) Allow(r *http.Request) bool {
	if d.Logger != nil {
		d.Logger.Debug().Str("path", r.URL.Path).Msg("auth bypassed (dev mode)")
	}
	return true
}

// Enforced allows loopback clients and requests presenting the service key.
type Enforced struct {
	ServiceKey string
}

func (e Enforced) Allow(r *http.Request) bool {
	if isLoopback(r.RemoteAddr) {
		return true
	}
	return shared.ServiceKeyMatches(e.ServiceKey, r.Header.Get(ServiceKeyHeader))
}

// NewAuthPolicy maps a configured auth mode to a policy.
func NewAuthPolicy(cfg shared.ServerConfig, logger *zerolog.Logger) AuthPolicy {
	if cfg.AuthMode == shared.AuthEnforced {
		return Enforced{ServiceKey: cfg.ServiceKey}
	}
	return DevBypass{Logger: logger}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RequireAuth guards a handler with the API's auth policy.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.Auth != nil && !a.Auth.Allow(r) {
			a.logger().Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("auth: rejected")
			writeJSON(w, 401, map[string]any{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

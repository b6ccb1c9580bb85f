package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/metorial/custom-server/internal/utils"
	"go.uber.org/zap"
)

// IPFilter restricts access to a fixed set of IPs and CIDR ranges
type IPFilter struct {
	networks []*net.IPNet
	ips      []net.IP
}

// NewIPFilter parses a comma-separated list of IPs and CIDR ranges.
// An empty list allows localhost only.
func NewIPFilter(allowed string) (*IPFilter, error) {
	if strings.TrimSpace(allowed) == "" {
		allowed = "127.0.0.1,::1"
		utils.Logger.Warn("METRICS_ALLOWED_IPS not set, defaulting to localhost only")
	}

	f := &IPFilter{}
	for _, entry := range strings.Split(allowed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		// Check if it's CIDR notation
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR '%s': %w", entry, err)
			}
			f.networks = append(f.networks, network)
			utils.Logger.Info("Allowed metrics access from CIDR", zap.String("cidr", entry))
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address '%s'", entry)
		}
		f.ips = append(f.ips, ip)
		utils.Logger.Info("Allowed metrics access from IP", zap.String("ip", entry))
	}

	return f, nil
}

// Middleware restricts access to the wrapped handler by client IP
func (f *IPFilter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)

		if !f.Allowed(clientIP) {
			utils.Logger.Warn("Metrics access denied",
				zap.String("client_ip", clientIP),
				zap.String("path", r.URL.Path),
				zap.String("user_agent", r.UserAgent()),
			)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Allowed checks if the given IP is in the allowed list
func (f *IPFilter) Allowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	for _, allowedIP := range f.ips {
		if ip.Equal(allowedIP) {
			return true
		}
	}

	for _, network := range f.networks {
		if network.Contains(ip) {
			return true
		}
	}

	return false
}

// getClientIP extracts the real client IP from the request
func getClientIP(r *http.Request) string {
	// Try X-Forwarded-For first (for requests through reverse proxy)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can be a comma-separated list, take the first one
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

package util

import (
	"net"
	"net/http"
	"strings"
)

// TelegramWebhookRanges are the published source networks of Bot API webhooks.
var TelegramWebhookRanges = []string{"149.154.160.0/20", "91.108.4.0/22"}

// IPAllowlist is a set of CIDR ranges.
type IPAllowlist struct {
	nets []*net.IPNet
}

// NewIPAllowlist parses CIDR/IP entries. Empty input yields a nil list, which
// matches nothing.
func NewIPAllowlist(entries []string) (*IPAllowlist, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, err
			}
			nets = append(nets, cidr)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, &net.ParseError{Type: "IP address", Text: entry}
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	if len(nets) == 0 {
		return nil, nil
	}
	return &IPAllowlist{nets: nets}, nil
}

// Contains reports whether ip falls inside any range.
func (l *IPAllowlist) Contains(ip net.IP) bool {
	if l == nil || ip == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller IP. X-Forwarded-For and X-Real-IP are honoured
// only when the direct peer is a trusted proxy.
func ClientIP(r *http.Request, trusted *IPAllowlist) string {
	remoteIP := parseRemoteIP(r.RemoteAddr)
	if remoteIP == nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if trusted == nil || !trusted.Contains(remoteIP) {
		return remoteIP.String()
	}

	forwarded := parseForwardedFor(r.Header.Get("X-Forwarded-For"))
	if len(forwarded) > 0 {
		chain := append(forwarded, remoteIP)
		for i := len(chain) - 1; i >= 0; i-- {
			if !trusted.Contains(chain[i]) {
				return chain[i].String()
			}
		}
		return chain[0].String()
	}

	if realIP := parseIP(r.Header.Get("X-Real-IP")); realIP != nil {
		return realIP.String()
	}
	return remoteIP.String()
}

// WithSourceAllowlist rejects requests whose client IP is outside allowed.
// A nil allowlist disables the check.
func WithSourceAllowlist(allowed, trusted *IPAllowlist, next http.Handler) http.Handler {
	if allowed == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := parseIP(ClientIP(r, trusted))
		if !allowed.Contains(ip) {
			LoggerFromContext(r.Context()).Warn("webhook_source_rejected", "remote_addr", r.RemoteAddr)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseForwardedFor(raw string) []net.IP {
	parts := strings.Split(raw, ",")
	out := make([]net.IP, 0, len(parts))
	for _, part := range parts {
		ip := parseIP(part)
		if ip == nil {
			continue
		}
		out = append(out, ip)
	}
	return out
}

func parseRemoteIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		return parseIP(host)
	}
	return parseIP(addr)
}

func parseIP(raw string) net.IP {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return net.ParseIP(raw)
}

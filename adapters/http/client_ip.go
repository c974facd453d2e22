package authhttp

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPFunc determines the client IP used for rate limiting and event
// logging. An empty string means "unknown" and rate limiting fails open.
type ClientIPFunc func(r *http.Request) string

// DefaultClientIP uses RemoteAddr only when it is a public IP. Private
// and loopback peers return "" so a reverse proxy is never treated as a
// single client.
func DefaultClientIP() ClientIPFunc {
	return func(r *http.Request) string {
		ip := remoteIP(r)
		if ip == "" {
			return ""
		}
		parsed, err := netip.ParseAddr(ip)
		if err != nil {
			return ""
		}
		if isPublicAddr(parsed) {
			return parsed.String()
		}
		return ""
	}
}

// ClientIPFromForwardedHeaders trusts X-Forwarded-For only when the
// immediate peer is in trustedProxies; otherwise it behaves like
// DefaultClientIP.
func ClientIPFromForwardedHeaders(trustedProxies []netip.Prefix) ClientIPFunc {
	return func(r *http.Request) string {
		peer := remoteIP(r)
		if peer == "" {
			return ""
		}
		peerAddr, err := netip.ParseAddr(peer)
		if err != nil {
			return ""
		}
		trusted := false
		for _, p := range trustedProxies {
			if p.Contains(peerAddr) {
				trusted = true
				break
			}
		}
		if trusted {
			if v := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); v != "" {
				// XFF is comma-separated; left-most is the original client.
				if i := strings.IndexByte(v, ','); i >= 0 {
					v = v[:i]
				}
				v = strings.TrimSpace(v)
				if a, err := netip.ParseAddr(v); err == nil && isPublicAddr(a) {
					return a.String()
				}
			}
		}
		if isPublicAddr(peerAddr) {
			return peerAddr.String()
		}
		return ""
	}
}

func remoteIP(r *http.Request) string {
	if r == nil || r.RemoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func isPublicAddr(a netip.Addr) bool {
	if !a.IsValid() {
		return false
	}
	if a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalMulticast() || a.IsLinkLocalUnicast() {
		return false
	}
	if a.IsMulticast() || a.IsUnspecified() {
		return false
	}
	return true
}

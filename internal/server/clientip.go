package server

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIPResolver picks the client address for logs, audit entries and
// rate limiting. Forwarding headers are only read when the socket peer is
// a trusted proxy.
type clientIPResolver struct {
	trusted []netip.Prefix
}

// newClientIPResolver parses proxies given as IP addresses or CIDRs.
func newClientIPResolver(proxies []string) (clientIPResolver, error) {
	var res clientIPResolver
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(p); err == nil {
			res.trusted = append(res.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return clientIPResolver{}, fmt.Errorf("trusted proxy %q: not an IP or CIDR", p)
		}
		addr = addr.Unmap()
		res.trusted = append(res.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return res, nil
}

func (c clientIPResolver) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the socket peer unless it is a trusted proxy. Behind a
// trusted proxy, X-Forwarded-For is walked from the right and the first
// untrusted hop wins; X-Real-IP is the fallback.
func (c clientIPResolver) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !c.trusts(peer) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !c.trusts(hop) {
				return hop
			}
			peer = hop
		}
		return peer
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

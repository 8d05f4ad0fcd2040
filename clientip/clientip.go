// Package clientip determines the address a login attempt came from.
package clientip

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"
)

// Unknown is returned when no address can be determined.
const Unknown = "Unknown"

const (
	DefaultLookupURL     = "https://api.ipify.org"
	DefaultLookupTimeout = 2 * time.Second
)

type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) string
}

// RequestResolver reads the address from the request itself. RemoteAddr is
// authoritative unless the peer is one of TrustedProxies, in which case the
// rightmost X-Forwarded-For hop outside the trusted set (or X-Real-IP) is
// used. Header values that do not parse as an address are ignored. The zero
// value trusts no proxy.
type RequestResolver struct {
	TrustedProxies []netip.Prefix
}

// NewRequestResolver parses trusted proxy entries, each an IP or CIDR.
func NewRequestResolver(trusted []string) (RequestResolver, error) {
	var rr RequestResolver
	for _, entry := range trusted {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return RequestResolver{}, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			rr.TrustedProxies = append(rr.TrustedProxies, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return RequestResolver{}, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		rr.TrustedProxies = append(rr.TrustedProxies, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return rr, nil
}

func (rr RequestResolver) Resolve(_ context.Context, r *http.Request) string {
	return rr.ClientIP(r)
}

// FromRequest resolves r trusting no proxy: the RemoteAddr host.
func FromRequest(r *http.Request) string {
	return RequestResolver{}.ClientIP(r)
}

func (rr RequestResolver) ClientIP(r *http.Request) string {
	if r == nil || r.RemoteAddr == "" {
		return Unknown
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := parseAddr(host)
	if err != nil {
		return host
	}
	if !rr.trusted(peer) {
		return peer.String()
	}

	if hops := forwardedHops(r.Header); len(hops) > 0 {
		client := peer
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := parseAddr(hops[i])
			if err != nil {
				break
			}
			client = addr
			if !rr.trusted(addr) {
				break
			}
		}
		return client.String()
	}
	if addr, err := parseAddr(r.Header.Get("X-Real-IP")); err == nil {
		return addr.String()
	}
	return peer.String()
}

func (rr RequestResolver) trusted(addr netip.Addr) bool {
	for _, p := range rr.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedHops flattens every X-Forwarded-For header, nearest hop last.
func forwardedHops(h http.Header) []string {
	var hops []string
	for _, v := range h.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			hops = append(hops, strings.TrimSpace(hop))
		}
	}
	return hops
}

func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap(), nil
}

// ExternalResolver asks a public "what is my IP" endpoint. A non-200 answer
// falls back to the address of the local hostname; a transport failure
// yields Unknown.
type ExternalResolver struct {
	URL      string
	Client   *http.Client
	Hostname func() (string, error)
	LookupIP func(host string) ([]net.IP, error)
}

func NewExternalResolver(url string, timeout time.Duration) *ExternalResolver {
	if url == "" {
		url = DefaultLookupURL
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &ExternalResolver{
		URL:      url,
		Client:   &http.Client{Timeout: timeout},
		Hostname: os.Hostname,
		LookupIP: net.LookupIP,
	}
}

func (e *ExternalResolver) Resolve(ctx context.Context, _ *http.Request) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return Unknown
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return Unknown
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
		if err != nil {
			return Unknown
		}
		if ip := strings.TrimSpace(string(body)); ip != "" {
			return ip
		}
		return Unknown
	}
	return e.localIP()
}

func (e *ExternalResolver) localIP() string {
	host, err := e.Hostname()
	if err != nil {
		return Unknown
	}
	ips, err := e.LookupIP(host)
	if err != nil {
		return Unknown
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	if len(ips) > 0 {
		return ips[0].String()
	}
	return Unknown
}

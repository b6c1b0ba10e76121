package spec

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// linkLocalMetadata is the well-known cloud metadata CIDR that must never be
// reachable from an HTTP tool, regardless of allow-lists.
var linkLocalMetadata = netip.MustParsePrefix("169.254.0.0/16")

// rfc1918 lists the private address ranges that require an explicit
// allow-list entry to be reachable.
var rfc1918 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

// ScreenURL validates base against the SSRF policy shared by the capability
// gate (load time) and the tool registry (call time, on every network tool
// invocation). allowedHosts is the explicit allow-list for RFC1918
// exceptions.
func ScreenURL(raw string, allowedHosts []string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("ssrf: invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ssrf: unsupported scheme %q, must be http or https", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("ssrf: URL %q has no host", raw)
	}
	for _, allowed := range allowedHosts {
		if strings.EqualFold(allowed, host) {
			return nil
		}
	}
	if host == "localhost" {
		return fmt.Errorf("ssrf: loopback host %q is not allowed", host)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		// Hostname, not a literal IP: resolve defensively so DNS cannot be
		// used to rebind past the screen at call time. Resolution failures
		// are not themselves a screen violation; the caller's transport
		// will fail the request.
		addrs, lookupErr := net.LookupHost(host)
		if lookupErr != nil {
			return nil
		}
		for _, a := range addrs {
			if parsed, perr := netip.ParseAddr(a); perr == nil {
				if err := screenIP(parsed); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return screenIP(ip)
}

func screenIP(ip netip.Addr) error {
	if ip.IsLoopback() {
		return fmt.Errorf("ssrf: loopback address %s is not allowed", ip)
	}
	if linkLocalMetadata.Contains(ip) || ip.IsLinkLocalUnicast() {
		return fmt.Errorf("ssrf: link-local/metadata address %s is not allowed", ip)
	}
	for _, p := range rfc1918 {
		if p.Contains(ip) {
			return fmt.Errorf("ssrf: private address %s requires an explicit allow-list entry", ip)
		}
	}
	return nil
}

package settings

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// Hosts the server must never send a bearer token to.
var blockedHosts = []string{
	"localhost",
	"localhost.localdomain",
	"metadata.google.internal",
}

// CheckUpstreamHost rejects resource URLs that point at loopback, private,
// link-local or cloud metadata addresses. Only literal addresses are checked;
// names are not resolved.
func CheckUpstreamHost(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	if allowPrivate {
		return nil
	}

	for _, blocked := range blockedHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return fmt.Errorf("access to %s is not allowed", host)
		}
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return fmt.Errorf("access to loopback addresses is not allowed")
	case addr.IsPrivate():
		return fmt.Errorf("access to private IP addresses is not allowed")
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return fmt.Errorf("access to link-local addresses is not allowed")
	case addr.IsMulticast():
		return fmt.Errorf("access to multicast addresses is not allowed")
	case addr.IsUnspecified():
		return fmt.Errorf("access to unspecified addresses is not allowed")
	}
	return nil
}

package dns

import (
	"strings"
)

// SplitHostname splits an FQDN into subdomain and domain parts.
// e.g. "app.example.com" → ("app", "example.com")
// e.g. "sub.app.example.com" → ("sub.app", "example.com")
func SplitHostname(fqdn string) (hostname, domain string) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	parts := strings.SplitN(fqdn, ".", 2)
	if len(parts) < 2 {
		return fqdn, ""
	}
	return parts[0], parts[1]
}

// JoinZone turns a zone-relative host into an FQDN. "@" and "" denote the
// zone apex; a host already ending in the zone is passed through.
func JoinZone(host, zone string) string {
	host = strings.TrimSuffix(host, ".")
	zone = strings.TrimSuffix(zone, ".")
	switch {
	case host == "" || host == "@":
		return zone
	case host == zone || strings.HasSuffix(host, "."+zone):
		return host
	default:
		return host + "." + zone
	}
}

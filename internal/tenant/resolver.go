package tenant

import (
	"net"
	"strings"
)

// Header carries the resolved tenant to downstream services. The gateway
// always overwrites it; a client-supplied value is never trusted.
const Header = "X-Tansu-Tenant"

// Resolver derives a tenant identifier from the request host and path.
// Resolution never fails: an empty tenant is a valid outcome and downstream
// authorization decides whether the route accepts tenant-less traffic.
type Resolver struct {
	apexDomain string
	reserved   map[string]struct{}
}

func NewResolver(apexDomain string, reservedLabels []string) *Resolver {
	reserved := make(map[string]struct{}, len(reservedLabels))
	for _, label := range reservedLabels {
		reserved[strings.ToLower(label)] = struct{}{}
	}
	return &Resolver{apexDomain: strings.ToLower(apexDomain), reserved: reserved}
}

// Resolve returns the tenant id and the path with any /t/{tenant} prefix
// stripped. The path form wins over the subdomain form.
func (r *Resolver) Resolve(host, path string) (tenant, strippedPath string) {
	if t, rest, ok := splitPathForm(path); ok {
		return t, rest
	}
	return r.fromHost(host), path
}

// splitPathForm matches /t/{tenant}/... and /t/{tenant}.
func splitPathForm(path string) (tenant, rest string, ok bool) {
	if !strings.HasPrefix(path, "/t/") {
		return "", "", false
	}
	remainder := path[len("/t/"):]
	if remainder == "" {
		return "", "", false
	}
	if idx := strings.IndexByte(remainder, '/'); idx >= 0 {
		tenant, rest = remainder[:idx], remainder[idx:]
	} else {
		tenant, rest = remainder, "/"
	}
	if tenant == "" {
		return "", "", false
	}
	return tenant, rest, true
}

// fromHost treats the leftmost host label as the tenant unless it is
// reserved, an IP, or the host is the apex itself.
func (r *Resolver) fromHost(host string) string {
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	if host == r.apexDomain || !strings.HasSuffix(host, "."+r.apexDomain) {
		return ""
	}

	sub := strings.TrimSuffix(host, "."+r.apexDomain)
	// Nested labels (a.b.apex) are not tenant hosts.
	if strings.Contains(sub, ".") {
		return ""
	}
	if _, isReserved := r.reserved[sub]; isReserved {
		return ""
	}
	return sub
}

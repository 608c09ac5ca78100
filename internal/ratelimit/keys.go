package ratelimit

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// FamilyAuth is the identity/auth route family. Retries there are highly
// time-sensitive, so its queue limit defaults to zero.
const (
	FamilyAuth    = "auth"
	FamilyDefault = "default"
)

var authPrefixes = []string{"/auth/", "/oauth/", "/token", "/login"}

// FamilyFor maps a (tenant-stripped) request path onto a route family.
func FamilyFor(path string) string {
	for _, prefix := range authPrefixes {
		if strings.HasPrefix(path, prefix) || path == strings.TrimSuffix(prefix, "/") {
			return FamilyAuth
		}
	}
	return FamilyDefault
}

// PartitionKey derives the limiter's grouping key. Authenticated requests
// partition by tenant plus a hash of the bearer token so the raw credential
// never lands in limiter state; unauthenticated requests partition by tenant
// plus client IP.
func PartitionKey(tenantID, clientIP, bearerToken string) string {
	if bearerToken != "" {
		return fmt.Sprintf("%s|tok:%x", tenantID, xxhash.Sum64String(bearerToken))
	}
	return fmt.Sprintf("%s|ip:%s", tenantID, clientIP)
}

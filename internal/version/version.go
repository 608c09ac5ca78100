package version

import "fmt"

// Set at build time via -ldflags.
var (
	Name      = "tansu-gateway"
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Full returns the version with commit suffix for startup logs.
func Full() string {
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}

// Package version holds build-time version metadata, set via -ldflags.
package version

// Version and Commit are overridden at build time with:
//
//	go build -ldflags "-X github.com/agentpassport/passport/internal/version.Version=1.2.3 -X .../version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "unknown"
)

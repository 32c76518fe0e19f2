// Package buildinfo carries release metadata stamped in at link time.
package buildinfo

import "fmt"

var (
	// Version is set via -ldflags "-X .../buildinfo.Version=v1.2.3".
	Version = "dev"
	// Commit is the source revision of the build.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)

// String formats the build metadata for --version output.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}

package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = ""
)

// String describes the running binary.
func String() string {
	if GitCommit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}

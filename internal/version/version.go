// Package version provides build version information for skyvars.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at release build time with -ldflags "-X ...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String describes the running binary. Binaries built with "go install"
// report their module version when no release version was stamped.
func String() string {
	version := Version
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	return fmt.Sprintf("%s (commit %s, built %s)", version, Commit, Date)
}

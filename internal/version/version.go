// Package version provides the version of the application.
package version

import "runtime/debug"

// Version is the version of the application. Set at build time via ldflags,
// falls back to module build info for `go install` builds.
var Version = "unknown"

func init() {
	if Version != "unknown" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	} else {
		Version = "devel"
	}
}

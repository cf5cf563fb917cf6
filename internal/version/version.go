// Package version reports build information for the fleetpulse binary.
// Variables are injected at build time via ldflags; when GitCommit is not
// injected it falls back to the VCS revision the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var commit = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	return commitFrom(GitCommit, info, ok)
})

// commitFrom prefers an injected commit, then the embedded vcs.revision
// (shortened, with a -dirty suffix for modified trees).
func commitFrom(injected string, info *debug.BuildInfo, ok bool) string {
	if injected != "unknown" || !ok || info == nil {
		return injected
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return injected
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// Info returns the line printed by -version.
func Info() string {
	return fmt.Sprintf("fleetpulse %s (commit: %s, built: %s, go: %s)",
		Version, commit(), BuildDate, runtime.Version())
}

// Short returns just the version string (e.g., "0.1.0" or "dev").
func Short() string {
	return Version
}

// Map returns version info for the health endpoint.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": commit(),
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// UserAgent identifies fleetpulse in outbound HTTP requests.
func UserAgent() string {
	return "fleetpulse/" + Version
}

package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	if !strings.Contains(info, "fleetpulse") {
		t.Errorf("Info() should contain 'fleetpulse', got: %s", info)
	}
	if !strings.Contains(info, runtime.Version()) {
		t.Errorf("Info() should contain Go version, got: %s", info)
	}
}

func TestShort(t *testing.T) {
	if got := Short(); got != "dev" {
		t.Errorf("Short() = %q, want %q (default)", got, "dev")
	}
}

func TestMap(t *testing.T) {
	m := Map()

	requiredKeys := []string{"version", "git_commit", "build_date", "go_version", "os", "arch"}
	for _, key := range requiredKeys {
		if _, ok := m[key]; !ok {
			t.Errorf("Map() missing key %q", key)
		}
	}

	if m["version"] != "dev" {
		t.Errorf("Map()[\"version\"] = %q, want %q", m["version"], "dev")
	}
	if m["go_version"] != runtime.Version() {
		t.Errorf("Map()[\"go_version\"] = %q, want %q", m["go_version"], runtime.Version())
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "fleetpulse/dev" {
		t.Errorf("UserAgent() = %q, want %q", got, "fleetpulse/dev")
	}
}

func TestCommitFrom(t *testing.T) {
	vcs := func(rev, modified string) *debug.BuildInfo {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: rev},
			{Key: "vcs.modified", Value: modified},
		}}
	}
	tests := []struct {
		name     string
		injected string
		info     *debug.BuildInfo
		ok       bool
		want     string
	}{
		{"injected wins", "abc123", vcs("0123456789abcdef", "false"), true, "abc123"},
		{"no build info", "unknown", nil, false, "unknown"},
		{"no vcs settings", "unknown", &debug.BuildInfo{}, true, "unknown"},
		{"clean revision", "unknown", vcs("0123456789abcdef", "false"), true, "0123456789ab"},
		{"dirty tree", "unknown", vcs("0123456789abcdef", "true"), true, "0123456789ab-dirty"},
		{"short revision", "unknown", vcs("beef", "false"), true, "beef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commitFrom(tt.injected, tt.info, tt.ok); got != tt.want {
				t.Errorf("commitFrom() = %q, want %q", got, tt.want)
			}
		})
	}
}

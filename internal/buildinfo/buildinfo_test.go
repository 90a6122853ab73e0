package buildinfo

import (
	"strings"
	"testing"
)

func TestBuildInfo_Keys(t *testing.T) {
	info := BuildInfo()
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch", "uptime"} {
		if _, ok := info[k]; !ok {
			t.Errorf("BuildInfo() missing key %q", k)
		}
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, ClientName+"/"+Version) {
		t.Errorf("UserAgent() = %q, want prefix %q", ua, ClientName+"/"+Version)
	}
}

func TestString(t *testing.T) {
	if !strings.Contains(String(), Version) {
		t.Errorf("String() = %q, should contain version %q", String(), Version)
	}
}

package version

import (
	"runtime/debug"
	"testing"
	"time"
)

func TestCurrentPrefersBuildVersion(t *testing.T) {
	old := buildVersion
	buildVersion = "v1.2.3+dirty"
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v1.2.3" {
		t.Fatalf("expected build version, got %q", got)
	}
	if got := CurrentWithDirty(); got != "v1.2.3+dirty" {
		t.Fatalf("expected dirty build version, got %q", got)
	}
}

func TestUserAgent(t *testing.T) {
	old := buildVersion
	buildVersion = "v0.4.0"
	t.Cleanup(func() { buildVersion = old })

	if got := UserAgent(); got != "paveurpath/v0.4.0" {
		t.Fatalf("unexpected user agent %q", got)
	}
}

func TestBuildFromInfoPseudo(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "example.com/fork", Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	b := buildFromInfo(info)
	if b.Module != "example.com/fork" || b.Version != "" {
		t.Fatalf("unexpected build %+v", b)
	}
	if got := b.resolve("", true); got != "v0.0.0-20250102030405-1234567890ab+dirty" {
		t.Fatalf("unexpected dirty pseudo version %q", got)
	}
	if got := b.resolve("", false); got != "v0.0.0-20250102030405-1234567890ab" {
		t.Fatalf("unexpected clean pseudo version %q", got)
	}
}

func TestBuildFromNilInfo(t *testing.T) {
	b := buildFromInfo(nil)
	if b.Module != defaultModule {
		t.Fatalf("expected default module, got %q", b.Module)
	}
	if got := b.resolve("", true); got != unknownVersion {
		t.Fatalf("expected unknown version, got %q", got)
	}
	if got := b.resolve(" v2.0.0 ", false); got != "v2.0.0" {
		t.Fatalf("expected override, got %q", got)
	}
}

// Package version reports the build version of the binary.
package version

import (
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

const (
	defaultModule  = "pkt.systems/paveurpath"
	productName    = "paveurpath"
	unknownVersion = "v0.0.0-unknown"
	dirtySuffix    = "+dirty"
)

// buildVersion is set via -ldflags "-X pkt.systems/paveurpath/internal/version.buildVersion=...".
var buildVersion = ""

// Build is what the binary knows about its own build.
type Build struct {
	Module   string
	Version  string
	Revision string
	Time     time.Time
	Modified bool
}

var readBuild = sync.OnceValue(func() Build {
	info, _ := debug.ReadBuildInfo()
	return buildFromInfo(info)
})

func buildFromInfo(info *debug.BuildInfo) Build {
	b := Build{Module: defaultModule}
	if info == nil {
		return b
	}
	if path := strings.TrimSpace(info.Main.Path); path != "" {
		b.Module = path
	}
	if v := strings.TrimSpace(info.Main.Version); v != "(devel)" {
		b.Version = v
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			b.Revision = setting.Value
		case "vcs.time":
			if parsed, err := time.Parse(time.RFC3339, setting.Value); err == nil {
				b.Time = parsed.UTC()
			}
		case "vcs.modified":
			b.Modified = setting.Value == "true"
		}
	}
	return b
}

// Pseudo returns a Go pseudo-version built from the VCS stamp, or "" when
// the binary was built outside a checkout.
func (b Build) Pseudo(withDirty bool) string {
	if b.Revision == "" || b.Time.IsZero() {
		return ""
	}
	rev := b.Revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	v := "v0.0.0-" + b.Time.Format("20060102150405") + "-" + rev
	if b.Modified && withDirty {
		v += dirtySuffix
	}
	return v
}

func (b Build) resolve(override string, withDirty bool) string {
	v := strings.TrimSpace(override)
	if v == "" {
		v = b.Version
	}
	if v == "" {
		v = b.Pseudo(withDirty)
	}
	if v == "" {
		return unknownVersion
	}
	if !withDirty {
		v = strings.TrimSuffix(v, dirtySuffix)
	}
	return v
}

// Current returns the version without a dirty suffix.
func Current() string {
	return readBuild().resolve(buildVersion, false)
}

// CurrentWithDirty returns the version, marked dirty when built from a
// modified checkout.
func CurrentWithDirty() string {
	return readBuild().resolve(buildVersion, true)
}

// Module returns the main module path.
func Module() string {
	return readBuild().Module
}

// UserAgent returns the User-Agent sent to the backend.
func UserAgent() string {
	return productName + "/" + Current()
}

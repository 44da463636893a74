package version

import (
	"runtime/debug"
	"strings"
	"sync"
)

// Set through -ldflags "-X" by release builds.
var (
	Version = "1.0.0"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
	// Release is true when Commit was stamped at link time.
	Release bool
}

var current = sync.OnceValue(func() Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(Version, Commit, Date, bi)
})

// Get returns the build identity, read once per process.
func Get() Info { return current() }

// Resolve returns the version string shown by `whisperd version` and the
// /version endpoint. Development builds carry a short revision suffix.
func Resolve() string { return current().String() }

func resolve(base, commit, date string, bi *debug.BuildInfo) Info {
	if base == "" {
		base = "0.0.0"
	}

	info := Info{Version: base, Commit: commit, Date: date, Release: commit != ""}
	if info.Release || bi == nil {
		return info
	}

	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			info.Commit = setting.Value
		case "vcs.time":
			info.Date = setting.Value
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		}
	}
	return info
}

func (i Info) String() string {
	if i.Release || i.Commit == "" {
		return i.Version
	}

	var b strings.Builder
	b.WriteString(i.Version)
	b.WriteString("-dev+")
	b.WriteString(shortCommit(i.Commit))
	if i.Modified {
		b.WriteString(".dirty")
	}
	return b.String()
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

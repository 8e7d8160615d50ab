// Package version reports the crossplay build version.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Overridden by ldflags at build time.
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info is the build identity served by /ping and printed by the CLIs.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

var readVCS sync.Once

// Get returns the build info, falling back to the embedded VCS settings when
// ldflags did not set a commit.
func Get() Info {
	readVCS.Do(func() {
		if CommitHash != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				CommitHash = setting.Value
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	})
	return Info{Version: Version, Commit: CommitHash, BuildTime: BuildTime}
}

func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	short := i.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", i.Version, short)
}

// GetInfo returns the formatted version string.
func GetInfo() string {
	return Get().String()
}

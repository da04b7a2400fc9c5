// Package buildinfo exposes the binary's version metadata, set at link time
// or recovered from the embedded VCS build settings.
package buildinfo

import (
	"runtime/debug"
	"strings"
	"time"
)

// Linker-overridable build metadata.
var (
	Version    = "0.1.0"
	CommitHash = ""
	BuildDate  = ""
)

// Info is normalized build metadata for display. Fields are empty when
// nothing is known.
type Info struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// Current returns build metadata from linker overrides, falling back to the
// VCS settings Go embeds in the binary.
func Current() Info {
	info := Info{
		Version:    strings.TrimSpace(Version),
		CommitHash: strings.TrimSpace(CommitHash),
		BuildDate:  strings.TrimSpace(BuildDate),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.CommitHash == "" {
					info.CommitHash = strings.TrimSpace(s.Value)
				}
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = strings.TrimSpace(s.Value)
				}
			}
		}
	}

	if parsed, err := time.Parse(time.RFC3339, info.BuildDate); err == nil {
		info.BuildDate = parsed.UTC().Format("2006-01-02 15:04:05 UTC")
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	return info
}

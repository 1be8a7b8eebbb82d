// Package version provides build and version information for repoindex.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Build information, set via ldflags:
//
//	-X github.com/Aman-CERP/repoindex/pkg/version.Version=$(VERSION)
//
// Binaries built with plain `go install` fall back to the VCS stamp.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"

	// GoVersion is the Go version used to build the binary.
	GoVersion = runtime.Version()
)

// storageModules are the dependencies whose versions decide on-disk formats.
var storageModules = []string{
	"github.com/blevesearch/bleve/v2",
	"modernc.org/sqlite",
}

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// Dependency is a module compiled into the binary.
type Dependency struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// String returns a formatted version string with all build info.
func String() string {
	info := GetInfo()
	return fmt.Sprintf("repoindex %s (commit: %s, built: %s, go: %s)",
		info.Version, info.Commit, info.Date, info.GoVersion)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyVCS(&info, bi.Settings)
	}
	return info
}

// applyVCS fills commit and date from the VCS stamp when ldflags left them
// unset.
func applyVCS(info *BuildInfo, settings []debug.BuildSetting) {
	var revision, modified string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		case "vcs.modified":
			modified = s.Value
		}
	}
	if info.Commit != "unknown" || revision == "" {
		return
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if modified == "true" {
		revision += "-dirty"
	}
	info.Commit = revision
}

// StorageDependencies returns the versions of the index and database
// modules. Empty when the binary carries no module information.
func StorageDependencies() []Dependency {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	var deps []Dependency
	for _, d := range bi.Deps {
		for _, want := range storageModules {
			if d.Path == want || strings.HasPrefix(d.Path, want+"/") {
				deps = append(deps, Dependency{Path: d.Path, Version: d.Version})
			}
		}
	}
	return deps
}

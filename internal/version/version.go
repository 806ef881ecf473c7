// Package version carries build metadata for the collector binary.
package version

import (
	"fmt"
	"runtime"
)

// Component names the binary in logs, the /version endpoint and outbound requests
const Component = "eco-stack-collector"

var (
	// Version is set with -ldflags "-X .../internal/version.Version=..."
	Version = "v0.1.0-dev"
	// GitCommit is the git commit that was compiled
	GitCommit = "unknown"
	// BuildDate is the date the binary was built
	BuildDate = "unknown"
)

// Info is the build metadata served on /version
type Info struct {
	Component string `json:"component"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Component: Component,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the info on one line, as printed by --version
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)",
		i.Component, i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}

// UserAgent identifies the collector in requests to the metrics backend
func UserAgent() string {
	return Component + "/" + Version
}

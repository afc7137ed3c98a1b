package contracts

import (
	"fmt"
	"runtime"
)

const (
	// Version is the release of the service and the processor CLI.
	Version = "0.3.0"

	// DataFormatVersion is the version of the parsed document layout.
	DataFormatVersion = "v1"

	// APIVersion is the version of the HTTP and WebSocket payloads.
	APIVersion = "v1"
)

// Stamped by build.go through -ldflags -X.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

// VersionInfo is the body of GET /api/version.
type VersionInfo struct {
	Version    string `json:"version"`
	BuildTime  string `json:"build_time"`
	GitCommit  string `json:"git_commit"`
	GitBranch  string `json:"git_branch"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
	DataFormat string `json:"data_format"`
	APIVersion string `json:"api_version"`
}

// GetVersionInfo reports the build stamps and runtime platform.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:    Version,
		BuildTime:  BuildTime,
		GitCommit:  GitCommit,
		GitBranch:  GitBranch,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		DataFormat: DataFormatVersion,
		APIVersion: APIVersion,
	}
}

// GetFullVersionString is the one-line form printed by -version.
func GetFullVersionString() string {
	info := GetVersionInfo()
	return fmt.Sprintf("Betfair Intake Pipeline v%s (commit %s on %s, built %s, %s %s)",
		info.Version, info.GitCommit, info.GitBranch, info.BuildTime, info.GoVersion, info.Platform)
}

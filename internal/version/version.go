// Package version holds build information injected with -ldflags.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/gosuri/uitable"
)

// Set at build time:
//
//	-ldflags "-X chatrelay/internal/version.Version=v1.2.0 -X chatrelay/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the build information of the running binary.
func Get() Build {
	return Build{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Info returns a one-line summary.
func Info() string {
	return fmt.Sprintf("chatrelay %s (commit %s, built %s)", Version, Commit, Date)
}

// Text renders b as an aligned table.
func (b Build) Text() string {
	table := uitable.New()
	table.RightAlign(0)
	table.Separator = " "
	table.AddRow("version:", b.Version)
	table.AddRow("commit:", b.Commit)
	table.AddRow("built:", b.Date)
	table.AddRow("go:", b.GoVersion)
	table.AddRow("platform:", b.Platform)
	return table.String()
}

// JSON renders b as indented JSON.
func (b Build) JSON() (string, error) {
	out, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal version info: %w", err)
	}
	return string(out), nil
}

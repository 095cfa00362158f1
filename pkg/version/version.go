// Package version carries build metadata injected with -ldflags:
//
//	-X 'github.com/compozy/strata/pkg/version.Version=v0.3.0'
package version

import "fmt"

var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// Info is the build metadata of the running binary.
type Info struct {
	Version    string `json:"version"     yaml:"version"`
	CommitHash string `json:"commit_hash" yaml:"commit_hash"`
	BuildDate  string `json:"build_date"  yaml:"build_date"`
}

func Get() Info {
	return Info{Version: Version, CommitHash: CommitHash, BuildDate: BuildDate}
}

func (i Info) String() string {
	return fmt.Sprintf("strata %s (commit %s, built %s)", i.Version, i.CommitHash, i.BuildDate)
}

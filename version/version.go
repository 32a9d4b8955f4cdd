// Package version holds build metadata injected via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitRelease is the release tag (set with -X).
	GitRelease = "dev"
	// GitCommit is the commit hash (set with -X).
	GitCommit = "unknown"
	// GitCommitDate is the commit date (set with -X).
	GitCommitDate = "unknown"
	// GoInfo describes the toolchain and platform.
	GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)

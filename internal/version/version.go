/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/rerun_calendar/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the source revision, also set via ldflags.
var Commit = "dev"

// String describes the build.
func String() string {
	return fmt.Sprintf("reruncal %s (%s, %s)", Version, Commit, runtime.Version())
}

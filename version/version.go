// Package version provides the defaults used to identify the engine to peers and trackers.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const modulePath = "github.com/peerhive/swarm"

var (
	// This should be updated when engine behaviour changes in a way that other peers could care
	// about.
	DefaultBep20Prefix = Fingerprint("PH", 0, 1, 0)
	// Module version, or "(devel)" when built from the module itself.
	ModuleVersion = "unknown"

	DefaultHttpUserAgent string
)

func init() {
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range append(buildInfo.Deps, &buildInfo.Main) {
			if strings.HasPrefix(dep.Path, modulePath) {
				ModuleVersion = dep.Version
			}
		}
	}
	DefaultHttpUserAgent = fmt.Sprintf("peerhive-swarm/%v", ModuleVersion)
}

// Package version provides the build version of the module.
package version

import (
	"fmt"
	"runtime"
)

// Build is the semantic version with the build number,
// set at build time with -ldflags.
var Build = "0.1.0-dev"

// Ver describes the build
type Ver struct {
	Build   string
	Runtime string
}

// Current returns the current build version
func Current() Ver {
	return Ver{
		Build:   Build,
		Runtime: runtime.Version(),
	}
}

func (v Ver) String() string {
	return fmt.Sprintf("%s (%s)", v.Build, v.Runtime)
}

// Package version exposes the build version of gruf.
package version

// version is overridden at build time with
// -ldflags "-X github.com/rshade/gruf/pkg/version.version=v1.2.3".
var version = "dev" //nolint:gochecknoglobals // Set via ldflags

// GetVersion returns the build version string.
func GetVersion() string {
	return version
}

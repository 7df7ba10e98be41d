// Package version exposes the version string stamped into release builds.
package version

// version is overridden by the release pipeline:
//
//	go build -ldflags "-X github.com/sidmohan0/kanbun/internal/version.version=v1.2.3"
var version = "dev" //nolint:gochecknoglobals // ldflags target must be package-level

// String reports the build's version, "dev" for local builds.
func String() string {
	return version
}

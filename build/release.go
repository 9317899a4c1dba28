//go:build !testing && !dev
// +build !testing,!dev

package build

const (
	// Release is the type of this build. One of "standard", "dev", or
	// "testing". Packages select constants with build.Select based on it.
	Release = "standard"

	// DEBUG enables sanity-check panics throughout the codebase. It stays on
	// until the network has seen substantially more production time.
	DEBUG = false
)

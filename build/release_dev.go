//go:build dev && !testing
// +build dev,!testing

package build

const (
	// Release is the type of this build.
	Release = "dev"

	// DEBUG enables sanity-check panics throughout the codebase.
	DEBUG = true
)

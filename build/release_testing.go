//go:build testing
// +build testing

package build

const (
	// Release is the type of this build.
	Release = "testing"

	// DEBUG enables sanity-check panics throughout the codebase.
	DEBUG = true
)

// Package persist provides the shared persistence helpers: a file-backed
// logger, versioned JSON save/load, and a metadata-checked bolt wrapper.
package persist

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"

	"github.com/NebulousLabs/fastrand"
	"github.com/mitchellh/go-homedir"

	"github.com/oib/AITBC-sub002/build"
)

var (
	// ErrBadVersion indicates that the version number of the file is not
	// the version number expected.
	ErrBadVersion = errors.New("incompatible version")
	// ErrBadHeader indicates that the file opened is not the file that was
	// expected.
	ErrBadHeader = errors.New("wrong header")
)

// Metadata contains the header and version of the data being stored.
type Metadata struct {
	Header, Version string
}

// HomeFolder returns the default data directory.
var HomeFolder = func() string {
	// use a special folder during testing
	if build.Release == "testing" {
		return filepath.Join(build.TestingDir, "home")
	}

	home, err := homedir.Dir()
	if err != nil {
		build.Critical("could not find homedir: " + err.Error())
		return ""
	}
	return filepath.Join(home, ".config", "aitbc")
}()

// RandomSuffix returns a 20 character hex suffix for a filename.
func RandomSuffix() string {
	return hex.EncodeToString(fastrand.Bytes(10))
}

// MkdirAll creates a directory (and parents) with sane permissions.
func MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0700)
}

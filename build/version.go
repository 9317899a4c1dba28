package build

const (
	// Version is the current version of aitbcd.
	Version = "0.4.2"
)

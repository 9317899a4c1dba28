package build

import (
	"fmt"
	"os"
)

// Critical reports a broken invariant. Standard builds log to stderr and keep
// running; debug builds panic so the failure surfaces at the corruption site
// instead of somewhere downstream.
func Critical(v ...interface{}) {
	s := "critical: " + fmt.Sprintln(v...)
	if DEBUG {
		panic(s)
	}
	os.Stderr.WriteString(s)
}

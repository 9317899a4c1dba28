package persist

import (
	"log"
	"os"

	"github.com/oib/AITBC-sub002/build"
)

// A Logger writes a module's log to its own file with the standard flag set.
// Every module takes one; grepping a single module's log file is the primary
// debugging tool of a multi-module daemon.
type Logger struct {
	*log.Logger
	file *closeableFile
}

// NewLogger opens (or appends to) the log file at logFilename. The logger
// must not be used after Close.
func NewLogger(logFilename string) (*Logger, error) {
	logFile, err := os.OpenFile(logFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return nil, err
	}
	cf := &closeableFile{File: logFile}
	l := log.New(cf, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile|log.LUTC)
	l.Println("STARTUP: Logging has started.")
	return &Logger{Logger: l, file: cf}, nil
}

// Close syncs and closes the log file.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN: Logging has terminated.")
	return l.file.Close()
}

// Critical logs a message with a CRITICAL prefix and escalates it through
// build.Critical, which panics in debug builds.
func (l *Logger) Critical(v ...interface{}) {
	l.Print(append([]interface{}{"CRITICAL:"}, v...)...)
	build.Critical(v...)
}

// closeableFile guards an os.File against use after Close. Writes to a closed
// log would be silently lost; in debug builds they panic instead.
type closeableFile struct {
	*os.File
	closed bool
}

// Close syncs the file to disk before closing it.
func (cf *closeableFile) Close() error {
	if build.DEBUG && cf.closed {
		panic("cannot close the file; already closed")
	}
	if err := cf.Sync(); err != nil {
		return err
	}
	cf.closed = true
	return cf.File.Close()
}

// Write writes b to the underlying file.
func (cf *closeableFile) Write(b []byte) (int, error) {
	if build.DEBUG && cf.closed {
		panic("cannot write to the file after it has been closed")
	}
	return cf.File.Write(b)
}

// Package filesys provides the small file system abstraction used by the
// configuration loader and the resolver discovery code. Delegating to an
// interface instead of the os package directly keeps those callers
// unit-testable with an in-memory or mocked file system.
package filesys

import (
	"io/fs"
	"os"
)

// FS is the tiny surface the config loader and resolv.conf reader need.
// It is intentionally smaller than the os package: callers only ever read
// whole files and ensure directories exist.
type FS interface {
	Stat(string) (fs.FileInfo, error)
	MkdirAll(string, os.FileMode) error
	Open(string) (*os.File, error)
	ReadFile(string) ([]byte, error)
}

// OS returns a file system implementation that delegates to the standard
// library.
func OS() OsFS {
	return OsFS{}
}

// OsFS implements FS against the local disk.
type OsFS struct{}

var _ FS = OsFS{}

func (OsFS) Stat(p string) (fs.FileInfo, error)     { return os.Stat(p) }
func (OsFS) MkdirAll(p string, m os.FileMode) error { return os.MkdirAll(p, m) }
func (OsFS) Open(p string) (*os.File, error)        { return os.Open(p) }
func (OsFS) ReadFile(p string) ([]byte, error)      { return os.ReadFile(p) }

package bwfs

import (
	"errors"
	"io/fs"
	"time"
)

// Sentinel errors.
var (
	// ErrReadOnly is returned by every mutating operation on an archive filesystem.
	ErrReadOnly = errors.New("bwfs: read-only filesystem")

	// ErrNotDirectory is returned when a directory operation is applied to a file.
	ErrNotDirectory = errors.New("bwfs: not a directory")

	// ErrIsDirectory is returned when a file operation is applied to a directory.
	ErrIsDirectory = errors.New("bwfs: is a directory")

	// ErrCRCMismatch is returned when file content does not match its recorded CRC32.
	ErrCRCMismatch = errors.New("bwfs: crc32 verification failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("bwfs: size overflow")
)

// FS is the read contract shared by all archive filesystems in this module.
//
// Paths follow io/fs conventions: slash-separated, no leading slash, "." for
// the root. Use [NormalizePath] to convert user-supplied paths.
type FS interface {
	fs.FS
	fs.StatFS
	fs.ReadDirFS
	fs.ReadFileFS

	// Exists reports whether a file or directory exists at the given path.
	Exists(name string) bool
}

// ReadOnly provides the mutating half of the filesystem surface for archive
// types that embed it. Every method fails with ErrReadOnly.
type ReadOnly struct{}

func (ReadOnly) Create(name string) error { return roErr("create", name) }
func (ReadOnly) Mkdir(name string) error  { return roErr("mkdir", name) }
func (ReadOnly) Remove(name string) error { return roErr("remove", name) }

func (ReadOnly) Rename(oldname, _ string) error { return roErr("rename", oldname) }

func (ReadOnly) Chtimes(name string, _, _ time.Time) error { return roErr("chtimes", name) }

func roErr(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: ErrReadOnly}
}

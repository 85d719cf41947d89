package bwfs

import (
	"io/fs"
	"time"
)

// FileInfo implements fs.FileInfo for archive files.
//
// The archive formats record no modes or timestamps, so files report a fixed
// read-only mode and the zero time.
type FileInfo struct {
	name string
	size int64
}

// NewFileInfo creates a FileInfo with the given base name and size.
func NewFileInfo(name string, size int64) *FileInfo {
	return &FileInfo{name: name, size: size}
}

func (fi *FileInfo) Name() string       { return fi.name }
func (fi *FileInfo) Size() int64        { return fi.size }
func (fi *FileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi *FileInfo) ModTime() time.Time { return time.Time{} }
func (fi *FileInfo) IsDir() bool        { return false }
func (fi *FileInfo) Sys() any           { return nil }

// DirInfo implements fs.FileInfo for synthetic directories.
// Directories are synthesized from entry paths; the formats never store them.
type DirInfo struct {
	name string
}

// NewDirInfo creates a DirInfo with the given name.
func NewDirInfo(name string) *DirInfo {
	return &DirInfo{name: name}
}

func (di *DirInfo) Name() string       { return di.name }
func (di *DirInfo) Size() int64        { return 0 }
func (di *DirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di *DirInfo) ModTime() time.Time { return time.Time{} }
func (di *DirInfo) IsDir() bool        { return true }
func (di *DirInfo) Sys() any           { return nil }

// DirEntry implements fs.DirEntry by wrapping fs.FileInfo.
type DirEntry struct {
	info fs.FileInfo
}

// NewDirEntry creates a DirEntry wrapping the given FileInfo.
func NewDirEntry(info fs.FileInfo) *DirEntry {
	return &DirEntry{info: info}
}

func (de *DirEntry) Name() string               { return de.info.Name() }
func (de *DirEntry) IsDir() bool                { return de.info.IsDir() }
func (de *DirEntry) Type() fs.FileMode          { return de.info.Mode().Type() }
func (de *DirEntry) Info() (fs.FileInfo, error) { return de.info, nil }

package bwfs

import (
	"bytes"
	"io"
	"io/fs"
)

// MemFile implements fs.File over fully decoded content. Archive payloads are
// decompressed (or sliced out of the owning buffer) at open time, so random
// access costs nothing extra.
type MemFile struct {
	name string
	r    *bytes.Reader
}

// Interface compliance.
var (
	_ fs.File     = (*MemFile)(nil)
	_ io.ReaderAt = (*MemFile)(nil)
	_ io.Seeker   = (*MemFile)(nil)
)

// NewMemFile creates a MemFile with the given base name over content.
// The file aliases content; callers must not modify it.
func NewMemFile(name string, content []byte) *MemFile {
	return &MemFile{name: name, r: bytes.NewReader(content)}
}

func (f *MemFile) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *MemFile) ReadAt(p []byte, off int64) (int, error) { return f.r.ReadAt(p, off) }

func (f *MemFile) Seek(offset int64, whence int) (int64, error) { return f.r.Seek(offset, whence) }

func (f *MemFile) Stat() (fs.FileInfo, error) {
	return NewFileInfo(f.name, f.r.Size()), nil
}

func (f *MemFile) Close() error { return nil }

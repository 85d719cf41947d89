package archive

import (
	"io"
	"io/fs"

	"github.com/bwtools/bwfs"
	"github.com/bwtools/bwfs/internal/pathutil"
)

// openDir implements fs.ReadDirFile for tree directories.
type openDir struct {
	a    *Archive
	name string
	pos  int
}

var _ fs.ReadDirFile = (*openDir)(nil)

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return bwfs.NewDirInfo(pathutil.Base(d.name)), nil
}

func (d *openDir) Close() error { return nil }

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := d.a.dirEntries(d.name, d.pos, n)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: d.name, Err: err}
	}
	d.pos += len(entries)
	if n > 0 && len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

// Package archive serves the merged .idx file tree as a read-only filesystem,
// fetching payload bytes from .pkg volumes through a volume.Source and
// decompressing on read.
package archive

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"iter"
	"log/slog"

	"github.com/klauspost/compress/flate"

	"github.com/bwtools/bwfs"
	"github.com/bwtools/bwfs/idx"
	"github.com/bwtools/bwfs/internal/pathutil"
	"github.com/bwtools/bwfs/internal/sizing"
	"github.com/bwtools/bwfs/volume"
)

// DefaultMaxFileSize is the default per-file size limit (256MB).
const DefaultMaxFileSize = 256 << 20

// Archive is a read-only filesystem over (file tree, volume source).
//
// Lookups are stateless queries against the tree; payload bytes are fetched
// lazily from the source on each read and decompressed when the entry's
// compression flag is set.
type Archive struct {
	bwfs.ReadOnly
	tree        *idx.Tree
	source      volume.Source
	verifyCRC   bool
	maxFileSize uint64
	logger      *slog.Logger
}

// Interface compliance.
var _ bwfs.FS = (*Archive)(nil)

// Option configures an Archive.
type Option func(*Archive)

// WithVerifyCRC enables CRC32 verification of every decompressed payload
// against the checksum recorded in the index. Disabled by default.
func WithVerifyCRC(enabled bool) Option {
	return func(a *Archive) {
		a.verifyCRC = enabled
	}
}

// WithMaxFileSize limits the maximum per-file size (packed and unpacked).
// Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(a *Archive) {
		a.maxFileSize = limit
	}
}

// WithLogger sets the logger for extraction diagnostics. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = l
	}
}

// New creates an Archive over a merged tree and a volume source.
func New(tree *idx.Tree, source volume.Source, opts ...Option) *Archive {
	a := &Archive{
		tree:        tree,
		source:      source,
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open implements fs.FS.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	entry, ok := a.tree.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if entry.Kind == idx.KindDirectory {
		return &openDir{a: a, name: name}, nil
	}
	content, err := a.read(entry.Loc)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return bwfs.NewMemFile(pathutil.Base(name), content), nil
}

// ReadFile implements fs.ReadFileFS. The content is decompressed if necessary
// and returned in full.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	entry, ok := a.tree.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	if entry.Kind == idx.KindDirectory {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: bwfs.ErrIsDirectory}
	}
	content, err := a.read(entry.Loc)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return content, nil
}

// Stat implements fs.StatFS. File length is the uncompressed size;
// directory length is 0.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	entry, ok := a.tree.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	if entry.Kind == idx.KindDirectory {
		return bwfs.NewDirInfo(pathutil.Base(name)), nil
	}
	return bwfs.NewFileInfo(pathutil.Base(name), int64(entry.Loc.UnpackedSize)), nil
}

// ReadDir implements fs.ReadDirFS using the child lists synthesized at tree
// build time.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	entries, err := a.dirEntries(name, 0, -1)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return entries, nil
}

// Exists reports whether a file or directory exists at the given path.
func (a *Archive) Exists(name string) bool {
	_, ok := a.tree.Lookup(name)
	return ok
}

// Entries iterates over every tree entry in sorted path order.
func (a *Archive) Entries() iter.Seq2[string, idx.Entry] {
	return a.tree.All()
}

// dirEntries returns up to n child entries of a directory starting at pos;
// n < 0 means all.
func (a *Archive) dirEntries(name string, pos, n int) ([]fs.DirEntry, error) {
	entry, ok := a.tree.Lookup(name)
	if !ok {
		return nil, fs.ErrNotExist
	}
	if entry.Kind != idx.KindDirectory {
		return nil, bwfs.ErrNotDirectory
	}
	children, ok := a.tree.Children(name)
	if !ok {
		// A directory with no recorded children (possible only for leaves
		// classified as directories) lists as empty.
		children = nil
	}
	if pos > len(children) {
		pos = len(children)
	}
	children = children[pos:]
	if n >= 0 && n < len(children) {
		children = children[:n]
	}

	prefix := pathutil.DirPrefix(name)
	entries := make([]fs.DirEntry, 0, len(children))
	for _, child := range children {
		childEntry, _ := a.tree.Lookup(prefix + child)
		if childEntry.Kind == idx.KindFile {
			info := bwfs.NewFileInfo(child, int64(childEntry.Loc.UnpackedSize))
			entries = append(entries, bwfs.NewDirEntry(info))
		} else {
			entries = append(entries, bwfs.NewDirEntry(bwfs.NewDirInfo(child)))
		}
	}
	return entries, nil
}

// read fetches and decodes one file's payload.
func (a *Archive) read(loc idx.Location) ([]byte, error) {
	if a.maxFileSize > 0 {
		if uint64(loc.PackedSize) > a.maxFileSize || uint64(loc.UnpackedSize) > a.maxFileSize {
			return nil, bwfs.ErrSizeOverflow
		}
	}
	off, err := sizing.ToInt64(loc.Offset, bwfs.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	raw, err := a.source.Prime(loc.Volume, off, int64(loc.PackedSize))
	if err != nil {
		return nil, err
	}

	content := raw
	if loc.Compression != 0 {
		if content, err = inflate(raw, loc.UnpackedSize); err != nil {
			return nil, err
		}
	}

	if a.verifyCRC && crc32.ChecksumIEEE(content) != loc.CRC32 {
		return nil, bwfs.ErrCRCMismatch
	}
	return content, nil
}

// inflate DEFLATE-decodes raw and returns exactly unpackedSize bytes.
func inflate(raw []byte, unpackedSize uint32) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()

	out := make([]byte, unpackedSize)
	if _, err := io.ReadFull(fr, out); err != nil {
		return nil, fmt.Errorf("archive: inflate: %w", err)
	}
	return out, nil
}

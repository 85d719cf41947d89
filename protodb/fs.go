package protodb

import (
	"io"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/bwtools/bwfs"
	"github.com/bwtools/bwfs/internal/pathutil"
)

// span is a pre-computed byte range within the owned assets.bin buffer.
type span struct {
	start uint64
	end   uint64
}

// DB exposes prototype records as virtual files.
//
// Each file's content runs from the record's own start through the end of the
// containing blob, not just the fixed record size: records embed relative
// pointers into the blob's tail, and handing a downstream record parser the
// full tail keeps those pointers resolvable.
//
// The DB exclusively owns the assets.bin buffer; the parsed structures are
// discarded after index construction and only the raw bytes plus the path
// index are retained.
type DB struct {
	bwfs.ReadOnly
	data    []byte
	files   map[string]span
	dirs    map[string][]string
	skipped int
	logger  *slog.Logger
}

// Interface compliance.
var _ bwfs.FS = (*DB)(nil)

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger for per-entry index anomalies. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(d *DB) {
		d.logger = l
	}
}

// New parses assets.bin data and builds the virtual filesystem over it.
//
// Path entries whose prototype location cannot be resolved are skipped rather
// than failing the mount: the database legitimately contains dangling path
// entries with no prototype. Skips are logged and counted (see Skipped).
// Dangling entries still contribute their parent directories, so listings
// stay complete; the dangling leaf itself is not registered, because it would
// shadow the same path served from the pkg archives in an overlay.
func New(data []byte, opts ...Option) (*DB, error) {
	db, err := Parse(data)
	if err != nil {
		return nil, err
	}

	d := &DB{
		data:   data,
		files:  make(map[string]span),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.buildIndex(db)
	return d, nil
}

func (d *DB) buildIndex(db *Database) {
	paths := db.newPathIndex()
	childSets := map[string]map[string]bool{".": {}}

	registerAncestors := func(path string) {
		// Walk upward inserting each path component into its parent's
		// child set.
		cur := path
		for {
			parent := pathutil.Dir(cur)
			set := childSets[parent]
			if set == nil {
				set = make(map[string]bool)
				childSets[parent] = set
			}
			set[pathutil.Base(cur)] = true
			if parent == "." {
				return
			}
			cur = parent
		}
	}

	for i, entry := range db.Paths {
		loc, ok := db.LookupRecord(entry.SelfID)
		if !ok {
			// No prototype; register parent directories only.
			if path := paths.path(db, i); path != "" {
				if dir := pathutil.Dir(path); dir != "." {
					registerAncestors(dir)
				}
			}
			continue
		}

		itemSize, ok := RecordSize(loc.BlobIndex)
		if !ok || loc.BlobIndex >= len(db.Blobs) {
			d.skip("blob index out of range", i, entry.SelfID)
			continue
		}
		blob := db.Blobs[loc.BlobIndex]
		recordOff := blob.Start + blobHeaderSize + uint64(loc.RecordIndex)*itemSize
		if recordOff+itemSize > blob.End {
			d.skip("record range exceeds blob", i, entry.SelfID)
			continue
		}

		path := paths.path(db, i)
		if path == "" {
			d.skip("empty reconstructed path", i, entry.SelfID)
			continue
		}

		d.files[path] = span{start: recordOff, end: blob.End}
		registerAncestors(path)
	}

	d.dirs = make(map[string][]string, len(childSets))
	for dir, set := range childSets {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		d.dirs[dir] = names
	}
}

func (d *DB) skip(reason string, slot int, selfID uint64) {
	d.skipped++
	d.logger.Debug("skipping path entry", "reason", reason, "slot", slot, "self_id", selfID)
}

// Skipped returns the number of path entries dropped while building the index.
func (d *DB) Skipped() int {
	return d.skipped
}

// Len returns the number of file entries.
func (d *DB) Len() int {
	return len(d.files)
}

// Open implements fs.FS.
func (d *DB) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if loc, ok := d.files[name]; ok {
		return bwfs.NewMemFile(pathutil.Base(name), d.data[loc.start:loc.end]), nil
	}
	if _, ok := d.dirs[name]; ok {
		return &openDir{d: d, name: name}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// ReadFile implements fs.ReadFileFS. The returned bytes are copied out of the
// owned buffer.
func (d *DB) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	loc, ok := d.files[name]
	if !ok {
		if _, isDir := d.dirs[name]; isDir {
			return nil, &fs.PathError{Op: "readfile", Path: name, Err: bwfs.ErrIsDirectory}
		}
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	content := make([]byte, loc.end-loc.start)
	copy(content, d.data[loc.start:loc.end])
	return content, nil
}

// Stat implements fs.StatFS.
func (d *DB) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if loc, ok := d.files[name]; ok {
		return bwfs.NewFileInfo(pathutil.Base(name), int64(loc.end-loc.start)), nil
	}
	if _, ok := d.dirs[name]; ok {
		return bwfs.NewDirInfo(pathutil.Base(name)), nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS.
func (d *DB) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	entries, err := d.dirEntries(name, 0, -1)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return entries, nil
}

// Exists reports whether a file or directory exists at the given path.
func (d *DB) Exists(name string) bool {
	if _, ok := d.files[name]; ok {
		return true
	}
	_, ok := d.dirs[name]
	return ok
}

// Files returns every file path in sorted order.
func (d *DB) Files() []string {
	paths := make([]string, 0, len(d.files))
	for p := range d.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (d *DB) dirEntries(name string, pos, n int) ([]fs.DirEntry, error) {
	children, ok := d.dirs[name]
	if !ok {
		if _, isFile := d.files[name]; isFile {
			return nil, bwfs.ErrNotDirectory
		}
		return nil, fs.ErrNotExist
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
		if loc, ok := d.files[prefix+child]; ok {
			info := bwfs.NewFileInfo(child, int64(loc.end-loc.start))
			entries = append(entries, bwfs.NewDirEntry(info))
		} else {
			entries = append(entries, bwfs.NewDirEntry(bwfs.NewDirInfo(child)))
		}
	}
	return entries, nil
}

// openDir implements fs.ReadDirFile for database directories.
type openDir struct {
	d    *DB
	name string
	pos  int
}

var _ fs.ReadDirFile = (*openDir)(nil)

func (o *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: o.name, Err: fs.ErrInvalid}
}

func (o *openDir) Stat() (fs.FileInfo, error) {
	return bwfs.NewDirInfo(pathutil.Base(o.name)), nil
}

func (o *openDir) Close() error { return nil }

func (o *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := o.d.dirEntries(o.name, o.pos, n)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: o.name, Err: err}
	}
	o.pos += len(entries)
	if n > 0 && len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

package bwfs

import (
	"io/fs"
	"sort"
)

// Overlay composes an ordered list of filesystems so that a lookup tries each
// layer in order and the first layer containing the path wins. This lets the
// prototype database's view of content paths shadow the same paths inside the
// pkg archives.
//
// Directory listings merge children from every layer holding the directory;
// on a name collision the earliest layer's entry is kept.
type Overlay struct {
	ReadOnly
	layers []FS
}

// Interface compliance.
var _ FS = (*Overlay)(nil)

// NewOverlay creates an overlay over the given layers, outermost first.
func NewOverlay(layers ...FS) *Overlay {
	return &Overlay{layers: layers}
}

// Open implements fs.FS. The first layer containing the path serves it.
func (o *Overlay) Open(name string) (fs.File, error) {
	if l := o.owner(name); l != nil {
		return l.Open(name)
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
func (o *Overlay) Stat(name string) (fs.FileInfo, error) {
	if l := o.owner(name); l != nil {
		return l.Stat(name)
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadFile implements fs.ReadFileFS.
func (o *Overlay) ReadFile(name string) ([]byte, error) {
	if l := o.owner(name); l != nil {
		return l.ReadFile(name)
	}
	return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS, merging children across all layers that
// contain the directory.
func (o *Overlay) ReadDir(name string) ([]fs.DirEntry, error) {
	var (
		merged []fs.DirEntry
		seen   map[string]bool
		found  bool
	)
	for _, l := range o.layers {
		entries, err := l.ReadDir(name)
		if err != nil {
			continue
		}
		found = true
		if merged == nil {
			merged = entries
			continue
		}
		if seen == nil {
			seen = make(map[string]bool, len(merged))
			for _, e := range merged {
				seen[e.Name()] = true
			}
		}
		for _, e := range entries {
			if !seen[e.Name()] {
				seen[e.Name()] = true
				merged = append(merged, e)
			}
		}
	}
	if !found {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Name() < merged[j].Name() })
	return merged, nil
}

// Exists reports whether any layer contains the path.
func (o *Overlay) Exists(name string) bool {
	return o.owner(name) != nil
}

// owner returns the first layer containing name, or nil.
func (o *Overlay) owner(name string) FS {
	for _, l := range o.layers {
		if l.Exists(name) {
			return l
		}
	}
	return nil
}

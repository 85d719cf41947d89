package idx

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
)

// Sentinel errors for path resolution.
var (
	// ErrMissingResource is returned when a parent chain references an id
	// absent from the merged resource table.
	ErrMissingResource = errors.New("idx: resource id not found")

	// ErrPathCycle is returned when a parent chain loops instead of
	// terminating at the root sentinel.
	ErrPathCycle = errors.New("idx: cycle in parent chain")
)

// Resolver reconstructs full slash-separated paths from parent-id chains.
// Resolved paths are memoized, so repeated and cross-referenced resolutions
// are O(1) amortized.
type Resolver struct {
	records map[uint64]ResourceRecord
	cache   map[uint64]string
}

// NewResolver creates a Resolver over the full id → record map.
func NewResolver(records map[uint64]ResourceRecord) *Resolver {
	return &Resolver{
		records: records,
		cache:   make(map[uint64]string, len(records)),
	}
}

// Resolve returns the full path of a resource, with a leading slash and no
// duplicated separators ("/content/foo.mfm").
//
// The parent chain is walked iteratively with an explicit stack rather than
// by recursion, so deep or adversarial chains cannot exhaust the call stack.
// A chain that loops fails with ErrPathCycle; an id missing from the table
// fails with ErrMissingResource.
func (r *Resolver) Resolve(id uint64) (string, error) {
	if p, ok := r.cache[id]; ok {
		return p, nil
	}

	// Walk upward collecting the uncached portion of the chain.
	var stack []uint64
	visited := make(map[uint64]bool)
	cur := id
	for {
		if visited[cur] {
			return "", fmt.Errorf("%w: id 0x%X", ErrPathCycle, cur)
		}
		visited[cur] = true

		rec, ok := r.records[cur]
		if !ok {
			return "", fmt.Errorf("%w: 0x%X", ErrMissingResource, cur)
		}
		stack = append(stack, cur)
		if rec.ParentID == RootSentinel {
			break
		}
		if p, ok := r.cache[rec.ParentID]; ok {
			// Seed from the memoized ancestor instead of walking further.
			return r.fill(p, stack), nil
		}
		cur = rec.ParentID
	}
	return r.fill("", stack), nil
}

// fill unwinds the collected chain, caching each intermediate path.
// stack holds ids from the requested resource up to (and including) the
// first resource whose parent path is parentPath.
func (r *Resolver) fill(parentPath string, stack []uint64) string {
	path := parentPath
	for i := len(stack) - 1; i >= 0; i-- {
		id := stack[i]
		path = path + "/" + r.records[id].Filename
		r.cache[id] = path
	}
	return path
}

// EntryKind classifies a tree entry.
type EntryKind uint8

const (
	// KindDirectory marks entries with no payload: explicit directory
	// resources, resources lacking file info or a resolvable volume, and
	// synthesized ancestors.
	KindDirectory EntryKind = iota
	// KindFile marks entries with both a file-info record and a volume.
	KindFile
)

// Location locates a file's payload bytes, with the volume id already
// resolved to the .pkg filename.
type Location struct {
	Volume       string
	Offset       uint64
	PackedSize   uint32
	UnpackedSize uint32
	Compression  uint64
	CRC32        uint32
}

// Entry is one node of the merged file tree. Loc is meaningful only for
// KindFile entries.
type Entry struct {
	Kind EntryKind
	Loc  Location
}

// Tree is the flat path → entry map merged from any number of parsed .idx
// files, with every intermediate ancestor directory synthesized. Keys follow
// io/fs conventions: no leading slash, "." for the root.
type Tree struct {
	entries  map[string]Entry
	children map[string][]string
}

// TreeOption configures BuildTree.
type TreeOption func(*treeConfig)

type treeConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for non-fatal anomalies (duplicate volume
// ids across merged files). Defaults to discarding.
func WithLogger(l *slog.Logger) TreeOption {
	return func(c *treeConfig) {
		c.logger = l
	}
}

// BuildTree merges the tables of the given parsed .idx files into one tree.
//
// A resource is classified as a file only when it has both a file-info record
// and a resolvable volume; everything else is a directory. Duplicate volume
// ids across files are a non-fatal anomaly: the last one wins and a warning
// is logged. An unresolvable parent chain is a fatal inconsistency.
func BuildTree(files []*File, opts ...TreeOption) (*Tree, error) {
	cfg := treeConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	var count int
	for _, f := range files {
		count += len(f.Resources)
	}

	resources := make(map[uint64]ResourceRecord, count)
	fileInfos := make(map[uint64]FileInfoRecord, count)
	volumes := make(map[uint64]VolumeRecord)
	for _, f := range files {
		for _, r := range f.Resources {
			resources[r.ID] = r
		}
		for _, fi := range f.FileInfos {
			fileInfos[fi.ResourceID] = fi
		}
		for _, v := range f.Volumes {
			if prev, dup := volumes[v.VolumeID]; dup && prev.Filename != v.Filename {
				cfg.logger.Warn("duplicate volume id",
					"volume_id", v.VolumeID, "kept", v.Filename, "replaced", prev.Filename)
			}
			volumes[v.VolumeID] = v
		}
	}

	resolver := NewResolver(resources)
	t := &Tree{
		entries:  make(map[string]Entry, count),
		children: make(map[string][]string),
	}

	for id := range resources {
		path, err := resolver.Resolve(id)
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(path, "/")
		if name == "" {
			continue
		}

		entry := Entry{Kind: KindDirectory}
		if fi, ok := fileInfos[id]; ok {
			if vol, ok := volumes[fi.VolumeID]; ok {
				entry = Entry{
					Kind: KindFile,
					Loc: Location{
						Volume:       vol.Filename,
						Offset:       fi.Offset,
						PackedSize:   fi.PackedSize,
						UnpackedSize: fi.UnpackedSize,
						Compression:  fi.Compression,
						CRC32:        fi.CRC32,
					},
				}
			}
		}
		t.entries[name] = entry
	}

	t.synthesize()
	return t, nil
}

// synthesize inserts every ancestor directory implied by the leaf paths and
// builds per-directory child lists, so ReadDir at any level needs no second
// pass over the original tables.
func (t *Tree) synthesize() {
	childSets := make(map[string]map[string]bool)
	addChild := func(dir, name string) {
		set := childSets[dir]
		if set == nil {
			set = make(map[string]bool)
			childSets[dir] = set
		}
		set[name] = true
	}

	for path := range t.entries {
		parts := strings.Split(path, "/")
		dir := "."
		for _, part := range parts[:len(parts)-1] {
			addChild(dir, part)
			if dir == "." {
				dir = part
			} else {
				dir = dir + "/" + part
			}
			if _, ok := t.entries[dir]; !ok {
				t.entries[dir] = Entry{Kind: KindDirectory}
			}
		}
		addChild(dir, parts[len(parts)-1])
	}

	for dir, set := range childSets {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		t.children[dir] = names
	}
	if t.children["."] == nil {
		t.children["."] = []string{}
	}
}

// Lookup returns the entry at an fs-style path.
func (t *Tree) Lookup(name string) (Entry, bool) {
	if name == "." {
		return Entry{Kind: KindDirectory}, true
	}
	e, ok := t.entries[name]
	return e, ok
}

// Children returns the sorted immediate child names of a directory.
// ok is false when the path is not a known directory.
func (t *Tree) Children(name string) (names []string, ok bool) {
	names, ok = t.children[name]
	return names, ok
}

// Len returns the number of entries, excluding the synthetic root.
func (t *Tree) Len() int {
	return len(t.entries)
}

// All iterates over every entry in sorted path order.
func (t *Tree) All() iter.Seq2[string, Entry] {
	paths := make([]string, 0, len(t.entries))
	for p := range t.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return func(yield func(string, Entry) bool) {
		for _, p := range paths {
			if !yield(p, t.entries[p]) {
				return
			}
		}
	}
}

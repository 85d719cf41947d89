// Package protodb parses the assets.bin prototype database and serves its
// typed records as virtual files.
//
// assets.bin is a single self-contained container ("BWDB"): a string pool
// behind an offsets hashmap, a resource-to-prototype hashmap, a pathsStorage
// array forming a path tree, and a fixed set of typed record blobs. Every
// section stores its payload behind a relative pointer resolved against the
// section structure itself, not the file start.
package protodb

import (
	"errors"
	"fmt"

	"github.com/bwtools/bwfs/internal/binread"
)

// Magic is "BWDB" as a little-endian u32.
const Magic uint32 = 0x42574442

// Version is the only supported container version.
const Version uint32 = 0x01010000

const (
	// bodyBase is where the body header starts; the 16-byte file header
	// precedes it.
	bodyBase uint64 = 0x10

	// Section structure offsets within the body header. Each section's
	// relative pointers resolve against its own structure, except the
	// databases pointer which resolves against the body base.
	stringsBase   = bodyBase        // 0x28 bytes
	r2pBase       = bodyBase + 0x28 // 0x18 bytes
	pathsBase     = bodyBase + 0x40 // 0x10 bytes
	databasesBase = bodyBase + 0x50 // 0x10 bytes

	pathEntrySize  = 32
	dbEntrySize    = 0x18
	blobHeaderSize = 16
)

// recordSizes gives the fixed record byte size for each blob index:
// material, visual, skeleton extender, model, point light, effect,
// velocity field, effect preset, effect metadata, atlas contour.
var recordSizes = [...]uint64{
	0x78, 0x70, 0x20, 0x28, 0x70, 0x10, 0x18, 0x10, 0x10, 0x10,
}

// Sentinel errors.
var (
	// ErrBadMagic is returned when a file does not start with the BWDB magic.
	ErrBadMagic = errors.New("protodb: bad magic")

	// ErrBadVersion is returned for an unsupported container version.
	ErrBadVersion = errors.New("protodb: unsupported version")
)

// Header is the 16-byte file header.
type Header struct {
	Magic        uint32
	Version      uint32
	Checksum     uint32
	Architecture uint16
	Endianness   uint16
}

// PathsEntry is one node of the path tree. The parent chain terminates at an
// implicit empty-string root.
type PathsEntry struct {
	SelfID   uint64
	ParentID uint64
	Name     string
}

// Blob is one typed record array. Start and End are absolute byte offsets of
// its data within the file; the first blobHeaderSize bytes are the blob's own
// header, records follow at a fixed stride per blob index.
type Blob struct {
	Magic    uint32
	Checksum uint32
	Size     uint32
	Start    uint64
	End      uint64
}

// Strings is the string pool with its id → pool-offset map.
type Strings struct {
	offsets map[uint64]uint32
	pool    []byte
}

// Lookup returns the NUL-terminated pool string registered under id.
func (s *Strings) Lookup(id uint64) (string, bool) {
	off, ok := s.offsets[id]
	if !ok || uint64(off) >= uint64(len(s.pool)) {
		return "", false
	}
	rest := s.pool[off:]
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i]), true
		}
	}
	return string(rest), true
}

// Len returns the number of registered strings.
func (s *Strings) Len() int {
	return len(s.offsets)
}

// Database is a parsed assets.bin container. All views borrow from the buffer
// passed to Parse; the Database is immutable after parsing.
type Database struct {
	Header  Header
	Strings Strings
	Paths   []PathsEntry
	Blobs   []Blob

	r2p map[uint64]uint32
	buf binread.Buf
}

// Parse decodes an assets.bin container. The returned Database retains data;
// callers must not modify it.
func Parse(data []byte) (*Database, error) {
	buf := binread.New(data)

	hdr, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}

	db := &Database{Header: hdr, buf: buf}

	if err := db.parseStrings(); err != nil {
		return nil, fmt.Errorf("protodb: strings: %w", err)
	}
	if err := db.parseR2P(); err != nil {
		return nil, fmt.Errorf("protodb: resource map: %w", err)
	}
	if err := db.parsePaths(); err != nil {
		return nil, fmt.Errorf("protodb: paths storage: %w", err)
	}
	if err := db.parseBlobs(); err != nil {
		return nil, fmt.Errorf("protodb: databases: %w", err)
	}
	return db, nil
}

func parseHeader(buf binread.Buf) (Header, error) {
	var hdr Header
	if _, err := buf.Slice(0, bodyBase); err != nil {
		return hdr, fmt.Errorf("protodb: header: %w", err)
	}
	hdr.Magic, _ = buf.U32(0)
	hdr.Version, _ = buf.U32(4)
	hdr.Checksum, _ = buf.U32(8)
	hdr.Architecture, _ = buf.U16(12)
	hdr.Endianness, _ = buf.U16(14)

	if hdr.Magic != Magic {
		return hdr, fmt.Errorf("%w: 0x%08X", ErrBadMagic, hdr.Magic)
	}
	if hdr.Version != Version {
		return hdr, fmt.Errorf("%w: 0x%08X", ErrBadVersion, hdr.Version)
	}
	return hdr, nil
}

// parseHashmap scans an open-addressed (buckets, values) table pair into a
// native map. Slots with an all-zero bucket key are empty. Scanning once at
// parse time keeps lookups independent of the on-disk probing scheme.
func (db *Database) parseHashmap(base uint64, capOff, bucketsOff, valuesOff uint64, bucketStride uint64) (map[uint64]uint32, error) {
	capacity, err := db.buf.U32(base + capOff)
	if err != nil {
		return nil, err
	}
	buckets, err := db.buf.RelAt(base, bucketsOff)
	if err != nil {
		return nil, err
	}
	values, err := db.buf.RelAt(base, valuesOff)
	if err != nil {
		return nil, err
	}
	if _, err := db.buf.Slice(buckets, uint64(capacity)*bucketStride); err != nil {
		return nil, err
	}
	if _, err := db.buf.Slice(values, uint64(capacity)*4); err != nil {
		return nil, err
	}

	m := make(map[uint64]uint32)
	for i := uint64(0); i < uint64(capacity); i++ {
		key, _ := db.buf.U64(buckets + i*bucketStride)
		if key == 0 {
			continue
		}
		value, _ := db.buf.U32(values + i*4)
		m[key] = value
	}
	return m, nil
}

func (db *Database) parseStrings() error {
	offsets, err := db.parseHashmap(stringsBase, 0x00, 0x08, 0x10, 8)
	if err != nil {
		return err
	}
	poolSize, err := db.buf.U32(stringsBase + 0x18)
	if err != nil {
		return err
	}
	poolOff, err := db.buf.RelAt(stringsBase, 0x20)
	if err != nil {
		return err
	}
	pool, err := db.buf.Slice(poolOff, uint64(poolSize))
	if err != nil {
		return err
	}
	db.Strings = Strings{offsets: offsets, pool: pool}
	return nil
}

func (db *Database) parseR2P() error {
	// 16-byte buckets: key hash plus metadata; the key occupies the low u64.
	m, err := db.parseHashmap(r2pBase, 0x00, 0x08, 0x10, 16)
	if err != nil {
		return err
	}
	db.r2p = m
	return nil
}

func (db *Database) parsePaths() error {
	count, err := db.buf.U32(pathsBase)
	if err != nil {
		return err
	}
	data, err := db.buf.RelAt(pathsBase, 0x08)
	if err != nil {
		return err
	}

	db.Paths = make([]PathsEntry, 0, count)
	for i := uint64(0); i < uint64(count); i++ {
		base := data + i*pathEntrySize
		if _, err := db.buf.Slice(base, pathEntrySize); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		var e PathsEntry
		e.SelfID, _ = db.buf.U64(base)
		e.ParentID, _ = db.buf.U64(base + 8)
		if e.Name, err = db.buf.PackedString(base + 0x10); err != nil {
			return fmt.Errorf("entry %d name: %w", i, err)
		}
		db.Paths = append(db.Paths, e)
	}
	return nil
}

func (db *Database) parseBlobs() error {
	count, err := db.buf.U32(databasesBase)
	if err != nil {
		return err
	}
	// The databases pointer is the one relptr in the format resolved against
	// the body base instead of its own section structure.
	rel, err := db.buf.I64(databasesBase + 0x08)
	if err != nil {
		return err
	}
	entries, err := db.buf.Rel(bodyBase, rel)
	if err != nil {
		return err
	}

	db.Blobs = make([]Blob, 0, count)
	for i := uint64(0); i < uint64(count); i++ {
		base := entries + i*dbEntrySize
		if _, err := db.buf.Slice(base, dbEntrySize); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		var b Blob
		b.Magic, _ = db.buf.U32(base)
		b.Checksum, _ = db.buf.U32(base + 4)
		b.Size, _ = db.buf.U32(base + 8)
		if b.Size > 0 {
			start, err := db.buf.RelAt(base, 0x10)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			if _, err := db.buf.Slice(start, uint64(b.Size)); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			b.Start = start
			b.End = start + uint64(b.Size)
		}
		db.Blobs = append(db.Blobs, b)
	}
	return nil
}

// RecordLocation addresses one typed record: which blob and which slot.
type RecordLocation struct {
	BlobIndex   int
	RecordIndex int
}

// LookupRecord resolves a path-tree self id through the resource-to-prototype
// map. The packed value encodes the blob index in the high byte and the
// record index in the low 24 bits.
func (db *Database) LookupRecord(selfID uint64) (RecordLocation, bool) {
	v, ok := db.r2p[selfID]
	if !ok {
		return RecordLocation{}, false
	}
	return RecordLocation{
		BlobIndex:   int(v >> 24),
		RecordIndex: int(v & 0xFFFFFF),
	}, true
}

// RecordSize returns the fixed record byte size for a blob index.
// ok is false for blob indexes beyond the known table.
func RecordSize(blobIndex int) (uint64, bool) {
	if blobIndex < 0 || blobIndex >= len(recordSizes) {
		return 0, false
	}
	return recordSizes[blobIndex], true
}

// pathIndex maps self ids to pathsStorage slots, built once per parse.
type pathIndex struct {
	bySelfID map[uint64]int
	cache    []string
}

func (db *Database) newPathIndex() *pathIndex {
	idx := &pathIndex{
		bySelfID: make(map[uint64]int, len(db.Paths)),
		cache:    make([]string, len(db.Paths)),
	}
	for i, e := range db.Paths {
		idx.bySelfID[e.SelfID] = i
	}
	return idx
}

// path reconstructs the slash-separated path of a pathsStorage slot by
// walking the parent chain to the implicit root. Results are memoized.
// Chains longer than the table (a cycle) yield "".
func (idx *pathIndex) path(db *Database, slot int) string {
	if idx.cache[slot] != "" {
		return idx.cache[slot]
	}

	var parts []string
	cur := slot
	for steps := 0; steps <= len(db.Paths); steps++ {
		e := db.Paths[cur]
		if e.Name != "" {
			parts = append(parts, e.Name)
		}
		parent, ok := idx.bySelfID[e.ParentID]
		if !ok {
			joined := joinReversed(parts)
			idx.cache[slot] = joined
			return joined
		}
		cur = parent
	}
	return ""
}

func joinReversed(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	n := len(parts) - 1
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for i := len(parts) - 1; i >= 0; i-- {
		if len(out) > 0 {
			out = append(out, '/')
		}
		out = append(out, parts[i]...)
	}
	return string(out)
}

package protodb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dbBuilder assembles a synthetic assets.bin: the fixed header region first,
// payload sections appended behind it with their relative pointers patched
// into the section structures.
type dbBuilder struct {
	buf []byte
}

func newDBBuilder() *dbBuilder {
	b := &dbBuilder{buf: make([]byte, 0x70)}
	b.put32(0, Magic)
	b.put32(4, Version)
	b.put16(12, 8) // architecture
	b.put16(14, 1) // endianness
	// Sections a fixture never fills still need valid (empty) shapes.
	b.hashmap(stringsBase, 8, nil)
	b.putRel(stringsBase+0x20, stringsBase, uint64(len(b.buf)))
	b.hashmap(r2pBase, 16, nil)
	b.putRel(pathsBase+0x08, pathsBase, uint64(len(b.buf)))
	b.putRel(databasesBase+0x08, bodyBase, uint64(len(b.buf)))
	return b
}

func (b *dbBuilder) put16(off uint64, v uint16) {
	binary.LittleEndian.PutUint16(b.buf[off:], v)
}

func (b *dbBuilder) put32(off uint64, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[off:], v)
}

func (b *dbBuilder) put64(off uint64, v uint64) {
	binary.LittleEndian.PutUint64(b.buf[off:], v)
}

// putRel stores target as a signed delta from base into the i64 at fieldOff.
func (b *dbBuilder) putRel(fieldOff, base, target uint64) {
	b.put64(fieldOff, uint64(int64(target)-int64(base)))
}

func (b *dbBuilder) append(data []byte) uint64 {
	off := uint64(len(b.buf))
	b.buf = append(b.buf, data...)
	return off
}

// hashmap writes an 8-slot (buckets, values) pair and wires it into the
// section structure at base. A zero key marks an empty slot.
func (b *dbBuilder) hashmap(base uint64, bucketStride uint64, entries map[uint64]uint32) {
	const capacity = 8
	buckets := make([]byte, capacity*bucketStride)
	values := make([]byte, capacity*4)
	slot := 0
	for key, val := range entries {
		binary.LittleEndian.PutUint64(buckets[uint64(slot)*bucketStride:], key)
		binary.LittleEndian.PutUint32(values[slot*4:], val)
		slot++
	}
	bucketsOff := b.append(buckets)
	valuesOff := b.append(values)
	b.put32(base, capacity)
	b.putRel(base+0x08, base, bucketsOff)
	b.putRel(base+0x10, base, valuesOff)
}

func (b *dbBuilder) strings(entries map[uint64]uint32, pool []byte) {
	b.hashmap(stringsBase, 8, entries)
	poolOff := b.append(pool)
	b.put32(stringsBase+0x18, uint32(len(pool)))
	b.putRel(stringsBase+0x20, stringsBase, poolOff)
}

func (b *dbBuilder) r2p(entries map[uint64]uint32) {
	b.hashmap(r2pBase, 16, entries)
}

type pathSpec struct {
	selfID   uint64
	parentID uint64
	name     string
}

func (b *dbBuilder) paths(specs []pathSpec) {
	entriesOff := b.append(make([]byte, len(specs)*pathEntrySize))
	for i, s := range specs {
		base := entriesOff + uint64(i)*pathEntrySize
		b.put64(base, s.selfID)
		b.put64(base+8, s.parentID)
		if s.name != "" {
			packed := base + 0x10
			text := b.append(append([]byte(s.name), 0))
			b.put32(packed, uint32(len(s.name))+1)
			b.putRel(packed+8, packed, text)
		}
	}
	b.put32(pathsBase, uint32(len(specs)))
	b.putRel(pathsBase+0x08, pathsBase, entriesOff)
}

type blobSpec struct {
	magic uint32
	data  []byte
}

func (b *dbBuilder) blobs(specs []blobSpec) {
	entriesOff := b.append(make([]byte, len(specs)*dbEntrySize))
	for i, s := range specs {
		base := entriesOff + uint64(i)*dbEntrySize
		b.put32(base, s.magic)
		b.put32(base+8, uint32(len(s.data)))
		if len(s.data) > 0 {
			dataOff := b.append(s.data)
			b.putRel(base+0x10, base, dataOff)
		}
	}
	b.put32(databasesBase, uint32(len(specs)))
	b.putRel(databasesBase+0x08, bodyBase, entriesOff)
}

// record packs a resource-to-prototype value: blob index in the high byte,
// record index in the low 24 bits.
func record(blobIndex, recordIndex int) uint32 {
	return uint32(blobIndex)<<24 | uint32(recordIndex)
}

const materialSize = 0x78

// blobData returns a blob payload holding its own 16-byte header plus n
// material records with deterministic content.
func blobData(n int) []byte {
	data := make([]byte, blobHeaderSize+n*materialSize)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

// buildAssets produces the standard fixture: a proto/ directory holding two
// materials backed by blob 0, one dangling entry with no prototype, and one
// entry whose record index runs past the blob.
func buildAssets() []byte {
	b := newDBBuilder()
	b.strings(map[uint64]uint32{0xAAA: 0, 0xBBB: 6}, []byte("hello\x00world\x00"))
	b.r2p(map[uint64]uint32{
		0x101: record(0, 0),
		0x102: record(0, 1),
		0x104: record(0, 99),
	})
	b.paths([]pathSpec{
		{selfID: 0x100, parentID: 0xFFFF, name: "proto"},
		{selfID: 0x101, parentID: 0x100, name: "mat_a.bin"},
		{selfID: 0x102, parentID: 0x100, name: "mat_b.bin"},
		{selfID: 0x103, parentID: 0x100, name: "dangling.bin"},
		{selfID: 0x104, parentID: 0x100, name: "oob.bin"},
	})
	b.blobs([]blobSpec{{magic: 0x4D415442, data: blobData(2)}})
	return b.buf
}

func TestParse(t *testing.T) {
	t.Parallel()

	db, err := Parse(buildAssets())
	require.NoError(t, err)

	assert.Equal(t, Magic, db.Header.Magic)
	assert.Equal(t, Version, db.Header.Version)
	assert.Equal(t, uint16(8), db.Header.Architecture)
	assert.Equal(t, uint16(1), db.Header.Endianness)

	require.Len(t, db.Paths, 5)
	assert.Equal(t, "proto", db.Paths[0].Name)
	assert.Equal(t, uint64(0x100), db.Paths[0].SelfID)
	assert.Equal(t, "mat_a.bin", db.Paths[1].Name)

	require.Len(t, db.Blobs, 1)
	blob := db.Blobs[0]
	assert.Equal(t, uint32(0x4D415442), blob.Magic)
	assert.Equal(t, uint64(blob.Size), blob.End-blob.Start)
}

func TestParse_BadMagic(t *testing.T) {
	t.Parallel()

	data := buildAssets()
	data[0] = 'X'

	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestParse_BadVersion(t *testing.T) {
	t.Parallel()

	data := buildAssets()
	data[4] = 0xEE

	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestParse_Truncated(t *testing.T) {
	t.Parallel()

	data := buildAssets()
	for _, n := range []int{0, 8, 0x20, 0x68} {
		_, err := Parse(data[:n])
		assert.Error(t, err, "length %d", n)
	}
}

func TestStrings_Lookup(t *testing.T) {
	t.Parallel()

	db, err := Parse(buildAssets())
	require.NoError(t, err)

	assert.Equal(t, 2, db.Strings.Len())

	got, ok := db.Strings.Lookup(0xAAA)
	require.True(t, ok)
	assert.Equal(t, "hello", got)

	got, ok = db.Strings.Lookup(0xBBB)
	require.True(t, ok)
	assert.Equal(t, "world", got)

	_, ok = db.Strings.Lookup(0xCCC)
	assert.False(t, ok)
}

func TestLookupRecord(t *testing.T) {
	t.Parallel()

	db, err := Parse(buildAssets())
	require.NoError(t, err)

	loc, ok := db.LookupRecord(0x101)
	require.True(t, ok)
	assert.Equal(t, RecordLocation{BlobIndex: 0, RecordIndex: 0}, loc)

	loc, ok = db.LookupRecord(0x102)
	require.True(t, ok)
	assert.Equal(t, RecordLocation{BlobIndex: 0, RecordIndex: 1}, loc)

	_, ok = db.LookupRecord(0x999)
	assert.False(t, ok)
}

func TestLookupRecord_PackedValueDecoding(t *testing.T) {
	t.Parallel()

	b := newDBBuilder()
	b.r2p(map[uint64]uint32{0x1: 0x05_00002A})
	b.paths(nil)
	b.blobs(nil)

	db, err := Parse(b.buf)
	require.NoError(t, err)

	loc, ok := db.LookupRecord(0x1)
	require.True(t, ok)
	assert.Equal(t, RecordLocation{BlobIndex: 5, RecordIndex: 42}, loc)
}

func TestRecordSize(t *testing.T) {
	t.Parallel()

	size, ok := RecordSize(0)
	require.True(t, ok)
	assert.Equal(t, uint64(materialSize), size)

	size, ok = RecordSize(3)
	require.True(t, ok)
	assert.Equal(t, uint64(0x28), size)

	_, ok = RecordSize(len(recordSizes))
	assert.False(t, ok)
	_, ok = RecordSize(-1)
	assert.False(t, ok)
}

func TestPathIndex_Reconstruction(t *testing.T) {
	t.Parallel()

	db, err := Parse(buildAssets())
	require.NoError(t, err)

	paths := db.newPathIndex()
	assert.Equal(t, "proto", paths.path(db, 0))
	assert.Equal(t, "proto/mat_a.bin", paths.path(db, 1))
	// Memoized second resolution.
	assert.Equal(t, "proto/mat_a.bin", paths.path(db, 1))
}

func TestPathIndex_Cycle(t *testing.T) {
	t.Parallel()

	b := newDBBuilder()
	b.paths([]pathSpec{
		{selfID: 0x1, parentID: 0x2, name: "a"},
		{selfID: 0x2, parentID: 0x1, name: "b"},
	})
	b.blobs(nil)

	db, err := Parse(b.buf)
	require.NoError(t, err)

	paths := db.newPathIndex()
	assert.Empty(t, paths.path(db, 0))
	assert.Empty(t, paths.path(db, 1))
}

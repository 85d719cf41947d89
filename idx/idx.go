// Package idx parses BigWorld .idx index files and merges them into the file
// tree served by the archive filesystem.
//
// An .idx file describes the contents of sibling .pkg volumes: a resource
// table (files and directories linked by parent ids), a file-info table
// (volume, offset, compression and size metadata) and a volume table (the
// .pkg filenames). Names are stored out of line behind relative pointers
// resolved against the entry that holds them.
package idx

import (
	"errors"
	"fmt"

	"github.com/bwtools/bwfs/internal/binread"
)

// Magic is "ISPF" as a little-endian u32.
const Magic uint32 = 0x50465349

// RootSentinel is the parent id marking a top-level resource.
const RootSentinel uint64 = 0xDBB1A1D1B108B927

const (
	expectedEndian  uint32 = 0x02000000
	expectedVersion uint32 = 0x40

	headerSize        = 16
	metaBase          = 0x10 // table pointers resolve against this
	resourceEntrySize = 32
	fileInfoEntrySize = 48
	volumeEntrySize   = 24
)

// Sentinel errors.
var (
	// ErrBadMagic is returned when a file does not start with the ISPF magic.
	ErrBadMagic = errors.New("idx: bad magic")

	// ErrIncorrectEndian is returned when the endian/version markers are wrong.
	ErrIncorrectEndian = errors.New("idx: incorrect endian markers")
)

// ResourceRecord is a file or directory entry in the resource table.
// Filename is just the name; full paths are reconstructed from parent ids.
type ResourceRecord struct {
	ResourcePtr uint64
	ID          uint64
	ParentID    uint64
	Filename    string
}

// FileInfoRecord locates a resource's payload within a volume.
type FileInfoRecord struct {
	ResourceID uint64
	VolumeID   uint64
	// Offset is the byte offset of the payload within the volume.
	Offset uint64
	// Compression is zero for stored payloads, non-zero for DEFLATE.
	Compression uint64
	// PackedSize is the payload size as stored in the volume.
	PackedSize uint32
	// CRC32 is the IEEE checksum of the uncompressed payload.
	CRC32 uint32
	// UnpackedSize is the payload size after decompression.
	UnpackedSize uint32
	Padding      uint32
}

// VolumeRecord names a .pkg volume file.
type VolumeRecord struct {
	Length   uint64
	VolumeID uint64
	Filename string
}

// File is a fully parsed .idx file.
type File struct {
	Resources []ResourceRecord
	FileInfos []FileInfoRecord
	Volumes   []VolumeRecord
}

// Parse decodes a single .idx file from raw bytes.
//
// All offset arithmetic is bounds-checked against the buffer; malformed input
// yields a typed error, never a panic. The parsed tables borrow nothing from
// data — strings are copied out — so data may be released afterwards.
func Parse(data []byte) (*File, error) {
	buf := binread.New(data)

	magic, err := buf.U32(0)
	if err != nil {
		return nil, fmt.Errorf("idx: header: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadMagic, magic)
	}
	endian, err := buf.U32(4)
	if err != nil {
		return nil, fmt.Errorf("idx: header: %w", err)
	}
	// offset 8 holds an unused murmur hash
	version, err := buf.U32(0x0C)
	if err != nil {
		return nil, fmt.Errorf("idx: header: %w", err)
	}
	if endian != expectedEndian && version != expectedVersion {
		return nil, ErrIncorrectEndian
	}

	var counts [3]uint32
	for i := range counts {
		if counts[i], err = buf.U32(metaBase + uint64(i)*4); err != nil {
			return nil, fmt.Errorf("idx: metadata: %w", err)
		}
	}
	var tables [3]uint64
	for i := range tables {
		rel, err := buf.I64(0x20 + uint64(i)*8)
		if err != nil {
			return nil, fmt.Errorf("idx: metadata: %w", err)
		}
		if tables[i], err = buf.Rel(metaBase, rel); err != nil {
			return nil, fmt.Errorf("idx: metadata: %w", err)
		}
	}

	f := &File{
		Resources: make([]ResourceRecord, 0, counts[0]),
		FileInfos: make([]FileInfoRecord, 0, counts[1]),
		Volumes:   make([]VolumeRecord, 0, counts[2]),
	}

	for i := uint64(0); i < uint64(counts[0]); i++ {
		rec, err := parseResource(buf, tables[0]+i*resourceEntrySize)
		if err != nil {
			return nil, fmt.Errorf("idx: resource[%d]: %w", i, err)
		}
		f.Resources = append(f.Resources, rec)
	}
	for i := uint64(0); i < uint64(counts[1]); i++ {
		rec, err := parseFileInfo(buf, tables[1]+i*fileInfoEntrySize)
		if err != nil {
			return nil, fmt.Errorf("idx: fileinfo[%d]: %w", i, err)
		}
		f.FileInfos = append(f.FileInfos, rec)
	}
	for i := uint64(0); i < uint64(counts[2]); i++ {
		rec, err := parseVolume(buf, tables[2]+i*volumeEntrySize)
		if err != nil {
			return nil, fmt.Errorf("idx: volume[%d]: %w", i, err)
		}
		f.Volumes = append(f.Volumes, rec)
	}

	return f, nil
}

// parseResource decodes one 32-byte resource entry at base. The filename is
// stored behind a relative pointer resolved against the entry itself.
func parseResource(buf binread.Buf, base uint64) (ResourceRecord, error) {
	var rec ResourceRecord
	if _, err := buf.Slice(base, resourceEntrySize); err != nil {
		return rec, err
	}
	rec.ResourcePtr, _ = buf.U64(base)
	nameRel, _ := buf.I64(base + 8)
	rec.ID, _ = buf.U64(base + 16)
	rec.ParentID, _ = buf.U64(base + 24)

	nameOff, err := buf.Rel(base, nameRel)
	if err != nil {
		return rec, err
	}
	if rec.Filename, err = buf.CString(nameOff); err != nil {
		return rec, err
	}
	return rec, nil
}

// parseFileInfo decodes one 48-byte file-info entry at base.
func parseFileInfo(buf binread.Buf, base uint64) (FileInfoRecord, error) {
	var rec FileInfoRecord
	if _, err := buf.Slice(base, fileInfoEntrySize); err != nil {
		return rec, err
	}
	rec.ResourceID, _ = buf.U64(base)
	rec.VolumeID, _ = buf.U64(base + 8)
	rec.Offset, _ = buf.U64(base + 16)
	rec.Compression, _ = buf.U64(base + 24)
	rec.PackedSize, _ = buf.U32(base + 32)
	rec.CRC32, _ = buf.U32(base + 36)
	rec.UnpackedSize, _ = buf.U32(base + 40)
	rec.Padding, _ = buf.U32(base + 44)
	return rec, nil
}

// parseVolume decodes one 24-byte volume entry at base.
func parseVolume(buf binread.Buf, base uint64) (VolumeRecord, error) {
	var rec VolumeRecord
	if _, err := buf.Slice(base, volumeEntrySize); err != nil {
		return rec, err
	}
	rec.Length, _ = buf.U64(base)
	nameRel, _ := buf.I64(base + 8)
	rec.VolumeID, _ = buf.U64(base + 16)

	nameOff, err := buf.Rel(base, nameRel)
	if err != nil {
		return rec, err
	}
	if rec.Filename, err = buf.CString(nameOff); err != nil {
		return rec, err
	}
	return rec, nil
}

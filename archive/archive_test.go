package archive

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwtools/bwfs"
	"github.com/bwtools/bwfs/idx"
)

// fakeSource serves volume ranges from in-memory byte slices.
type fakeSource struct {
	volumes map[string][]byte
}

func (s *fakeSource) Prime(volume string, off, length int64) ([]byte, error) {
	data, ok := s.volumes[volume]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, volume)
	}
	if off < 0 || length < 0 || off+length > int64(len(data)) {
		return nil, fmt.Errorf("range out of bounds: %s", volume)
	}
	// Source.Prime promises the caller owns the returned slice.
	return append([]byte(nil), data[off:off+length]...), nil
}

// deflate compresses data with DEFLATE the way the packer does.
func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

// fixture holds the content of the synthetic two-file archive used by most
// tests: content/a.txt stored, content/b.bin compressed.
type fixture struct {
	arc     *Archive
	source  *fakeSource
	aBytes  []byte
	bBytes  []byte
	volName string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		aBytes:  []byte("plain stored payload\n"),
		bBytes:  bytes.Repeat([]byte("compressible content "), 64),
		volName: "vol_0001.pkg",
	}
	bPacked := deflate(t, f.bBytes)

	var vol bytes.Buffer
	aOff := uint64(vol.Len())
	vol.Write(f.aBytes)
	bOff := uint64(vol.Len())
	vol.Write(bPacked)

	file := &idx.File{
		Resources: []idx.ResourceRecord{
			{ID: 1, ParentID: idx.RootSentinel, Filename: "content"},
			{ID: 2, ParentID: 1, Filename: "a.txt"},
			{ID: 3, ParentID: 1, Filename: "b.bin"},
		},
		FileInfos: []idx.FileInfoRecord{
			{
				ResourceID:   2,
				VolumeID:     7,
				Offset:       aOff,
				Compression:  0,
				PackedSize:   uint32(len(f.aBytes)),
				UnpackedSize: uint32(len(f.aBytes)),
				CRC32:        crc32.ChecksumIEEE(f.aBytes),
			},
			{
				ResourceID:   3,
				VolumeID:     7,
				Offset:       bOff,
				Compression:  1,
				PackedSize:   uint32(len(bPacked)),
				UnpackedSize: uint32(len(f.bBytes)),
				CRC32:        crc32.ChecksumIEEE(f.bBytes),
			},
		},
		Volumes: []idx.VolumeRecord{
			{VolumeID: 7, Filename: f.volName, Length: uint64(vol.Len())},
		},
	}

	tree, err := idx.BuildTree([]*idx.File{file})
	require.NoError(t, err)

	f.source = &fakeSource{volumes: map[string][]byte{f.volName: vol.Bytes()}}
	f.arc = New(tree, f.source, opts...)
	return f
}

func TestArchive_ReadFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	got, err := f.arc.ReadFile("content/a.txt")
	require.NoError(t, err)
	assert.Equal(t, f.aBytes, got)
}

func TestArchive_ReadFileInflates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	got, err := f.arc.ReadFile("content/b.bin")
	require.NoError(t, err)
	assert.Equal(t, f.bBytes, got)
	assert.Len(t, got, len(f.bBytes))
}

func TestArchive_RepeatedReadsIdentical(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	first, err := f.arc.ReadFile("content/b.bin")
	require.NoError(t, err)
	second, err := f.arc.ReadFile("content/b.bin")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestArchive_VerifyCRC(t *testing.T) {
	t.Parallel()

	t.Run("valid payload passes", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, WithVerifyCRC(true))

		_, err := f.arc.ReadFile("content/a.txt")
		assert.NoError(t, err)
		_, err = f.arc.ReadFile("content/b.bin")
		assert.NoError(t, err)
	})

	t.Run("corrupt payload fails", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, WithVerifyCRC(true))
		f.source.volumes[f.volName][0] ^= 0xFF

		_, err := f.arc.ReadFile("content/a.txt")
		assert.ErrorIs(t, err, bwfs.ErrCRCMismatch)
	})

	t.Run("corruption ignored when disabled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.source.volumes[f.volName][0] ^= 0xFF

		got, err := f.arc.ReadFile("content/a.txt")
		require.NoError(t, err)
		assert.NotEqual(t, f.aBytes, got)
	})
}

func TestArchive_MaxFileSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithMaxFileSize(4))

	_, err := f.arc.ReadFile("content/a.txt")
	assert.ErrorIs(t, err, bwfs.ErrSizeOverflow)
}

func TestArchive_Open(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	file, err := f.arc.Open("content/a.txt")
	require.NoError(t, err)
	defer file.Close()

	info, err := file.Stat()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", info.Name())
	assert.Equal(t, int64(len(f.aBytes)), info.Size())
	assert.False(t, info.IsDir())
}

func TestArchive_OpenErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.arc.Open("content/missing.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = f.arc.Open("/content/a.txt")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	_, err = f.arc.ReadFile("content")
	assert.ErrorIs(t, err, bwfs.ErrIsDirectory)
}

func TestArchive_Stat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	info, err := f.arc.Stat("content/b.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(f.bBytes)), info.Size(), "size is the uncompressed size")

	info, err = f.arc.Stat("content")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestArchive_ReadDir(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	entries, err := f.arc.ReadDir("content")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Name())
	assert.Equal(t, "b.bin", entries[1].Name())

	_, err = f.arc.ReadDir("content/a.txt")
	assert.ErrorIs(t, err, bwfs.ErrNotDirectory)
}

func TestArchive_OpenDirPaging(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	file, err := f.arc.Open("content")
	require.NoError(t, err)
	defer file.Close()

	dir, ok := file.(fs.ReadDirFile)
	require.True(t, ok)

	first, err := dir.ReadDir(1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "a.txt", first[0].Name())

	second, err := dir.ReadDir(1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "b.bin", second[0].Name())

	_, err = dir.ReadDir(1)
	assert.ErrorIs(t, err, io.EOF)
}

func TestArchive_Exists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	assert.True(t, f.arc.Exists("content/a.txt"))
	assert.True(t, f.arc.Exists("content"))
	assert.False(t, f.arc.Exists("content/missing"))
}

func TestArchive_MutationsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	assert.ErrorIs(t, f.arc.Mkdir("new"), bwfs.ErrReadOnly)
	assert.ErrorIs(t, f.arc.Remove("content/a.txt"), bwfs.ErrReadOnly)
}

func TestArchive_FSConformance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, fstest.TestFS(f.arc, "content/a.txt", "content/b.bin"))
}

func TestArchive_ExtractTo(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	dest := t.TempDir()

	stats, err := f.arc.ExtractTo(dest)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, uint64(len(f.aBytes)+len(f.bBytes)), stats.Bytes)
	assert.Zero(t, stats.Skipped)

	got, err := os.ReadFile(filepath.Join(dest, "content", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, f.aBytes, got)

	got, err = os.ReadFile(filepath.Join(dest, "content", "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, f.bBytes, got)
}

func TestArchive_ExtractToSinglePath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	dest := t.TempDir()

	stats, err := f.arc.ExtractTo(dest, "content/a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)

	_, err = os.Stat(filepath.Join(dest, "content", "b.bin"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestArchive_ExtractToSkipsUnreadable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Drop the volume so every read fails.
	delete(f.source.volumes, f.volName)
	dest := t.TempDir()

	stats, err := f.arc.ExtractTo(dest)
	require.NoError(t, err)
	assert.Zero(t, stats.Files)
	assert.Equal(t, 2, stats.Skipped)
}

func TestArchive_ExtractToRejectsInvalidPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.arc.ExtractTo(t.TempDir(), "../escape")
	assert.ErrorIs(t, err, fs.ErrInvalid)
}

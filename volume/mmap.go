package volume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sync"

	"golang.org/x/exp/mmap"
	"golang.org/x/sync/singleflight"
)

// reader is the subset of *mmap.ReaderAt the source needs; tests substitute
// in-memory implementations through the open hook.
type reader interface {
	io.ReaderAt
	Len() int
	Close() error
}

// MmapSource serves volume byte ranges from lazily memory-mapped .pkg files.
//
// Each named volume is mapped on first access and the mapping is cached for
// the lifetime of the source. The common case (already-mapped volume) takes
// only a read lock, so concurrent readers never block each other; the first
// access to a volume is deduplicated with singleflight and briefly takes the
// write lock solely to insert the new mapping.
type MmapSource struct {
	dir string

	mu      sync.RWMutex
	readers map[string]reader
	group   singleflight.Group

	// open maps a volume file; replaced in tests.
	open func(path string) (reader, error)
}

// Interface compliance.
var (
	_ Source        = (*MmapSource)(nil)
	_ ContextSource = (*MmapSource)(nil)
	_ Closer        = (*MmapSource)(nil)
)

// NewMmapSource creates a source reading .pkg files from dir.
func NewMmapSource(dir string) *MmapSource {
	return &MmapSource{
		dir:     dir,
		readers: make(map[string]reader),
		open: func(path string) (reader, error) {
			return mmap.Open(path)
		},
	}
}

// Prime implements Source.
func (s *MmapSource) Prime(volume string, off, length int64) ([]byte, error) {
	r, err := s.get(volume)
	if err != nil {
		return nil, err
	}
	size := int64(r.Len())
	if off < 0 || length < 0 || off > size || length > size-off {
		return nil, rangeErr(volume, off, length, size)
	}
	buf := make([]byte, length)
	if _, err := r.ReadAt(buf, off); err != nil && length > 0 {
		return nil, fmt.Errorf("volume %s: %w", volume, err)
	}
	return buf, nil
}

// PrimeContext implements ContextSource. Mapped bytes are already resident,
// so beyond the cancellation check this is identical to Prime.
func (s *MmapSource) PrimeContext(ctx context.Context, volume string, off, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Prime(volume, off, length)
}

// Close unmaps every cached volume. The source must not be used afterwards.
func (s *MmapSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, r := range s.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.readers, name)
	}
	return firstErr
}

// Mapped returns the number of volumes currently mapped.
func (s *MmapSource) Mapped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readers)
}

// get returns the mapping for a volume, mapping it on first access.
// Concurrent first accesses to the same volume map it exactly once.
func (s *MmapSource) get(volume string) (reader, error) {
	s.mu.RLock()
	r, ok := s.readers[volume]
	s.mu.RUnlock()
	if ok {
		return r, nil
	}

	v, err, _ := s.group.Do(volume, func() (any, error) {
		s.mu.RLock()
		r, ok := s.readers[volume]
		s.mu.RUnlock()
		if ok {
			return r, nil
		}

		path := filepath.Join(s.dir, volume)
		r, err := s.open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrVolumeNotFound, volume)
			}
			return nil, fmt.Errorf("volume %s: %w", volume, err)
		}

		s.mu.Lock()
		s.readers[volume] = r
		s.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(reader), nil
}

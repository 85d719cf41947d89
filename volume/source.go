// Package volume provides byte access to .pkg volume files.
//
// The Source interface is sans-I/O: the archive filesystem above it asks for
// a named volume's byte range and never performs file access itself, so it
// works unchanged over memory maps, in-memory fixtures, or remote sources.
package volume

import (
	"context"
	"errors"
	"fmt"
)

// ErrVolumeNotFound is returned when a named .pkg file does not exist.
var ErrVolumeNotFound = errors.New("volume: not found")

// Source provides a byte range from a named volume.
type Source interface {
	// Prime returns length bytes starting at off within the named volume.
	// The returned slice is owned by the caller.
	Prime(volume string, off, length int64) ([]byte, error)
}

// ContextSource is the context-aware variant of Source for callers on a
// cancellable path. Volume bytes are memory-mapped and already resident after
// the first fault, so implementations perform the identical synchronous work
// after honoring an early cancellation; the interface exists to satisfy the
// boundary, not to provide real concurrency. Core code depends only on Source.
type ContextSource interface {
	Source
	PrimeContext(ctx context.Context, volume string, off, length int64) ([]byte, error)
}

// Closer is implemented by sources holding file handles or mappings.
type Closer interface {
	Close() error
}

func rangeErr(volume string, off, length, size int64) error {
	return fmt.Errorf("volume %s: range [%d, %d) exceeds size %d", volume, off, off+length, size)
}

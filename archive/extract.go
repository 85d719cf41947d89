package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bwtools/bwfs/idx"
	"github.com/bwtools/bwfs/internal/pathutil"
)

// ExtractStats reports the outcome of an ExtractTo call.
type ExtractStats struct {
	// Files is the number of files written.
	Files int
	// Bytes is the total uncompressed bytes written.
	Bytes uint64
	// Skipped is the number of files that failed to read or write.
	Skipped int
}

// ExtractTo writes the named paths to destDir, recursing into directories.
// With no paths it extracts the whole archive.
//
// One corrupt or unreadable file does not abort the batch: it is logged,
// counted in Skipped, and extraction proceeds. Parent directories are created
// as needed. Paths that fail fs.ValidPath are rejected so archive content can
// never escape destDir.
func (a *Archive) ExtractTo(destDir string, paths ...string) (ExtractStats, error) {
	var stats ExtractStats

	files, err := a.collect(paths)
	if err != nil {
		return stats, err
	}

	for _, name := range files {
		n, err := a.extractFile(destDir, name)
		if err != nil {
			a.logger.Warn("skipping unreadable entry", "path", name, "error", err)
			stats.Skipped++
			continue
		}
		stats.Files++
		stats.Bytes += n
	}
	return stats, nil
}

// collect expands the requested paths into the list of file paths to extract.
func (a *Archive) collect(paths []string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	var files []string
	for _, name := range paths {
		if !fs.ValidPath(name) {
			return nil, &fs.PathError{Op: "extract", Path: name, Err: fs.ErrInvalid}
		}
		entry, ok := a.tree.Lookup(name)
		if !ok {
			return nil, &fs.PathError{Op: "extract", Path: name, Err: fs.ErrNotExist}
		}
		if entry.Kind == idx.KindFile {
			files = append(files, name)
			continue
		}
		prefix := pathutil.DirPrefix(name)
		for path, e := range a.tree.All() {
			if e.Kind == idx.KindFile && (prefix == "" || len(path) > len(prefix) && path[:len(prefix)] == prefix) {
				files = append(files, path)
			}
		}
	}
	return files, nil
}

// extractFile reads one archive file and writes it under destDir.
func (a *Archive) extractFile(destDir, name string) (uint64, error) {
	content, err := a.ReadFile(name)
	if err != nil {
		return 0, err
	}
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return 0, fmt.Errorf("write file: %w", err)
	}
	return uint64(len(content)), nil
}

// Command bwfsdump mounts a game resource directory and lists or extracts its
// contents. It is a development tool for poking at .idx/.pkg sets and
// assets.bin databases, not a supported interface.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bwtools/bwfs/archive"
	"github.com/bwtools/bwfs/idx"
	"github.com/bwtools/bwfs/protodb"
	"github.com/bwtools/bwfs/volume"
)

type config struct {
	pkgDir    string
	assets    string
	extract   string
	out       string
	verifyCRC bool
	verbose   bool
}

func main() {
	cfg := parseFlags()

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	arc, source, err := mountArchive(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer source.Close()

	if cfg.extract != "" {
		stats, err := arc.ExtractTo(cfg.out, cfg.extract)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("extracted %d files (%d bytes), %d skipped\n", stats.Files, stats.Bytes, stats.Skipped)
		return
	}

	if cfg.assets != "" {
		db, err := mountAssets(cfg.assets, logger)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("assets.bin: %d prototypes, %d entries skipped\n", db.Len(), db.Skipped())
		for _, path := range db.Files() {
			fmt.Println(path)
		}
	}

	var files, dirs int
	for path, entry := range arc.Entries() {
		if entry.Kind == idx.KindFile {
			files++
			fmt.Printf("%s\t%d\n", path, entry.Loc.UnpackedSize)
		} else {
			dirs++
		}
	}
	fmt.Fprintf(os.Stderr, "%d files, %d directories\n", files, dirs)
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.pkgDir, "pkg-dir", ".", "directory holding .idx and .pkg files")
	flag.StringVar(&cfg.assets, "assets", "", "path to an assets.bin prototype database")
	flag.StringVar(&cfg.extract, "extract", "", "archive path to extract instead of listing")
	flag.StringVar(&cfg.out, "out", "out", "destination directory for -extract")
	flag.BoolVar(&cfg.verifyCRC, "verify-crc", false, "verify payload checksums on read")
	flag.BoolVar(&cfg.verbose, "v", false, "log index anomalies")
	flag.Parse()
	return cfg
}

func mountArchive(cfg config, logger *slog.Logger) (*archive.Archive, *volume.MmapSource, error) {
	indexes, err := filepath.Glob(filepath.Join(cfg.pkgDir, "*.idx"))
	if err != nil {
		return nil, nil, err
	}
	if len(indexes) == 0 {
		return nil, nil, fmt.Errorf("no .idx files in %s", cfg.pkgDir)
	}

	files := make([]*idx.File, 0, len(indexes))
	for _, path := range indexes {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		f, err := idx.Parse(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		files = append(files, f)
	}

	tree, err := idx.BuildTree(files, idx.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	source := volume.NewMmapSource(cfg.pkgDir)
	arc := archive.New(tree, source,
		archive.WithVerifyCRC(cfg.verifyCRC),
		archive.WithLogger(logger))
	return arc, source, nil
}

func mountAssets(path string, logger *slog.Logger) (*protodb.DB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return protodb.New(data, protodb.WithLogger(logger))
}

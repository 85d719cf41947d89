// Package bwfs exposes two proprietary BigWorld game-archive formats through
// one read-only virtual filesystem interface: the index+package format
// (.idx metadata describing content packed into sibling .pkg volumes) and the
// prototype database format (assets.bin, a single file of typed binary records
// addressed by path hashes and relative pointers).
//
// Every filesystem in this module implements [FS], which extends io/fs with
// existence checks. Format-specific construction lives in the subpackages:
//   - idx parses .idx files and builds the merged file tree
//   - volume provides lazily memory-mapped access to .pkg payload bytes
//   - archive serves the idx tree as a filesystem, decompressing on read
//   - protodb parses assets.bin and serves its records as virtual files
//
// An [Overlay] composes filesystems so that entries in earlier layers shadow
// entries in later ones:
//
//	pfs, err := protodb.New(assetsBinData)
//	if err != nil {
//	    return err
//	}
//	afs := archive.New(tree, volume.NewMmapSource(pkgDir))
//	mount := bwfs.NewOverlay(pfs, afs)
//	data, err := mount.ReadFile("content/gameplay/common/paint.mfm")
//
// All archives are read-only. The mutating surface (Create, Remove, Rename,
// Chtimes, Mkdir) exists only to fail uniformly with [ErrReadOnly].
package bwfs

package bwfs

import "strings"

// NormalizePath converts a user-provided path to fs.ValidPath format.
//
// It performs the following transformations:
//   - Strips leading slashes: "/content/foo" → "content/foo"
//   - Strips trailing slashes: "content/foo/" → "content/foo"
//   - Collapses consecutive slashes: "content//foo" → "content/foo"
//   - Converts empty string to root: "" → "."
//   - Preserves root indicator: "/" → "."
//
// Reconstructed archive paths carry a leading slash ("/content/foo.mfm");
// this converts them to the form the FS methods expect.
//
// Note: path elements are not resolved or validated. Paths containing "."
// or ".." elements are preserved and will be rejected by the FS methods
// via fs.ValidPath.
func NormalizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}

	// Collapse consecutive slashes by splitting and rejoining.
	// This removes empty segments but preserves "." and ".." elements.
	parts := strings.Split(p, "/")
	result := parts[:0] // reuse backing array
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return "."
	}
	return strings.Join(result, "/")
}

package cache

import (
	"sort"

	"github.com/Norgate-AV/incgen/internal/fingerprint"
	"github.com/Norgate-AV/incgen/internal/state"
)

// Key creates a unique cache key for one stem generation
// The key is based on:
// - Stem name
// - Every dependency path and its content digest (sorted for consistency)
// - Combined digest of the generator logic files
func Key(stem string, inputs []state.FileDigest, logic fingerprint.Digest) string {
	sorted := make([]state.FileDigest, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	parts := make([]string, 0, 2+2*len(sorted))
	parts = append(parts, stem, string(logic))
	for _, in := range sorted {
		parts = append(parts, in.Path, in.Digest)
	}

	return string(fingerprint.Combine(parts...))
}

// LogicDigest combines the digests of the generator logic files into one
func LogicDigest(files []state.FileDigest) fingerprint.Digest {
	sorted := make([]state.FileDigest, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	parts := make([]string, 0, 2*len(sorted))
	for _, f := range sorted {
		parts = append(parts, f.Path, f.Digest)
	}

	return fingerprint.Combine(parts...)
}

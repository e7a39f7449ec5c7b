package codegen

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

// resolveDependencies makes the generator's dependency list absolute,
// always includes the stem's source and returns it sorted without
// duplicates.
func resolveDependencies(stem Stem, deps []string) []string {
	dir := filepath.Dir(stem.Source)
	seen := map[string]struct{}{stem.Source: {}}
	out := []string{stem.Source}

	for _, d := range deps {
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(dir, d)
		}
		d = filepath.Clean(d)

		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)

	return out
}

// resolveOutputs places relative output paths under the output directory.
func (m *Manager) resolveOutputs(raw map[string][]byte) (map[string][]byte, error) {
	out := make(map[string][]byte, len(raw))

	for path, data := range raw {
		if path == "" {
			return nil, errors.New("empty output path")
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.opts.OutputDir, path)
		}
		path = filepath.Clean(path)

		if _, dup := out[path]; dup {
			return nil, fmt.Errorf("output %s produced twice", path)
		}
		out[path] = data
	}

	return out, nil
}

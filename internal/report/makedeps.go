package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Norgate-AV/incgen/internal/fileutil"
)

// MakeDeps renders a make-style dependency listing: target depends on every
// dep, and every dep gets an empty rule so make does not fail when one of
// them disappears.
func MakeDeps(target string, deps []string) string {
	sorted := dedupe(deps)

	var b strings.Builder
	b.WriteString(escapeMake(target))
	b.WriteString(":")
	for _, d := range sorted {
		b.WriteString(" \\\n\t")
		b.WriteString(escapeMake(d))
	}
	b.WriteString("\n")

	for _, d := range sorted {
		b.WriteString("\n")
		b.WriteString(escapeMake(d))
		b.WriteString(":\n")
	}

	return b.String()
}

// WriteMakeDeps writes the listing to path unless it already holds the same
// content, so the file's mtime only moves when the dependency set changes.
func WriteMakeDeps(path, target string, deps []string) (bool, error) {
	if target == "" {
		return false, fmt.Errorf("make dependency target is required")
	}

	written, err := fileutil.WriteIfChanged(path, []byte(MakeDeps(target, deps)), 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to write make dependencies: %w", err)
	}

	return written, nil
}

func escapeMake(s string) string {
	s = strings.ReplaceAll(s, "$", "$$")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, "#", "\\#")
	return s
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)

	return out
}

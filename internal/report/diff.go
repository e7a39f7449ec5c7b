package report

import (
	"fmt"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"
)

// DefaultDiffContext is the number of context lines around each hunk.
const DefaultDiffContext = 3

// DiffOptions controls diff generation for updated outputs.
type DiffOptions struct {
	// MaxBytes caps old+new input size; larger pairs get a placeholder.
	// 0 means no limit.
	MaxBytes int

	// Context is the number of context lines; 0 uses DefaultDiffContext.
	Context int
}

// Unified produces a unified diff of a -> b. The flag reports whether the
// body was replaced by a placeholder because of MaxBytes.
func Unified(aName, bName string, a, b []byte, opt DiffOptions) (string, bool) {
	if opt.MaxBytes > 0 && len(a)+len(b) > opt.MaxBytes {
		return omitted(aName, bName), true
	}

	ctx := opt.Context
	if ctx <= 0 {
		ctx = DefaultDiffContext
	}

	u := difflib.UnifiedDiff{
		A:        splitLines(string(a)),
		B:        splitLines(string(b)),
		FromFile: aName,
		ToFile:   bName,
		Context:  ctx,
	}

	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return omitted(aName, bName), false
	}

	return s, false
}

// splitLines keeps the trailing newline on each line, which difflib expects.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}

	return strings.SplitAfter(s, "\n")
}

func omitted(aName, bName string) string {
	return fmt.Sprintf("--- %s\n+++ %s\n@@\n# diff omitted (oversize)\n", aName, bName)
}

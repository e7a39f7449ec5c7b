// Package report aggregates per-output classifications of a build pass into
// a Result and emits the make-style dependency file consumed by outer build
// systems.
package report

import (
	"sort"
)

// Classification describes what a pass did to one output file.
type Classification int

const (
	// Created means the file did not exist on disk and was written
	Created Classification = iota
	// Updated means the file existed with different content and was rewritten
	Updated
	// Unchanged means the file already held the generated content and was
	// left untouched
	Unchanged
)

func (c Classification) String() string {
	switch c {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Result is the outcome of one build pass. All slices are sorted and free of
// duplicates.
type Result struct {
	// Inputs are the inputs considered dirty in this pass
	Inputs    []string `json:"inputs"`
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`

	// Diffs holds a unified diff per updated output when diffs are enabled
	Diffs map[string]string `json:"diffs,omitempty"`

	// DiffsOmitted lists updated outputs whose diff was replaced by a
	// placeholder because the contents exceeded DiffOptions.MaxBytes
	DiffsOmitted []string `json:"diffs_omitted,omitempty"`
}

// Written returns every output the pass wrote, created or updated.
func (r *Result) Written() []string {
	out := make([]string, 0, len(r.Created)+len(r.Updated))
	out = append(out, r.Created...)
	out = append(out, r.Updated...)
	sort.Strings(out)

	return out
}

// NoOp reports whether the pass found nothing dirty and wrote nothing.
func (r *Result) NoOp() bool {
	return len(r.Inputs) == 0 && len(r.Created) == 0 && len(r.Updated) == 0
}

// Reporter folds classifications into a Result. It is not safe for
// concurrent use; the orchestrator feeds it from a single goroutine.
type Reporter struct {
	diff *DiffOptions

	inputs  map[string]struct{}
	outputs map[string]Classification
	diffs   map[string]string
	omitted map[string]struct{}
}

// NewReporter creates a Reporter. When diff is non-nil, updated outputs are
// recorded with a unified diff.
func NewReporter(diff *DiffOptions) *Reporter {
	return &Reporter{
		diff:    diff,
		inputs:  make(map[string]struct{}),
		outputs: make(map[string]Classification),
		diffs:   make(map[string]string),
		omitted: make(map[string]struct{}),
	}
}

// Input marks path as a dirty input.
func (r *Reporter) Input(path string) {
	r.inputs[path] = struct{}{}
}

// Record classifies output path. prev and next are only consulted for diffs
// of updated files. Recording the same path twice keeps the last
// classification.
func (r *Reporter) Record(path string, c Classification, prev, next []byte) {
	r.outputs[path] = c

	delete(r.diffs, path)
	delete(r.omitted, path)

	if c == Updated && r.diff != nil {
		d, oversize := Unified(path, path, prev, next, *r.diff)
		r.diffs[path] = d
		if oversize {
			r.omitted[path] = struct{}{}
		}
	}
}

// Result returns the aggregated outcome.
func (r *Reporter) Result() *Result {
	res := &Result{
		Inputs:    sortedKeys(r.inputs),
		Created:   []string{},
		Updated:   []string{},
		Unchanged: []string{},
	}

	paths := make([]string, 0, len(r.outputs))
	for p := range r.outputs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		switch r.outputs[p] {
		case Created:
			res.Created = append(res.Created, p)
		case Updated:
			res.Updated = append(res.Updated, p)
		case Unchanged:
			res.Unchanged = append(res.Unchanged, p)
		}
	}

	if len(r.diffs) > 0 {
		res.Diffs = make(map[string]string, len(r.diffs))
		for p, d := range r.diffs {
			res.Diffs[p] = d
		}
	}
	if len(r.omitted) > 0 {
		res.DiffsOmitted = sortedKeys(r.omitted)
	}

	return res
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)

	return out
}

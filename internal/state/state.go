// Package state persists the fingerprint and dependency snapshot of the last
// successful build pass.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/Norgate-AV/incgen/internal/fileutil"
)

// Version is the schema version of the persisted document. Any field added
// to State or its records bumps it; documents with another version are
// discarded rather than migrated.
const Version = 1

// FileDigest pairs a path with its content digest.
type FileDigest struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

// StemRecord is what the last successful pass knew about one stem.
type StemRecord struct {
	// Source is the declared interface source the stem is generated from
	Source string `json:"source"`

	// Inputs lists every dependency of the stem with the digest it had
	// when the stem was generated
	Inputs []FileDigest `json:"inputs"`

	// Outputs lists the produced files with the digest written
	Outputs []FileDigest `json:"outputs"`
}

// State is the versioned build snapshot.
type State struct {
	Version   int                   `json:"version"`
	Generator []FileDigest          `json:"generator"`
	Stems     map[string]StemRecord `json:"stems"`
	Global    []FileDigest          `json:"global"`
}

// ColdReason explains why Load returned an empty state.
type ColdReason string

const (
	Warm            ColdReason = ""
	ColdMissing     ColdReason = "state file does not exist"
	ColdUnparseable ColdReason = "state file is not valid JSON"
	ColdVersion     ColdReason = "state file version does not match"
)

// New returns an empty state at the current version.
func New() *State {
	return &State{
		Version:   Version,
		Generator: []FileDigest{},
		Stems:     make(map[string]StemRecord),
		Global:    []FileDigest{},
	}
}

// Load reads the state document at path. A missing, unparseable or
// version-mismatched document yields a fresh empty state and the reason; only
// unexpected read failures are returned as errors.
func Load(path string) (*State, ColdReason, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), ColdMissing, nil
		}
		return nil, Warm, fmt.Errorf("failed to read state file: %w", err)
	}

	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return New(), ColdUnparseable, nil
	}
	if probe.Version == nil || *probe.Version != Version {
		return New(), ColdVersion, nil
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return New(), ColdUnparseable, nil
	}
	s.normalize()

	return &s, Warm, nil
}

// Save writes the state document atomically.
func Save(path string, s *State) error {
	s.normalize()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := &State{
		Version:   s.Version,
		Generator: cloneDigests(s.Generator),
		Stems:     make(map[string]StemRecord, len(s.Stems)),
		Global:    cloneDigests(s.Global),
	}
	for name, rec := range s.Stems {
		c.Stems[name] = StemRecord{
			Source:  rec.Source,
			Inputs:  cloneDigests(rec.Inputs),
			Outputs: cloneDigests(rec.Outputs),
		}
	}

	return c
}

// SetStem replaces the record of a stem.
func (s *State) SetStem(name string, rec StemRecord) {
	rec.Inputs = sortDigests(rec.Inputs)
	rec.Outputs = sortDigests(rec.Outputs)
	s.Stems[name] = rec
}

// RemoveStem drops a stem's record.
func (s *State) RemoveStem(name string) {
	delete(s.Stems, name)
}

// SetGenerator replaces the recorded generator-logic digests.
func (s *State) SetGenerator(files []FileDigest) {
	s.Generator = sortDigests(cloneDigests(files))
}

// SetGlobal replaces the recorded global outputs.
func (s *State) SetGlobal(files []FileDigest) {
	s.Global = sortDigests(cloneDigests(files))
}

// InputDigests maps every recorded stem input to its digest. The second map
// holds paths that were recorded with conflicting digests by different stems.
func (s *State) InputDigests() (map[string]string, map[string]bool) {
	digests := make(map[string]string)
	conflicts := make(map[string]bool)

	for _, rec := range s.Stems {
		for _, in := range rec.Inputs {
			if prev, ok := digests[in.Path]; ok && prev != in.Digest {
				conflicts[in.Path] = true
				continue
			}
			digests[in.Path] = in.Digest
		}
	}

	return digests, conflicts
}

// GeneratorDigests maps each recorded generator-logic file to its digest.
func (s *State) GeneratorDigests() map[string]string {
	out := make(map[string]string, len(s.Generator))
	for _, f := range s.Generator {
		out[f.Path] = f.Digest
	}

	return out
}

// Outputs returns every recorded output path, per stem and global, sorted.
func (s *State) Outputs() []string {
	seen := make(map[string]struct{})
	for _, rec := range s.Stems {
		for _, o := range rec.Outputs {
			seen[o.Path] = struct{}{}
		}
	}
	for _, o := range s.Global {
		seen[o.Path] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)

	return out
}

func (s *State) normalize() {
	if s.Version == 0 {
		s.Version = Version
	}
	if s.Stems == nil {
		s.Stems = make(map[string]StemRecord)
	}
	if s.Generator == nil {
		s.Generator = []FileDigest{}
	}
	if s.Global == nil {
		s.Global = []FileDigest{}
	}
	for name, rec := range s.Stems {
		if rec.Inputs == nil {
			rec.Inputs = []FileDigest{}
		}
		if rec.Outputs == nil {
			rec.Outputs = []FileDigest{}
		}
		rec.Inputs = sortDigests(rec.Inputs)
		rec.Outputs = sortDigests(rec.Outputs)
		s.Stems[name] = rec
	}
	s.Generator = sortDigests(s.Generator)
	s.Global = sortDigests(s.Global)
}

func cloneDigests(in []FileDigest) []FileDigest {
	out := make([]FileDigest, len(in))
	copy(out, in)
	return out
}

func sortDigests(in []FileDigest) []FileDigest {
	sort.Slice(in, func(i, j int) bool {
		return in[i].Path < in[j].Path
	})
	return in
}

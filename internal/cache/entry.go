package cache

import (
	"sort"
	"time"

	"github.com/Norgate-AV/incgen/internal/state"
)

// Entry represents one cached stem generation
type Entry struct {
	// Key is the unique identifier for this cache entry
	// Computed from: stem name + dependency digests + generator logic digest
	Key string `json:"key"`

	// Stem is the name of the stem that was generated
	Stem string `json:"stem"`

	// Timestamp when this entry was created
	Timestamp time.Time `json:"timestamp"`

	// Outputs lists the produced files and the digest of their content blob
	Outputs []state.FileDigest `json:"outputs"`
}

func (e *Entry) sortOutputs() {
	sort.Slice(e.Outputs, func(i, j int) bool {
		return e.Outputs[i].Path < e.Outputs[j].Path
	})
}

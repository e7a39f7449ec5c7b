package codegen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/Norgate-AV/incgen/internal/cache"
	"github.com/Norgate-AV/incgen/internal/depgraph"
	"github.com/Norgate-AV/incgen/internal/fileutil"
	"github.com/Norgate-AV/incgen/internal/fingerprint"
	"github.com/Norgate-AV/incgen/internal/state"
)

// Reasons a stem is dirty, as reported in Plan.Reasons
const (
	ReasonNew           = "new stem"
	ReasonSourceMoved   = "source moved"
	ReasonLogicChanged  = "generator logic changed"
	ReasonInputChanged  = "input changed"
	ReasonOutputMissing = "output missing"
)

// Plan describes the work a Generate call would do. It is computed from the
// persisted state and the current content of every input, without writing.
type Plan struct {
	// Changed lists every input whose digest differs from the last
	// successful pass, including generator logic files
	Changed []string

	// LogicChanged is set when any generator logic file changed, appeared
	// or was removed from the configuration
	LogicChanged bool

	// Dirty lists the stems to regenerate, sorted
	Dirty []string

	// Reasons maps each dirty stem to why it is dirty
	Reasons map[string]string

	// Stale lists recorded stems whose source is no longer declared
	Stale []string

	// GlobalDirty is set when the global outputs will be regenerated
	GlobalDirty bool

	// Inputs is what the pass reports as its dirty inputs: changed
	// non-logic inputs plus the source of every dirty stem
	Inputs []string
}

// Empty reports whether the pass would neither generate nor persist
// anything.
func (p *Plan) Empty() bool {
	return len(p.Changed) == 0 && !p.LogicChanged && len(p.Dirty) == 0 &&
		len(p.Stale) == 0 && !p.GlobalDirty
}

// pass carries what planning learned into generation.
type pass struct {
	plan        *Plan
	fp          *fingerprint.Fingerprinter
	logic       []state.FileDigest
	logicDigest fingerprint.Digest
	dirty       map[string]bool
}

func (m *Manager) plan(ctx context.Context) (*pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Files may have changed since the previous pass
	fp := m.fp
	fp.Reset()

	st := m.state
	p := &Plan{Reasons: make(map[string]string)}
	changed := make(map[string]struct{})
	logicPaths := make(map[string]struct{})

	// Generator logic
	recordedLogic := st.GeneratorDigests()
	logic := make([]state.FileDigest, 0, len(m.opts.GeneratorFiles))
	for _, path := range m.opts.GeneratorFiles {
		d, err := fp.File(path)
		if err != nil {
			return nil, &IOError{Op: "fingerprint", Path: path, Err: err}
		}

		logic = append(logic, state.FileDigest{Path: path, Digest: string(d)})
		logicPaths[path] = struct{}{}

		if prev, ok := recordedLogic[path]; !ok || prev != string(d) {
			changed[path] = struct{}{}
			p.LogicChanged = true
		}
		delete(recordedLogic, path)
	}
	for path := range recordedLogic {
		// Dropped from the configuration
		changed[path] = struct{}{}
		logicPaths[path] = struct{}{}
		p.LogicChanged = true
	}

	// Start from the graph of the last successful pass, drop stems that are
	// no longer declared and re-register the declared ones against their
	// current sources.
	g := depgraph.New()
	for _, l := range logic {
		g.MarkLogic(l.Path)
	}

	for name, rec := range st.Stems {
		if err := g.Register(name, recordedInputs(rec)); err != nil {
			return nil, fmt.Errorf("failed to build dependency graph: %w", err)
		}

		if _, ok := m.byName[name]; !ok {
			p.Stale = append(p.Stale, name)
			if err := g.Remove(name); err != nil {
				return nil, fmt.Errorf("failed to build dependency graph: %w", err)
			}
		}
	}
	sort.Strings(p.Stale)

	for _, s := range m.stems {
		inputs := []string{s.Source}
		if rec, ok := st.Stems[s.Name]; ok && rec.Source == s.Source {
			inputs = recordedInputs(rec)
		}

		if err := g.Register(s.Name, inputs); err != nil {
			return nil, fmt.Errorf("failed to build dependency graph: %w", err)
		}

		for _, in := range inputs {
			if err := g.Include(s.Source, in); err != nil {
				return nil, fmt.Errorf("failed to build dependency graph: %w", err)
			}
		}
	}

	// Declared sources must exist; a recorded dependency that vanished
	// counts as changed
	recorded, conflicts := st.InputDigests()
	checked := make(map[string]struct{})
	check := func(path string, required bool) error {
		if _, ok := checked[path]; ok {
			return nil
		}
		checked[path] = struct{}{}

		d, err := fp.File(path)
		if err != nil {
			if !required && errors.Is(err, os.ErrNotExist) {
				changed[path] = struct{}{}
				return nil
			}
			return &IOError{Op: "fingerprint", Path: path, Err: err}
		}

		if prev, ok := recorded[path]; !ok || prev != string(d) || conflicts[path] {
			changed[path] = struct{}{}
		}

		return nil
	}

	for _, s := range m.stems {
		if err := check(s.Source, true); err != nil {
			return nil, err
		}
	}

	for _, name := range g.Stems() {
		deps, err := g.Dependencies(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read dependency graph: %w", err)
		}

		for _, dep := range deps {
			if err := check(dep, false); err != nil {
				return nil, err
			}
		}
	}

	expanded, err := g.ExpandDirty(sortedSet(changed))
	if err != nil {
		return nil, err
	}

	for _, name := range expanded {
		p.Reasons[name] = ReasonInputChanged
	}
	if p.LogicChanged {
		for _, s := range m.stems {
			p.Reasons[s.Name] = ReasonLogicChanged
		}
	}

	for _, s := range m.stems {
		rec, ok := st.Stems[s.Name]
		switch {
		case !ok:
			p.Reasons[s.Name] = ReasonNew
		case rec.Source != s.Source:
			p.Reasons[s.Name] = ReasonSourceMoved
		default:
			if _, dirty := p.Reasons[s.Name]; dirty {
				continue
			}

			missing, err := missingOutput(rec.Outputs)
			if err != nil {
				return nil, err
			}
			if missing != "" {
				p.Reasons[s.Name] = ReasonOutputMissing
			}
		}
	}

	dirty := make(map[string]bool, len(p.Reasons))
	for name := range p.Reasons {
		dirty[name] = true
		p.Dirty = append(p.Dirty, name)
	}
	sort.Strings(p.Dirty)

	if m.global != nil {
		p.GlobalDirty = len(changed) > 0 || len(p.Dirty) > 0 || len(p.Stale) > 0
		if !p.GlobalDirty {
			missing, err := missingOutput(st.Global)
			if err != nil {
				return nil, err
			}
			p.GlobalDirty = missing != ""
		}
	}

	inputs := make(map[string]struct{})
	for path := range changed {
		if _, ok := logicPaths[path]; !ok {
			inputs[path] = struct{}{}
		}
	}
	for _, name := range p.Dirty {
		inputs[m.byName[name].Source] = struct{}{}
	}

	p.Changed = sortedSet(changed)
	p.Inputs = sortedSet(inputs)

	return &pass{
		plan:        p,
		fp:          fp,
		logic:       logic,
		logicDigest: cache.LogicDigest(logic),
		dirty:       dirty,
	}, nil
}

// recordedInputs is the source of rec followed by its recorded dependencies.
func recordedInputs(rec state.StemRecord) []string {
	inputs := make([]string, 0, len(rec.Inputs)+1)
	inputs = append(inputs, rec.Source)
	for _, in := range rec.Inputs {
		inputs = append(inputs, in.Path)
	}

	return inputs
}

// missingOutput returns the first recorded output that is no longer on disk.
func missingOutput(outputs []state.FileDigest) (string, error) {
	for _, o := range outputs {
		ok, err := fileutil.Exists(o.Path)
		if err != nil {
			return "", &IOError{Op: "stat", Path: o.Path, Err: err}
		}
		if !ok {
			return o.Path, nil
		}
	}

	return "", nil
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)

	return out
}

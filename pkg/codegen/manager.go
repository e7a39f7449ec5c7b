// Package codegen drives incremental code generation: it fingerprints the
// declared interface sources and the generator's own logic files, works out
// which stems are affected by what changed since the last successful pass,
// regenerates only those, and persists enough state to do it again.
//
// A pass either succeeds completely or leaves outputs and state as they
// were: every stem is generated before the first file is written, and the
// state document is saved last.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/incgen/internal/cache"
	"github.com/Norgate-AV/incgen/internal/fileutil"
	"github.com/Norgate-AV/incgen/internal/fingerprint"
	"github.com/Norgate-AV/incgen/internal/report"
	"github.com/Norgate-AV/incgen/internal/state"
)

// Result is the outcome of a Generate call.
type Result = report.Result

// Manager owns the build state of one generation setup. Calls are
// serialized; concurrent passes against the same state path from different
// processes are the caller's responsibility.
type Manager struct {
	mu sync.Mutex

	opts   Options
	gen    Generator
	global GlobalProducer
	log    *slog.Logger

	stems  []Stem
	byName map[string]Stem

	state *state.State
	cache *cache.Cache
	fp    *fingerprint.Fingerprinter
}

// New creates a Manager, loading the persisted state once and opening the
// generation cache when Options.CacheDir is set.
func New(opts Options, gen Generator) (*Manager, error) {
	if gen == nil {
		return nil, configError("generator is required")
	}

	if err := opts.normalize(); err != nil {
		return nil, err
	}

	stems, err := opts.stems()
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.New(fingerprint.DefaultMemoSize)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		opts:   opts,
		gen:    gen,
		global: globalProducer(gen),
		log:    opts.Logger,
		stems:  stems,
		byName: make(map[string]Stem, len(stems)),
		fp:     fp,
	}
	for _, s := range stems {
		m.byName[s.Name] = s
	}

	st, reason, err := state.Load(opts.StatePath)
	if err != nil {
		return nil, &IOError{Op: "load state", Path: opts.StatePath, Err: err}
	}
	switch reason {
	case state.Warm:
	case state.ColdMissing:
		m.log.Info("cold start", "reason", string(reason), "path", opts.StatePath)
	default:
		m.log.Warn("discarding build state", "reason", string(reason), "path", opts.StatePath)
	}
	m.state = st

	if opts.CacheDir != "" {
		c, err := cache.New(opts.CacheDir)
		if err != nil {
			m.log.Warn("generation cache disabled", "dir", opts.CacheDir, "error", err)
		} else {
			m.cache = c
			if entries, size, err := c.Stats(); err == nil {
				m.log.Debug("generation cache opened", "dir", opts.CacheDir, "entries", entries, "bytes", size)
			}
		}
	}

	return m, nil
}

// Close releases the generation cache.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache == nil {
		return nil
	}

	err := m.cache.Close()
	m.cache = nil

	return err
}

// Stems returns the declared stems, sorted by name.
func (m *Manager) Stems() []Stem {
	out := make([]Stem, len(m.stems))
	copy(out, m.stems)

	return out
}

// Plan reports what the next Generate would do without writing anything.
func (m *Manager) Plan(ctx context.Context) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, err := m.plan(ctx)
	if err != nil {
		return nil, err
	}

	return ps.plan, nil
}

// ExpectedOutputs returns every output path recorded by the last successful
// pass, per stem and global, sorted.
func (m *Manager) ExpectedOutputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.Outputs()
}

// Clean removes the state file and empties the generation cache so the next
// pass starts cold. Generated outputs are left in place.
func (m *Manager) Clean() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.opts.StatePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &IOError{Op: "remove state", Path: m.opts.StatePath, Err: err}
	}

	if m.cache != nil {
		if err := m.cache.Clear(); err != nil {
			return fmt.Errorf("failed to clear generation cache: %w", err)
		}
	}

	m.state = state.New()
	m.log.Info("build state cleaned", "path", m.opts.StatePath)

	return nil
}

// Generate runs one incremental pass and reports what it did.
//
// Outputs are written first, then the make-style dependency file, and the
// state document last. A failure at any step returns before the state is
// saved, so the next pass redoes the work.
func (m *Manager) Generate(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, err := m.plan(ctx)
	if err != nil {
		return nil, err
	}
	p := ps.plan

	for _, name := range p.Dirty {
		m.log.Debug("stem dirty", "stem", name, "reason", p.Reasons[name])
	}
	for _, name := range p.Stale {
		m.log.Debug("stem stale", "stem", name)
	}

	results, err := m.generateStems(ctx, ps)
	if err != nil {
		return nil, err
	}

	var global map[string][]byte
	if p.GlobalDirty {
		raw, err := m.global.ProduceGlobal(ctx, m.Stems())
		if err != nil {
			return nil, &GeneratorError{Op: OpGlobal, Err: err}
		}

		if global, err = m.resolveOutputs(raw); err != nil {
			return nil, &GeneratorError{Op: OpGlobal, Err: err}
		}
	}

	outputs, err := m.collectOutputs(ps, results, global)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep := report.NewReporter(m.diffOptions())
	for _, in := range p.Inputs {
		rep.Input(in)
	}

	written, err := m.writeOutputs(rep, outputs)
	if err != nil {
		return nil, err
	}
	m.recordClean(rep, ps)

	next := m.nextState(ps, results, global)
	if err := m.writeMakeDeps(next); err != nil {
		return nil, err
	}

	if !p.Empty() {
		if err := state.Save(m.opts.StatePath, next); err != nil {
			return nil, &IOError{Op: "save state", Path: m.opts.StatePath, Err: err}
		}
	}
	m.state = next

	m.storeCache(results)

	res := rep.Result()
	m.log.Info("generation complete",
		"inputs", len(res.Inputs),
		"dirty", len(p.Dirty),
		"created", len(res.Created),
		"updated", len(res.Updated),
		"unchanged", len(res.Unchanged),
		"written", written,
	)
	if len(res.DiffsOmitted) > 0 {
		m.log.Debug("diffs omitted for oversize outputs", "outputs", res.DiffsOmitted)
	}

	return res, nil
}

// stemResult is one worker's output; workers never touch shared state.
type stemResult struct {
	stem    Stem
	inputs  []state.FileDigest
	key     string
	raw     map[string][]byte
	outputs map[string][]byte
	cached  bool
}

func (m *Manager) generateStems(ctx context.Context, ps *pass) ([]*stemResult, error) {
	results := make([]*stemResult, len(ps.plan.Dirty))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Jobs)

	for i, name := range ps.plan.Dirty {
		stem := m.byName[name]

		g.Go(func() error {
			r, err := m.generateStem(gctx, ps, stem)
			if err != nil {
				return err
			}

			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (m *Manager) generateStem(ctx context.Context, ps *pass, stem Stem) (*stemResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deps, err := m.gen.Dependencies(ctx, stem)
	if err != nil {
		return nil, &GeneratorError{Stem: stem.Name, Op: OpDependencies, Err: err}
	}

	paths := resolveDependencies(stem, deps)
	inputs := make([]state.FileDigest, 0, len(paths))
	for _, path := range paths {
		d, err := ps.fp.File(path)
		if err != nil {
			return nil, &IOError{Op: "fingerprint", Path: path, Err: err}
		}

		inputs = append(inputs, state.FileDigest{Path: path, Digest: string(d)})
	}

	r := &stemResult{
		stem:   stem,
		inputs: inputs,
		key:    cache.Key(stem.Name, inputs, ps.logicDigest),
	}

	if raw, ok := m.lookupCache(r.key, stem); ok {
		r.raw = raw
		r.cached = true
	} else {
		raw, err := m.gen.Produce(ctx, stem)
		if err != nil {
			return nil, &GeneratorError{Stem: stem.Name, Op: OpProduce, Err: err}
		}
		r.raw = raw
	}

	if r.outputs, err = m.resolveOutputs(r.raw); err != nil {
		return nil, &GeneratorError{Stem: stem.Name, Op: OpProduce, Err: err}
	}

	m.log.Debug("stem generated", "stem", stem.Name, "inputs", len(inputs), "outputs", len(r.outputs), "cached", r.cached)

	return r, nil
}

// collectOutputs merges every produced file into one map, rejecting paths
// claimed by two producers, including stems that were not regenerated.
func (m *Manager) collectOutputs(ps *pass, results []*stemResult, global map[string][]byte) (map[string][]byte, error) {
	owners := make(map[string]string)
	outputs := make(map[string][]byte)

	for name, rec := range m.state.Stems {
		if ps.dirty[name] {
			continue
		}
		if _, declared := m.byName[name]; !declared {
			continue
		}
		for _, o := range rec.Outputs {
			owners[o.Path] = "stem " + name
		}
	}
	if !ps.plan.GlobalDirty {
		for _, o := range m.state.Global {
			owners[o.Path] = "global outputs"
		}
	}

	claim := func(owner string, produced map[string][]byte) error {
		for path, data := range produced {
			if prev, ok := owners[path]; ok {
				return fmt.Errorf("output %s is also produced by %s", path, prev)
			}
			owners[path] = owner
			outputs[path] = data
		}

		return nil
	}

	for _, r := range results {
		if err := claim("stem "+r.stem.Name, r.outputs); err != nil {
			return nil, &GeneratorError{Stem: r.stem.Name, Op: OpProduce, Err: err}
		}
	}
	if err := claim("global outputs", global); err != nil {
		return nil, &GeneratorError{Op: OpGlobal, Err: err}
	}

	return outputs, nil
}

// writeOutputs classifies each output against what is on disk and writes
// the ones that differ. It returns the number of files written.
//
// Writing happens in three phases so that a read or write failure leaves
// every existing output as it was: all outputs are read and classified,
// then every changed one is staged next to its destination, and only then
// are the staged files renamed into place.
func (m *Manager) writeOutputs(rep *report.Reporter, outputs map[string][]byte) (int, error) {
	paths := make([]string, 0, len(outputs))
	for p := range outputs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	type pending struct {
		path     string
		class    report.Classification
		existing []byte
		tmp      string
	}

	files := make([]*pending, 0, len(paths))
	for _, path := range paths {
		existing, err := os.ReadFile(path)

		f := &pending{path: path, existing: existing}
		switch {
		case errors.Is(err, os.ErrNotExist):
			f.class = report.Created
		case err != nil:
			return 0, &IOError{Op: "read output", Path: path, Err: err}
		case fingerprint.Bytes(existing) == fingerprint.Bytes(outputs[path]):
			f.class = report.Unchanged
		default:
			f.class = report.Updated
		}

		files = append(files, f)
	}

	discard := func() {
		for _, f := range files {
			if f.tmp != "" {
				_ = os.Remove(f.tmp)
				f.tmp = ""
			}
		}
	}

	for _, f := range files {
		if f.class == report.Unchanged {
			continue
		}

		tmp, err := fileutil.Stage(f.path, outputs[f.path], 0o644)
		if err != nil {
			discard()
			return 0, &IOError{Op: "write output", Path: f.path, Err: err}
		}
		f.tmp = tmp
	}

	written := 0
	for _, f := range files {
		if f.tmp == "" {
			continue
		}

		err := fileutil.Commit(f.tmp, f.path)
		f.tmp = ""
		if err != nil {
			discard()
			return written, &IOError{Op: "write output", Path: f.path, Err: err}
		}
		written++
	}

	for _, f := range files {
		m.log.Debug("output", "path", f.path, "result", f.class.String())
		rep.Record(f.path, f.class, f.existing, outputs[f.path])
	}

	return written, nil
}

// recordClean reports the recorded outputs of stems that were not
// regenerated as unchanged.
func (m *Manager) recordClean(rep *report.Reporter, ps *pass) {
	for _, s := range m.stems {
		if ps.dirty[s.Name] {
			continue
		}

		for _, o := range m.state.Stems[s.Name].Outputs {
			rep.Record(o.Path, report.Unchanged, nil, nil)
		}
	}

	if !ps.plan.GlobalDirty {
		for _, o := range m.state.Global {
			rep.Record(o.Path, report.Unchanged, nil, nil)
		}
	}
}

// nextState derives the state of a successful pass from a clone of the
// current one.
func (m *Manager) nextState(ps *pass, results []*stemResult, global map[string][]byte) *state.State {
	next := m.state.Clone()

	for _, name := range ps.plan.Stale {
		next.RemoveStem(name)
	}

	for _, r := range results {
		next.SetStem(r.stem.Name, state.StemRecord{
			Source:  r.stem.Source,
			Inputs:  r.inputs,
			Outputs: digests(r.outputs),
		})
	}

	next.SetGenerator(ps.logic)

	if ps.plan.GlobalDirty {
		next.SetGlobal(digests(global))
	}

	return next
}

func (m *Manager) diffOptions() *report.DiffOptions {
	if !m.opts.Diff {
		return nil
	}

	return &report.DiffOptions{MaxBytes: DefaultDiffMaxBytes}
}

func (m *Manager) lookupCache(key string, stem Stem) (map[string][]byte, bool) {
	if m.cache == nil {
		return nil, false
	}

	entry, err := m.cache.Get(key)
	if err != nil {
		m.log.Warn("generation cache read failed", "stem", stem.Name, "error", err)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}

	raw, err := m.cache.Restore(entry)
	if err != nil {
		m.log.Warn("generation cache entry unusable", "stem", stem.Name, "error", err)
		return nil, false
	}

	return raw, true
}

func (m *Manager) storeCache(results []*stemResult) {
	if m.cache == nil {
		return
	}

	for _, r := range results {
		if r.cached {
			continue
		}

		if err := m.cache.Store(r.key, r.stem.Name, r.raw); err != nil {
			m.log.Warn("generation cache store failed", "stem", r.stem.Name, "error", err)
		}
	}
}

// writeMakeDeps refreshes the make-style dependency file from st with every
// source, recorded dependency and generator logic file.
func (m *Manager) writeMakeDeps(st *state.State) error {
	if m.opts.MakeDepsPath == "" {
		return nil
	}

	deps := make([]string, 0, len(m.stems)+len(m.opts.GeneratorFiles))
	for _, s := range m.stems {
		deps = append(deps, s.Source)
		for _, in := range st.Stems[s.Name].Inputs {
			deps = append(deps, in.Path)
		}
	}
	deps = append(deps, m.opts.GeneratorFiles...)

	changed, err := report.WriteMakeDeps(m.opts.MakeDepsPath, m.opts.MakeDepsTarget, deps)
	if err != nil {
		return &IOError{Op: "write make dependencies", Path: m.opts.MakeDepsPath, Err: err}
	}
	if changed {
		m.log.Debug("make dependencies updated", "path", m.opts.MakeDepsPath, "deps", len(deps))
	}

	return nil
}

func digests(files map[string][]byte) []state.FileDigest {
	out := make([]state.FileDigest, 0, len(files))
	for path, data := range files {
		out = append(out, state.FileDigest{Path: path, Digest: string(fingerprint.Bytes(data))})
	}

	return out
}

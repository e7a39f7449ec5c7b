package codegen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeGen is a tiny IDL generator: "include X" lines declare a dependency on
// X.idl next to the source, "//" lines are comments and do not reach the
// output, every other line is copied into <stem>.h together with the bodies
// of directly included files.
type fakeGen struct {
	mu       sync.Mutex
	produced map[string]int
	globals  int
	failFor  string
}

func newFakeGen() *fakeGen {
	return &fakeGen{produced: make(map[string]int)}
}

func (g *fakeGen) Dependencies(ctx context.Context, stem Stem) ([]string, error) {
	data, err := os.ReadFile(stem.Source)
	if err != nil {
		return nil, err
	}

	return includes(data), nil
}

func (g *fakeGen) Produce(ctx context.Context, stem Stem) (map[string][]byte, error) {
	g.mu.Lock()
	g.produced[stem.Name]++
	fail := g.failFor == stem.Name
	g.mu.Unlock()

	if fail {
		return nil, errors.New("template exploded")
	}

	data, err := os.ReadFile(stem.Source)
	if err != nil {
		return nil, err
	}

	var h strings.Builder
	h.WriteString("// generated " + stem.Name + "\n")
	writeBody(&h, data)

	for _, inc := range includes(data) {
		incData, err := os.ReadFile(filepath.Join(filepath.Dir(stem.Source), inc))
		if err != nil {
			return nil, err
		}
		h.WriteString("// from " + inc + "\n")
		writeBody(&h, incData)
	}

	return map[string][]byte{
		stem.Name + ".h":   []byte(h.String()),
		stem.Name + ".cpp": []byte("#include \"" + stem.Name + ".h\"\n"),
	}, nil
}

func (g *fakeGen) ProduceGlobal(ctx context.Context, stems []Stem) (map[string][]byte, error) {
	g.mu.Lock()
	g.globals++
	g.mu.Unlock()

	var b strings.Builder
	for _, s := range stems {
		b.WriteString("#include \"" + s.Name + ".h\"\n")
	}

	return map[string][]byte{"all.h": []byte(b.String())}, nil
}

func (g *fakeGen) count(stem string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.produced[stem]
}

func (g *fakeGen) fail(stem string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failFor = stem
}

func includes(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "include "); ok {
			out = append(out, strings.TrimSpace(name)+".idl")
		}
	}

	return out
}

func writeBody(b *strings.Builder, data []byte) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "include ") {
			continue
		}
		b.WriteString(line + "\n")
	}
}

// fixture lays out a project: idl/ holds the sources, gen/ the generator
// logic file and out/ the generated files.
type fixture struct {
	t       *testing.T
	root    string
	idl     string
	out     string
	logic   string
	state   string
	sources map[string]string
	gen     *fakeGen
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	f := &fixture{
		t:       t,
		root:    root,
		idl:     filepath.Join(root, "idl"),
		out:     filepath.Join(root, "out"),
		logic:   filepath.Join(root, "gen", "codegen.tmpl"),
		state:   filepath.Join(root, "build", "state.json"),
		sources: make(map[string]string),
		gen:     newFakeGen(),
	}

	require.NoError(t, os.MkdirAll(f.idl, 0o755))
	f.writeFile(f.logic, "template v1\n")

	return f
}

// abc creates the A, B (includes A), C (independent) sources.
func (f *fixture) abc() {
	f.source("A", "interface A {}\n")
	f.source("B", "include A\ninterface B : A {}\n")
	f.source("C", "interface C {}\n")
}

// source writes a declared source and returns its path.
func (f *fixture) source(name, content string) string {
	path := f.idlPath(name)
	f.writeFile(path, content)
	f.sources[name] = path

	return path
}

// undeclare drops a source from the inputs, leaving the file in place.
func (f *fixture) undeclare(name string) {
	delete(f.sources, name)
}

func (f *fixture) idlPath(name string) string {
	return filepath.Join(f.idl, name+".idl")
}

func (f *fixture) outPath(name string) string {
	return filepath.Join(f.out, name)
}

func (f *fixture) outPaths(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, f.outPath(n))
	}
	sort.Strings(out)

	return out
}

func (f *fixture) idlPaths(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, f.idlPath(n))
	}
	sort.Strings(out)

	return out
}

func (f *fixture) writeFile(path, content string) {
	f.t.Helper()

	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) appendFile(path, content string) {
	f.t.Helper()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(f.t, err)
	_, err = file.WriteString(content)
	require.NoError(f.t, err)
	require.NoError(f.t, file.Close())
}

func (f *fixture) readFile(path string) string {
	f.t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(f.t, err)

	return string(data)
}

func (f *fixture) options() Options {
	inputs := make([]string, 0, len(f.sources))
	for _, p := range f.sources {
		inputs = append(inputs, p)
	}

	return Options{
		Inputs:         inputs,
		GeneratorFiles: []string{f.logic},
		StatePath:      f.state,
		OutputDir:      f.out,
	}
}

func (f *fixture) manager(mods ...func(*Options)) *Manager {
	f.t.Helper()

	opts := f.options()
	for _, mod := range mods {
		mod(&opts)
	}

	m, err := New(opts, f.gen)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = m.Close() })

	return m
}

// generate runs one pass with a fresh Manager, as a separate build
// invocation would.
func (f *fixture) generate(mods ...func(*Options)) (*Result, error) {
	m := f.manager(mods...)
	defer m.Close()

	return m.Generate(context.Background())
}

func (f *fixture) run(mods ...func(*Options)) *Result {
	f.t.Helper()

	res, err := f.generate(mods...)
	require.NoError(f.t, err)

	return res
}

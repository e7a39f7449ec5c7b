package codegen

import (
	"context"
	"errors"
)

// Stem is a named unit of generated output derived from one declared source.
type Stem struct {
	// Name is the source base name without its extension
	Name string

	// Source is the absolute path of the interface source
	Source string
}

// Generator performs the actual code generation for a stem.
type Generator interface {
	// Dependencies returns every file the stem's output is derived from. The
	// source itself is always included by the manager. Relative paths
	// resolve against the directory of the source.
	Dependencies(ctx context.Context, stem Stem) ([]string, error)

	// Produce returns the generated files of a stem keyed by output path.
	// Relative paths resolve against the configured output directory.
	Produce(ctx context.Context, stem Stem) (map[string][]byte, error)
}

// GlobalProducer is implemented by generators that also emit outputs
// aggregating over every stem, such as a combined header.
type GlobalProducer interface {
	ProduceGlobal(ctx context.Context, stems []Stem) (map[string][]byte, error)
}

// Funcs adapts plain functions to Generator. GlobalFunc is optional.
type Funcs struct {
	DependenciesFunc func(ctx context.Context, stem Stem) ([]string, error)
	ProduceFunc      func(ctx context.Context, stem Stem) (map[string][]byte, error)
	GlobalFunc       func(ctx context.Context, stems []Stem) (map[string][]byte, error)
}

func (f Funcs) Dependencies(ctx context.Context, stem Stem) ([]string, error) {
	if f.DependenciesFunc == nil {
		return nil, nil
	}

	return f.DependenciesFunc(ctx, stem)
}

func (f Funcs) Produce(ctx context.Context, stem Stem) (map[string][]byte, error) {
	if f.ProduceFunc == nil {
		return nil, errors.New("no produce function configured")
	}

	return f.ProduceFunc(ctx, stem)
}

func (f Funcs) ProduceGlobal(ctx context.Context, stems []Stem) (map[string][]byte, error) {
	if f.GlobalFunc == nil {
		return nil, nil
	}

	return f.GlobalFunc(ctx, stems)
}

// globalProducer returns gen as a GlobalProducer when it actually produces
// global outputs. A Funcs without GlobalFunc does not.
func globalProducer(gen Generator) GlobalProducer {
	switch f := gen.(type) {
	case Funcs:
		if f.GlobalFunc == nil {
			return nil
		}
	case *Funcs:
		if f == nil || f.GlobalFunc == nil {
			return nil
		}
	}

	if gp, ok := gen.(GlobalProducer); ok {
		return gp
	}

	return nil
}

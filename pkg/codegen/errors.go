package codegen

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrGenerator marks a failure reported by the Generator
	ErrGenerator = errors.New("generator failed")

	// ErrIO marks an unreadable input or an unwritable output
	ErrIO = errors.New("i/o failure")

	// ErrConfig marks invalid Options
	ErrConfig = errors.New("invalid configuration")
)

// Generator operations reported in GeneratorError.Op
const (
	OpDependencies = "dependencies"
	OpProduce      = "produce"
	OpGlobal       = "global"
)

// GeneratorError is returned when the generator fails for a stem, or for the
// global outputs when Stem is empty.
type GeneratorError struct {
	Stem string
	Op   string
	Err  error
}

func (e *GeneratorError) Error() string {
	if e.Stem == "" {
		return fmt.Sprintf("generator %s failed: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("generator %s failed for stem %s: %v", e.Op, e.Stem, e.Err)
}

func (e *GeneratorError) Unwrap() error {
	return e.Err
}

func (e *GeneratorError) Is(target error) bool {
	return target == ErrGenerator
}

// IOError carries the path of a file that could not be read or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Package searchspace discretizes the tunable parameter ranges into a fixed
// grid and addresses the Cartesian product of all grids as a flat action
// index space.
package searchspace

import (
	"math/rand"

	"github.com/bofitdev/bofit/internal/errors"
)

// ParameterSpec describes one tunable parameter: its bounds and the number of
// grid points its range is discretized into. Immutable once loaded.
type ParameterSpec struct {
	Name   string
	Min    float64
	Max    float64
	Points int
}

// Value returns the i-th grid value for the spec. For a single-point grid the
// value is always Min.
func (p ParameterSpec) Value(i int) float64 {
	if p.Points <= 1 {
		return p.Min
	}
	return p.Min + float64(i)*(p.Max-p.Min)/float64(p.Points-1)
}

// Candidate is one discretized parameter-value vector together with its
// action index. Immutable after creation.
type Candidate struct {
	// Index is the candidate's position in the flat action index space.
	Index int
	// Values holds the parameter values in spec order.
	Values []float64
	names  []string
}

// Names returns the parameter names in spec order.
func (c Candidate) Names() []string { return c.names }

// Value returns the value for the named parameter, and whether it exists.
func (c Candidate) Value(name string) (float64, bool) {
	for i, n := range c.names {
		if n == name {
			return c.Values[i], true
		}
	}
	return 0, false
}

// Space enumerates the Cartesian product of all parameter grids. Every index
// in [0, Size) maps deterministically and bijectively to one value vector.
type Space struct {
	specs []ParameterSpec
	size  int
}

// New validates the specs and builds a Space.
func New(specs []ParameterSpec) (*Space, error) {
	if len(specs) == 0 {
		return nil, errors.New(errors.KindConfig, "no parameters defined")
	}
	size := 1
	for _, s := range specs {
		if s.Points < 1 {
			return nil, errors.Newf(errors.KindConfig,
				"parameter %s: grid count must be at least 1, got %d", s.Name, s.Points)
		}
		if s.Min > s.Max {
			return nil, errors.Newf(errors.KindConfig,
				"parameter %s: inverted bounds [%g, %g]", s.Name, s.Min, s.Max)
		}
		size *= s.Points
	}
	return &Space{specs: append([]ParameterSpec(nil), specs...), size: size}, nil
}

// Size returns the total number of grid combinations.
func (s *Space) Size() int { return s.size }

// Specs returns the parameter specs in order.
func (s *Space) Specs() []ParameterSpec { return s.specs }

// Names returns the parameter names in spec order.
func (s *Space) Names() []string {
	names := make([]string, len(s.specs))
	for i, p := range s.specs {
		names[i] = p.Name
	}
	return names
}

// Decode maps an action index to its Candidate. The last parameter varies
// fastest, matching row-major enumeration of the grid product.
func (s *Space) Decode(index int) (Candidate, error) {
	if index < 0 || index >= s.size {
		return Candidate{}, errors.Newf(errors.KindConfig,
			"action index %d outside [0, %d)", index, s.size)
	}
	values := make([]float64, len(s.specs))
	rem := index
	for i := len(s.specs) - 1; i >= 0; i-- {
		p := s.specs[i]
		values[i] = p.Value(rem % p.Points)
		rem /= p.Points
	}
	return Candidate{Index: index, Values: values, names: s.Names()}, nil
}

// Grid materializes every candidate value vector in index order. Row i of the
// result equals Decode(i).Values.
func (s *Space) Grid() [][]float64 {
	grid := make([][]float64, s.size)
	for i := 0; i < s.size; i++ {
		c, _ := s.Decode(i)
		grid[i] = c.Values
	}
	return grid
}

// RandomIndex draws a uniform index over the unexplored part of the space.
// When every index has been explored it falls back to a uniform draw over
// the whole space.
func (s *Space) RandomIndex(rng *rand.Rand, explored map[int]bool) int {
	remaining := s.size - len(explored)
	if len(explored) == 0 || remaining <= 0 {
		return rng.Intn(s.size)
	}
	n := rng.Intn(remaining)
	for i := 0; i < s.size; i++ {
		if explored[i] {
			continue
		}
		if n == 0 {
			return i
		}
		n--
	}
	// Unreachable while explored only holds indices inside [0, size).
	return rng.Intn(s.size)
}

// Package sparsesys wraps github.com/edp1096/sparse's coordinate-list
// assembly and LU solve behind the same accumulate-then-factor-then-solve
// shape the teacher's pkg/matrix/circuit.go uses for modified-nodal-
// analysis matrices. DC-OPF assembles and solves its B' matrix through
// this wrapper instead of hand-rolling sparse assembly: coordinate-list
// triplets, compressed once, avoiding dense storage above n~500.
package sparsesys

import (
	"fmt"

	"github.com/edp1096/sparse"
)

// Accumulator is the stamping interface formulators assemble constraints
// through, mirroring the teacher's matrix.DeviceMatrix interface.
type Accumulator interface {
	Add(i, j int, value float64)
	AddRHS(i int, value float64)
}

// System is a real-valued sparse linear system Ax=b of a fixed size,
// built by repeated Add/AddRHS calls and solved once via Solve.
type System struct {
	Size int
	mat  *sparse.Matrix
	rhs  []float64
	sol  []float64
}

// New allocates a Size x Size sparse system (1-based indexing, matching
// the teacher's matrix convention).
func New(size int) (*System, error) {
	config := &sparse.Configuration{
		Real:           true,
		Expandable:     true,
		ModifiedNodal:  true,
		TiesMultiplier: 5,
		PrinterWidth:   140,
	}
	mat, err := sparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("sparsesys: creating matrix: %w", err)
	}
	return &System{
		Size: size,
		mat:  mat,
		rhs:  make([]float64, size+1),
	}, nil
}

func (s *System) Add(i, j int, value float64) {
	if i <= 0 || j <= 0 || i > s.Size || j > s.Size {
		return
	}
	s.mat.GetElement(int64(i), int64(j)).Real += value
}

func (s *System) AddRHS(i int, value float64) {
	if i <= 0 || i > s.Size {
		return
	}
	s.rhs[i] += value
}

// Clear zeroes the matrix and RHS so the System can be reused without
// reallocating (mirrors CircuitMatrix.Clear).
func (s *System) Clear() {
	s.mat.Clear()
	for i := range s.rhs {
		s.rhs[i] = 0
	}
}

// Solve factors the system and solves for x; the solution is retained
// for Solution()/At().
func (s *System) Solve() error {
	if err := s.mat.Factor(); err != nil {
		return fmt.Errorf("sparsesys: factorization failed: %w", err)
	}
	sol, err := s.mat.Solve(s.rhs)
	if err != nil {
		return fmt.Errorf("sparsesys: solve failed: %w", err)
	}
	s.sol = sol
	return nil
}

func (s *System) Solution() []float64 { return s.sol }

func (s *System) At(i int) float64 {
	if i <= 0 || i >= len(s.sol) {
		return 0
	}
	return s.sol[i]
}

func (s *System) RHS() []float64 { return s.rhs }

func (s *System) Destroy() {
	if s.mat != nil {
		s.mat.Destroy()
	}
}

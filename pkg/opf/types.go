// Package opf defines the cross-method contract: a single
// OpfSolution shape every formulator (economic, dcopf, socp, acopf)
// satisfies, and the OpfMethod tag selecting among them. The four
// formulators deliberately share no code path at this level — only this
// contract and the BaseOptions convergence knobs below, mirroring the
// teacher's BaseAnalysis (pkg/analysis/anlysis.go), which the four
// SPICE analyses (op/tran/ac/dc) embed without inheriting behavior from
// each other.
package opf

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/monistowl/gat/pkg/gatlog"
)

// OpfMethod selects one of the four solution methods.
type OpfMethod int

const (
	EconomicDispatch OpfMethod = iota
	DcOpf
	SocpRelaxation
	AcOpf
)

func (m OpfMethod) String() string {
	switch m {
	case EconomicDispatch:
		return "economic_dispatch"
	case DcOpf:
		return "dc_opf"
	case SocpRelaxation:
		return "socp_relaxation"
	case AcOpf:
		return "ac_opf"
	default:
		return "unknown"
	}
}

// BindingConstraint names a constraint that is active (or near-active) at
// the solution, its computed value, its limit, and its shadow price
//.
type BindingConstraint struct {
	Name        string
	Category    string
	Value       float64
	Limit       float64
	ShadowPrice float64
}

// Provenance records which solver actually produced a solution and
// whether any degraded path was taken, so downstream analytics can
// detect and reject them.
type Provenance struct {
	RequestedSolver   string
	SolverUsed        string
	FallbackApplied   bool
	DegradedLMP       bool
	RelaxationInexact bool
}

// OpfSolution is the cross-method output contract. Not every
// field is populated by every method: Economic leaves bus voltages,
// angles, flows, and LMPs empty; DC sets |V|=1 everywhere; SOCP and AC
// populate all fields.
type OpfSolution struct {
	Converged  bool
	Method     OpfMethod
	Iterations int
	SolveTime  time.Duration
	Objective  float64 // $/hr

	GenP map[string]float64 // MW, keyed by generator name
	GenQ map[string]float64 // MVAr, keyed by generator name

	BusVMag   map[string]float64 // per-unit, keyed by bus name
	BusVAngle map[string]float64 // radians, keyed by bus name
	BusLMP    map[string]float64 // $/MWh, keyed by bus name

	BranchPFrom map[string]float64 // MW, keyed by branch name
	BranchQFrom map[string]float64 // MVAr, keyed by branch name

	BindingConstraints []BindingConstraint
	LossesMW           float64

	Provenance Provenance
}

// NewSolution allocates an OpfSolution with all maps initialized, so
// formulators can assign into it without nil-map panics.
func NewSolution(method OpfMethod) OpfSolution {
	return OpfSolution{
		Method:      method,
		GenP:        map[string]float64{},
		GenQ:        map[string]float64{},
		BusVMag:     map[string]float64{},
		BusVAngle:   map[string]float64{},
		BusLMP:      map[string]float64{},
		BranchPFrom: map[string]float64{},
		BranchQFrom: map[string]float64{},
	}
}

// Losses is a diagnostic accessor.
func (s OpfSolution) Losses() float64 { return s.LossesMW }

// SolverUsed is a diagnostic accessor.
func (s OpfSolution) SolverUsed() string { return s.Provenance.SolverUsed }

// Binding is a diagnostic accessor.
func (s OpfSolution) Binding() []BindingConstraint { return s.BindingConstraints }

func (s OpfSolution) String() string {
	return fmt.Sprintf("OpfSolution{method=%s converged=%t objective=%.4f iterations=%d}",
		s.Method, s.Converged, s.Objective, s.Iterations)
}

// BaseOptions are the convergence knobs shared by every formulator,
// generalizing the teacher's BaseAnalysis.convergence fields
// (maxIter/abstol/reltol/gmin) from circuit NR iteration to OPF solves.
type BaseOptions struct {
	BaseMVA              float64
	Tolerance            float64
	MaxIterations        int
	EnforceThermalLimits bool
	Logger               *slog.Logger
}

// DefaultBaseOptions mirrors NewBaseAnalysis's defaults, retuned for
// per-unit power system tolerances instead of circuit voltage/current
// tolerances.
func DefaultBaseOptions() BaseOptions {
	return BaseOptions{
		BaseMVA:              100.0,
		Tolerance:            1e-6,
		MaxIterations:        100,
		EnforceThermalLimits: true,
	}
}

func (o BaseOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return gatlog.Default()
}

// Log exposes the effective logger (falling back to gatlog.Default),
// for formulators that accept BaseOptions by value.
func (o BaseOptions) Log() *slog.Logger { return o.logger() }

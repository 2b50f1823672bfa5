// Package dispatch selects a solve backend for a validated network under
// a configured policy — native-enabled kill switch, per-class defaults,
// a fallback solver, compute-bounds gating, and an on-failure policy —
// and reports which backend actually produced a solution. It is the one
// package allowed to import every formulator subpackage plus pkg/plugin,
// since it is the only consumer that legitimately needs both sides; the
// formulators themselves stay blind to it, the same one-directional
// shape the teacher's pkg/analysis uses toward pkg/circuit and never the
// reverse.
package dispatch

import (
	"math"
	"time"

	"github.com/monistowl/gat/pkg/network"
	"github.com/monistowl/gat/pkg/opf"
	"github.com/monistowl/gat/pkg/opf/acopf"
	"github.com/monistowl/gat/pkg/opf/dcopf"
	"github.com/monistowl/gat/pkg/opf/economic"
	"github.com/monistowl/gat/pkg/opf/socp"
	"github.com/monistowl/gat/pkg/opferr"
	"github.com/monistowl/gat/pkg/plugin"
)

// ProblemClass names the four problem families a request can target.
// Economic dispatch is intentionally absent: it is always available,
// never routed through the dispatcher's solver-selection algorithm, and
// callers that want it call pkg/opf/economic directly.
type ProblemClass int

const (
	DcOpfClass ProblemClass = iota
	SocpClass
	AcOpfClass
	MipClass
)

func (c ProblemClass) String() string {
	switch c {
	case DcOpfClass:
		return "dc_opf"
	case SocpClass:
		return "socp"
	case AcOpfClass:
		return "ac_opf"
	case MipClass:
		return "mip"
	default:
		return "unknown"
	}
}

// OnFailurePolicy governs what the dispatcher does when the selected
// backend's solve fails.
type OnFailurePolicy int

const (
	OnFailureError OnFailurePolicy = iota
	OnFailureFallback
	OnFailurePrompt
)

// Config is the dispatcher's policy, supplied by the surrounding
// collaborator (GatConfig); the core never loads it from a file or
// environment itself.
type Config struct {
	NativeEnabled        bool
	DefaultSolver        map[ProblemClass]string // installed plugin id, or "" for none configured
	FallbackSolver       string                  // a built-in name: "economic_dispatch", "dc_opf_builtin", "socp_penalty_relaxation", "ac_opf_penalty_lbfgs"
	OnFailure            OnFailurePolicy
	MaxEstimatedMinutes  float64
	MaxEstimatedMemoryGB float64
	OverrideComputeGate  bool
}

// DefaultConfig matches the built-in-only, fail-on-error posture a
// caller gets with no native plugins installed.
func DefaultConfig() Config {
	return Config{
		NativeEnabled:        true,
		DefaultSolver:        map[ProblemClass]string{},
		FallbackSolver:       "dc_opf_builtin",
		OnFailure:            OnFailureError,
		MaxEstimatedMinutes:  30,
		MaxEstimatedMemoryGB: 8,
	}
}

// SolverRequest names the problem class and, optionally, a specific
// backend; an empty RequestedSolver leaves selection to Config.
type SolverRequest struct {
	Class           ProblemClass
	RequestedSolver string
}

// Registry is the subset of pkg/plugin's registry pkg/dispatch depends
// on, expressed as a consumer-side interface so dispatch never forces a
// concrete plugin.Registry construction strategy on its callers.
type Registry interface {
	IsInstalled(solverID string) bool
	Invoke(net *network.Network, class, solverID string, opts plugin.InvokeOptions) (opf.OpfSolution, error)
}

// Dispatcher holds the policy and (optionally) a plugin registry; a nil
// registry behaves as if no native plugins are installed.
type Dispatcher struct {
	Config   Config
	Registry Registry
}

func New(cfg Config, reg Registry) *Dispatcher {
	return &Dispatcher{Config: cfg, Registry: reg}
}

func (d *Dispatcher) installed(solverID string) bool {
	if solverID == "" {
		return false
	}
	if isBuiltin(solverID) {
		return true
	}
	return d.Registry != nil && d.Registry.IsInstalled(solverID)
}

func isBuiltin(solverID string) bool {
	switch solverID {
	case "economic_dispatch", "dc_opf_builtin", "socp_penalty_relaxation", "ac_opf_penalty_lbfgs":
		return true
	default:
		return false
	}
}

func builtinFor(class ProblemClass) string {
	switch class {
	case DcOpfClass:
		return "dc_opf_builtin"
	case SocpClass:
		return "socp_penalty_relaxation"
	case AcOpfClass:
		return "ac_opf_penalty_lbfgs"
	default:
		return ""
	}
}

// selectSolver implements the first-match selection algorithm.
func (d *Dispatcher) selectSolver(req SolverRequest) (string, error) {
	if !d.Config.NativeEnabled {
		if b := builtinFor(req.Class); b != "" {
			return b, nil
		}
		return "", opferr.NoSolverAvailable(req.Class.String(), "native disabled and no built-in exists for this class")
	}

	if req.RequestedSolver != "" {
		if d.installed(req.RequestedSolver) {
			return req.RequestedSolver, nil
		}
		return "", opferr.NoSolverAvailable(req.Class.String(), "requested solver "+req.RequestedSolver+" is not installed")
	}

	if def := d.Config.DefaultSolver[req.Class]; def != "" && d.installed(def) {
		return def, nil
	}

	switch req.Class {
	case AcOpfClass:
		if d.installed("gat-ipopt") {
			return "gat-ipopt", nil
		}
		return "ac_opf_penalty_lbfgs", nil
	case DcOpfClass:
		if d.installed("gat-highs") {
			return "gat-highs", nil
		}
		return "dc_opf_builtin", nil
	case SocpClass:
		return "socp_penalty_relaxation", nil
	case MipClass:
		if d.installed("gat-cbc") {
			return "gat-cbc", nil
		}
		if d.installed("gat-highs") {
			return "gat-highs", nil
		}
		return "", opferr.NoSolverAvailable("mip", "neither gat-cbc nor gat-highs is installed")
	default:
		return "", opferr.NoSolverAvailable(req.Class.String(), "unrecognized problem class")
	}
}

// estimate is the compute-bounds heuristic: minutes scale with
// (n_bus+n_gen)^1.5 * max_iterations for the nonlinear classes, flat
// for DC; memory uses the sparse n_bus*avg_degree estimate, since no
// built-in formulator forms a dense Jacobian (DC-OPF solves through
// pkg/sparsesys; SOCP and AC-OPF minimize with L-BFGS).
func estimate(net *network.Network, class ProblemClass, maxIterations int) (minutes, memoryGB float64) {
	n := float64(net.NumBuses())
	m := float64(net.NumGenerators())
	avgDegree := 2 * float64(net.NumBranches()) / math.Max(n, 1)

	switch class {
	case AcOpfClass, SocpClass:
		minutes = math.Pow(n+m, 1.5) * float64(maxIterations) / 2_000_000
	case DcOpfClass:
		minutes = (n + m) / 500_000
	default:
		minutes = (n + m) / 100_000
	}
	memoryGB = n * avgDegree * 8 / 1e9
	return
}

// Solve runs the compute-bounds gate, selects a backend, invokes it, and
// applies the configured failure policy. maxIterations feeds the
// compute-bounds estimate and the plugin request; the built-in
// formulators do not read opf.BaseOptions.MaxIterations (their outer
// loops use fixed caps). Equivalent to
// SolveCancellable(net, req, opts, nil).
func (d *Dispatcher) Solve(net *network.Network, req SolverRequest, opts opf.BaseOptions) (opf.OpfSolution, error) {
	return d.SolveCancellable(net, req, opts, nil)
}

// SolveCancellable is Solve with an optional cancellation token; a solve
// is cancellable only at the native plugin's subprocess boundary (§5), so
// cancel has no effect when the selected backend is a built-in formulator.
func (d *Dispatcher) SolveCancellable(net *network.Network, req SolverRequest, opts opf.BaseOptions, cancel *plugin.CancelToken) (opf.OpfSolution, error) {
	minutes, memGB := estimate(net, req.Class, opts.MaxIterations)
	if !d.Config.OverrideComputeGate && (minutes > d.Config.MaxEstimatedMinutes || memGB > d.Config.MaxEstimatedMemoryGB) {
		return opf.OpfSolution{}, opferr.ComputeWarning(
			math.Max(minutes, memGB), math.Max(d.Config.MaxEstimatedMinutes, d.Config.MaxEstimatedMemoryGB),
			"set Config.OverrideComputeGate or request a cheaper solver class",
		)
	}

	solverID, err := d.selectSolver(req)
	if err != nil {
		return opf.OpfSolution{}, err
	}

	sol, solveErr := d.invoke(net, req.Class, solverID, opts, cancel)
	if solveErr == nil {
		sol.Provenance.RequestedSolver = req.RequestedSolver
		sol.Provenance.SolverUsed = solverID
		return sol, nil
	}
	if opferr.IsCancelled(solveErr) {
		return opf.OpfSolution{}, solveErr
	}

	switch d.Config.OnFailure {
	case OnFailureError:
		return opf.OpfSolution{}, solveErr
	case OnFailurePrompt:
		return opf.OpfSolution{}, opferr.RetryDecisionRequired()
	case OnFailureFallback:
		opts.Log().Warn("primary solver failed, falling back", "solver", solverID, "error", solveErr)
		fallbackID := d.Config.FallbackSolver
		if fallbackID == "" {
			fallbackID = builtinFor(req.Class)
		}
		sol, fbErr := d.invoke(net, req.Class, fallbackID, opts, cancel)
		if fbErr != nil {
			return opf.OpfSolution{}, fbErr
		}
		sol.Provenance.RequestedSolver = req.RequestedSolver
		sol.Provenance.SolverUsed = fallbackID
		sol.Provenance.FallbackApplied = true
		return sol, nil
	default:
		return opf.OpfSolution{}, solveErr
	}
}

func (d *Dispatcher) invoke(net *network.Network, class ProblemClass, solverID string, opts opf.BaseOptions, cancel *plugin.CancelToken) (opf.OpfSolution, error) {
	switch solverID {
	case "economic_dispatch":
		return economic.Solve(net, opts)
	case "dc_opf_builtin":
		return dcopf.Solve(net, dcopf.Options{BaseOptions: opts})
	case "socp_penalty_relaxation":
		return socp.Solve(net, socp.Options{BaseOptions: opts})
	case "ac_opf_penalty_lbfgs":
		return acopf.Solve(net, acopf.Options{BaseOptions: opts})
	default:
		if d.Registry == nil {
			return opf.OpfSolution{}, opferr.NoSolverAvailable(class.String(), "no plugin registry configured")
		}
		return d.Registry.Invoke(net, class.String(), solverID, plugin.InvokeOptions{
			BaseMVA: opts.BaseMVA, Tolerance: opts.Tolerance, MaxIterations: opts.MaxIterations,
			Timeout: time.Duration(d.Config.MaxEstimatedMinutes*2) * time.Minute,
			Cancel:  cancel,
		})
	}
}

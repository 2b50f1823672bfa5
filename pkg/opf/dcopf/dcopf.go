// Package dcopf implements the DC-OPF formulator: a
// linearized power balance over the network's susceptance matrix B',
// merit-order generation dispatch against that balance, and an optional
// loss re-injection loop. The linear system B'·θ = P_inj is assembled and
// solved through pkg/sparsesys, the same accumulate-then-factor-then-
// solve shape the teacher uses for its nodal matrix (pkg/matrix/circuit.go),
// generalized here from a complex MNA matrix to a real susceptance one.
package dcopf

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/monistowl/gat/pkg/network"
	"github.com/monistowl/gat/pkg/opf"
	"github.com/monistowl/gat/pkg/opferr"
	"github.com/monistowl/gat/pkg/sparsesys"
)

// Options extends the shared convergence knobs with DC-OPF's loss
// re-injection loop.
type Options struct {
	opf.BaseOptions
	EnableLossIteration bool
}

// DefaultOptions mirrors opf.DefaultBaseOptions with loss iteration off,
// matching the base formulation being lossless by default.
func DefaultOptions() Options {
	return Options{BaseOptions: opf.DefaultBaseOptions()}
}

type busIndex struct {
	slack   network.BusId
	compact map[network.BusId]int // non-slack buses -> 1..n-1, for sparsesys
}

// Solve runs merit-order dispatch against the linearized DC power balance,
// optionally redispatching around thermal violations and re-injecting
// estimated losses at the slack bus.
func Solve(net *network.Network, opts Options) (opf.OpfSolution, error) {
	start := time.Now()
	sol := opf.NewSolution(opf.DcOpf)
	log := opts.Log()

	slackBus, ok := net.SlackBus()
	if !ok {
		return sol, opferr.DataValidation("dc-opf: network has no slack bus")
	}

	gens := net.Generators()
	dispatchable := make([]network.Generator, 0, len(gens))
	for _, g := range gens {
		if !g.IsSynchronousCondenser {
			dispatchable = append(dispatchable, g)
		}
	}
	sort.Slice(dispatchable, func(i, j int) bool {
		return linearRate(dispatchable[i]) < linearRate(dispatchable[j])
	})

	totalPMax := 0.0
	for _, g := range dispatchable {
		totalPMax += g.PMax
	}
	load := net.TotalLoadMW()
	if totalPMax < load {
		return sol, opferr.Infeasible("dc-opf: total capacity %.3f MW < load %.3f MW", totalPMax, load)
	}

	idx := buildBusIndex(net, slackBus.ID)
	branches := inServiceBranches(net)

	extraSlackLoad := 0.0
	prevObjective := math.Inf(1)
	var theta map[network.BusId]float64
	var dispatch map[network.GenId]float64
	converged := true
	iterations := 0

	maxOuter := 1
	if opts.EnableLossIteration {
		maxOuter = 10 // cap on loss re-injection outer iterations
	}

	for outer := 0; outer < maxOuter; outer++ {
		iterations++
		required := load + extraSlackLoad
		dispatch = meritOrderDispatch(dispatchable, required)

		var err error
		theta, err = solveAngles(net, branches, idx, dispatch)
		if err != nil {
			return sol, opferr.NumericalIssue("dc-opf: %v", err)
		}

		objective := 0.0
		for _, g := range dispatchable {
			objective += g.Cost.Cost(0) + linearRate(g)*dispatch[g.ID]
		}

		if !opts.EnableLossIteration {
			sol.Objective = objective
			break
		}

		losses := estimateLosses(branches, theta)
		log.Debug("dc-opf loss iteration", "outer", outer, "losses_mw", losses*net.BaseMVA())
		sol.Objective = objective
		if math.Abs(objective-prevObjective) < opts.Tolerance {
			break
		}
		prevObjective = objective
		extraSlackLoad = losses * net.BaseMVA()
		sol.LossesMW = extraSlackLoad
	}

	if opts.EnforceThermalLimits {
		var ok2 bool
		theta, dispatch, ok2 = relieveCongestion(net, branches, idx, dispatchable, theta, dispatch, opts)
		converged = ok2
	}

	for _, g := range dispatchable {
		sol.GenP[g.Name] = dispatch[g.ID]
	}
	for _, b := range net.Buses() {
		sol.BusVMag[b.Name] = 1.0
		sol.BusVAngle[b.Name] = theta[b.ID]
	}

	flows := branchFlows(branches, theta)
	for _, br := range branches {
		fromName, toName := busName(net, br.From), busName(net, br.To)
		key := fmt.Sprintf("%s->%s", fromName, toName)
		sol.BranchPFrom[key] = flows[br.ID] * net.BaseMVA()
	}

	sol.BindingConstraints = bindingConstraints(net, branches, flows, dispatchable, dispatch)
	applyUniformLMP(net, &sol, dispatchable, dispatch)

	sol.Converged = converged
	sol.Iterations = iterations
	sol.SolveTime = time.Since(start)
	sol.Provenance = opf.Provenance{SolverUsed: "dc_opf_builtin", DegradedLMP: true}
	return sol, nil
}

// linearRate approximates a generator's cost slope at the midpoint of its
// operating range, generalized to any CostModel via MarginalCost rather than
// requiring a concrete Polynomial.
func linearRate(g network.Generator) float64 {
	mid := (g.PMin + g.PMax) / 2
	return g.Cost.MarginalCost(mid)
}

func buildBusIndex(net *network.Network, slack network.BusId) busIndex {
	idx := busIndex{slack: slack, compact: map[network.BusId]int{}}
	n := 0
	for _, b := range net.Buses() {
		if b.ID == slack {
			continue
		}
		n++
		idx.compact[b.ID] = n
	}
	return idx
}

func inServiceBranches(net *network.Network) []network.Branch {
	all := net.Branches()
	out := make([]network.Branch, 0, len(all))
	for _, br := range all {
		if br.InService {
			out = append(out, br)
		}
	}
	return out
}

// solveAngles assembles B'·θ = P_inj over the non-slack buses and solves
// it via sparsesys: B'[i,j] = -1/x_ij off-diagonal, row
// sums on the diagonal, r and b set to zero.
func solveAngles(net *network.Network, branches []network.Branch, idx busIndex, dispatch map[network.GenId]float64) (map[network.BusId]float64, error) {
	n := len(idx.compact)
	theta := make(map[network.BusId]float64, net.NumBuses())
	theta[idx.slack] = 0
	if n == 0 {
		return theta, nil
	}

	sys, err := sparsesys.New(n)
	if err != nil {
		return nil, err
	}
	defer sys.Destroy()

	for _, br := range branches {
		if br.X == 0 {
			return nil, fmt.Errorf("branch %d has zero reactance", br.ID)
		}
		b := 1 / br.X
		fi, fok := idx.compact[br.From]
		ti, tok := idx.compact[br.To]
		if fok {
			sys.Add(fi, fi, b)
		}
		if tok {
			sys.Add(ti, ti, b)
		}
		if fok && tok {
			sys.Add(fi, ti, -b)
			sys.Add(ti, fi, -b)
		}
	}

	injection := make(map[network.BusId]float64, net.NumBuses())
	for _, b := range net.Buses() {
		injection[b.ID] = -b.PLoad
	}
	for genID, p := range dispatch {
		g, ok := net.Generator(genID)
		if !ok {
			continue
		}
		injection[g.Bus] += p
	}
	for busID, i := range idx.compact {
		sys.AddRHS(i, injection[busID]/net.BaseMVA())
	}

	if err := sys.Solve(); err != nil {
		return nil, err
	}
	for busID, i := range idx.compact {
		theta[busID] = sys.At(i)
	}
	return theta, nil
}

// meritOrderDispatch assigns P_min to every generator then fills the
// remainder in ascending linearRate order up to P_max each, the same
// greedy fill Economic Dispatch uses, reused here for the DC formulation's
// linear objective.
func meritOrderDispatch(gens []network.Generator, required float64) map[network.GenId]float64 {
	dispatch := make(map[network.GenId]float64, len(gens))
	remaining := required
	for _, g := range gens {
		dispatch[g.ID] = g.PMin
		remaining -= g.PMin
	}
	if remaining < 0 {
		remaining = 0
	}
	for _, g := range gens {
		if remaining <= 0 {
			break
		}
		headroom := g.PMax - dispatch[g.ID]
		take := math.Min(headroom, remaining)
		if take > 0 {
			dispatch[g.ID] += take
			remaining -= take
		}
	}
	return dispatch
}

func branchFlows(branches []network.Branch, theta map[network.BusId]float64) map[network.BranchId]float64 {
	flows := make(map[network.BranchId]float64, len(branches))
	for _, br := range branches {
		b := 1 / br.X
		flows[br.ID] = b * (theta[br.From] - theta[br.To])
	}
	return flows
}

// estimateLosses approximates Σ r_ij·(P_ij)² with per-unit voltage taken
// as 1.0, returning a per-unit MW quantity.
func estimateLosses(branches []network.Branch, theta map[network.BusId]float64) float64 {
	total := 0.0
	for _, br := range branches {
		b := 1 / br.X
		flow := b * (theta[br.From] - theta[br.To])
		total += br.R * flow * flow
	}
	return total
}

// relieveCongestion shifts generation between the endpoints of any branch
// exceeding its thermal limit, a bounded generation-shift-factor
// redispatch (bounded iteration count), and reports whether every
// violation was eliminated.
func relieveCongestion(net *network.Network, branches []network.Branch, idx busIndex, gens []network.Generator, theta map[network.BusId]float64, dispatch map[network.GenId]float64, opts Options) (map[network.BusId]float64, map[network.GenId]float64, bool) {
	const maxSteps = 10
	limit := func(br network.Branch) (float64, bool) {
		if br.Rate == nil {
			return 0, false
		}
		return *br.Rate / net.BaseMVA(), true
	}

	for step := 0; step < maxSteps; step++ {
		flows := branchFlows(branches, theta)
		var worst *network.Branch
		worstExcess := opts.Tolerance
		for i, br := range branches {
			lim, ok := limit(br)
			if !ok {
				continue
			}
			excess := math.Abs(flows[br.ID]) - lim
			if excess > worstExcess {
				worstExcess = excess
				worst = &branches[i]
			}
		}
		if worst == nil {
			return theta, dispatch, true
		}

		flow := flows[worst.ID]
		exportBus, importBus := worst.From, worst.To
		if flow < 0 {
			exportBus, importBus = worst.To, worst.From
		}

		reduceGen := cheapestReducible(gens, dispatch, exportBus, true)
		raiseGen := cheapestReducible(gens, dispatch, importBus, false)
		if reduceGen == nil || raiseGen == nil {
			return theta, dispatch, false
		}

		shift := math.Min(dispatch[reduceGen.ID]-reduceGen.PMin, raiseGen.PMax-dispatch[raiseGen.ID])
		shift = math.Min(shift, worstExcess*net.BaseMVA())
		if shift <= 0 {
			return theta, dispatch, false
		}
		dispatch[reduceGen.ID] -= shift
		dispatch[raiseGen.ID] += shift

		newTheta, err := solveAngles(net, branches, idx, dispatch)
		if err != nil {
			return theta, dispatch, false
		}
		theta = newTheta
	}
	return theta, dispatch, false
}

func cheapestReducible(gens []network.Generator, dispatch map[network.GenId]float64, bus network.BusId, reduce bool) *network.Generator {
	var best *network.Generator
	for i, g := range gens {
		if g.Bus != bus {
			continue
		}
		if reduce && dispatch[g.ID] <= g.PMin {
			continue
		}
		if !reduce && dispatch[g.ID] >= g.PMax {
			continue
		}
		if best == nil {
			best = &gens[i]
			continue
		}
		if reduce && linearRate(gens[i]) > linearRate(*best) {
			best = &gens[i]
		}
		if !reduce && linearRate(gens[i]) < linearRate(*best) {
			best = &gens[i]
		}
	}
	return best
}

func bindingConstraints(net *network.Network, branches []network.Branch, flows map[network.BranchId]float64, gens []network.Generator, dispatch map[network.GenId]float64) []opf.BindingConstraint {
	var out []opf.BindingConstraint
	for _, br := range branches {
		if br.Rate == nil {
			continue
		}
		limit := *br.Rate / net.BaseMVA()
		flow := flows[br.ID]
		if math.Abs(flow)/limit > 0.999 {
			out = append(out, opf.BindingConstraint{
				Name:     fmt.Sprintf("%s->%s", busName(net, br.From), busName(net, br.To)),
				Category: "thermal",
				Value:    math.Abs(flow) * net.BaseMVA(),
				Limit:    limit * net.BaseMVA(),
			})
		}
	}
	for _, g := range gens {
		p := dispatch[g.ID]
		if p <= g.PMin+1e-9 {
			out = append(out, opf.BindingConstraint{Name: g.Name, Category: "gen_pmin", Value: p, Limit: g.PMin})
		} else if p >= g.PMax-1e-9 {
			out = append(out, opf.BindingConstraint{Name: g.Name, Category: "gen_pmax", Value: p, Limit: g.PMax})
		}
	}
	return out
}

// applyUniformLMP implements the degraded-mode LMP fallback: the
// built-in DC-OPF formulator never computes true nodal duals, so every
// bus is assigned the marginal cost of the partially-dispatched
// (non-saturated) generator, and Provenance.DegradedLMP flags this.
func applyUniformLMP(net *network.Network, sol *opf.OpfSolution, gens []network.Generator, dispatch map[network.GenId]float64) {
	marginal := 0.0
	found := false
	for _, g := range gens {
		p := dispatch[g.ID]
		if p > g.PMin+1e-9 && p < g.PMax-1e-9 {
			marginal = linearRate(g)
			found = true
			break
		}
	}
	if !found {
		for _, g := range gens {
			if dispatch[g.ID] < g.PMax-1e-9 {
				marginal = linearRate(g)
				found = true
				break
			}
		}
	}
	if !found && len(gens) > 0 {
		marginal = linearRate(gens[len(gens)-1])
	}
	for _, b := range net.Buses() {
		sol.BusLMP[b.Name] = marginal
	}
}

func busName(net *network.Network, id network.BusId) string {
	if b, ok := net.Bus(id); ok {
		return b.Name
	}
	return fmt.Sprintf("bus_%d", id)
}

// Package economic implements the Economic Dispatch formulator: the
// cheapest, network-blind method, clearing generation against
// aggregate load by ascending marginal cost. It is grounded on the
// teacher's merit-order-free DC analysis shape (pkg/analysis/dc.go) only
// in spirit — there is no matrix to assemble here, just a sort and a
// greedy fill — there is little else to this method.
package economic

import (
	"sort"
	"time"

	"github.com/monistowl/gat/pkg/network"
	"github.com/monistowl/gat/pkg/opf"
	"github.com/monistowl/gat/pkg/opferr"
)

// LossEstimateDelta is the fixed fraction added to
// aggregate load to approximate network losses this method cannot
// otherwise see.
const LossEstimateDelta = 0.01

// Solve clears generation against the network's aggregate load. It never
// reads bus voltages, branch impedances, or topology, and it leaves every
// network-dependent OpfSolution field (bus/branch maps, LMPs) empty.
func Solve(net *network.Network, opts opf.BaseOptions) (opf.OpfSolution, error) {
	start := time.Now()
	sol := opf.NewSolution(opf.EconomicDispatch)

	load := net.TotalLoadMW()
	required := load * (1 + LossEstimateDelta)

	gens := dispatchable(net.Generators())
	sort.Slice(gens, func(i, j int) bool {
		return gens[i].Cost.MarginalCost(gens[i].PMin) < gens[j].Cost.MarginalCost(gens[j].PMin)
	})

	totalPMax := 0.0
	for _, g := range gens {
		totalPMax += g.PMax
	}
	if totalPMax < required {
		return sol, opferr.Infeasible("economic dispatch: total capacity %.3f MW < required %.3f MW", totalPMax, required)
	}

	dispatch := make(map[int]float64, len(gens))
	remaining := required
	for i, g := range gens {
		dispatch[i] = g.PMin
		remaining -= g.PMin
	}
	if remaining < 0 {
		// PMin alone already exceeds required load; everyone sits at PMin
		// and the surplus is absorbed implicitly — this method models no
		// curtailment.
		remaining = 0
	}

	for i, g := range gens {
		if remaining <= 0 {
			break
		}
		headroom := g.PMax - dispatch[i]
		take := headroom
		if take > remaining {
			take = remaining
		}
		if take > 0 {
			dispatch[i] += take
			remaining -= take
		}
	}

	objective := 0.0
	for i, g := range gens {
		p := dispatch[i]
		sol.GenP[g.Name] = p
		objective += g.Cost.Cost(p)
	}

	sol.Objective = objective
	sol.Converged = true
	sol.Iterations = 1
	sol.SolveTime = time.Since(start)
	sol.Provenance = opf.Provenance{SolverUsed: "economic_dispatch"}
	return sol, nil
}

func dispatchable(all []network.Generator) []network.Generator {
	out := make([]network.Generator, 0, len(all))
	for _, g := range all {
		if g.IsSynchronousCondenser {
			continue
		}
		out = append(out, g)
	}
	return out
}

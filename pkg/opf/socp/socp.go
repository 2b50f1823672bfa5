// Package socp implements the SOCP relaxation formulator: a convex
// lifted-variable relaxation of AC-OPF (w_i = |V_i|^2, c_ij, s_ij) whose
// second-order-cone constraint is enforced here as a squared-violation
// penalty rather than handed to a true conic solver, since none of the
// teacher's or the pack's dependencies expose one; the cone and balance
// residuals mix enough w*c/w*s product terms that a hand-derived
// analytic gradient would be as error-prone as it is unreadable, so this
// formulator is the one built-in path that leans on
// opf.NumericalGradient instead of a closed-form Jacobian. Voltage and
// angle recovery walks a spanning tree via katalvlaran/lvlath, the same
// connectivity library network.Network uses for slack-bus validation.
package socp

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/monistowl/gat/internal/consts"
	"github.com/monistowl/gat/pkg/admittance"
	"github.com/monistowl/gat/pkg/network"
	"github.com/monistowl/gat/pkg/opf"
	"github.com/monistowl/gat/pkg/opferr"
)

// Options extends the shared convergence knobs; SOCP takes no
// method-specific options beyond them.
type Options struct {
	opf.BaseOptions
}

func DefaultOptions() Options { return Options{BaseOptions: opf.DefaultBaseOptions()} }

type branchAdmittance struct {
	br   network.Branch
	g, b float64
}

type layout struct {
	n, m, nb int
	buses    []network.Bus
	gens     []network.Generator
	branches []branchAdmittance
	slackAt  int
}

func (l layout) wIdx(bus int) int { return bus - 1 }
func (l layout) cIdx(bi int) int  { return l.n + bi }
func (l layout) sIdx(bi int) int  { return l.n + l.nb + bi }
func (l layout) pIdx(g int) int   { return l.n + 2*l.nb + g }
func (l layout) qIdx(g int) int   { return l.n + 2*l.nb + l.m + g }
func (l layout) dim() int         { return l.n + 2*l.nb + 2*l.m }

// Solve runs the penalized lifted relaxation, recovers |V| and θ from
// the converged w/c/s variables, and flags the solution as a relaxation
// lower bound when the cone constraint is not numerically tight.
func Solve(net *network.Network, opts Options) (opf.OpfSolution, error) {
	start := time.Now()
	sol := opf.NewSolution(opf.SocpRelaxation)
	log := opts.Log()

	slack, ok := net.SlackBus()
	if !ok {
		return sol, opferr.DataValidation("socp: network has no slack bus")
	}

	var branches []branchAdmittance
	for _, br := range net.Branches() {
		if !br.InService {
			continue
		}
		y := admittance.SeriesAdmittance(br.R, br.X)
		branches = append(branches, branchAdmittance{br: br, g: real(y), b: imag(y)})
	}

	l := layout{
		n: net.NumBuses(), gens: net.Generators(), buses: net.Buses(),
		branches: branches, nb: len(branches), slackAt: int(slack.ID),
	}
	l.m = len(l.gens)

	x := initialX(l)

	mu := consts.PenaltyInitialWeight
	iterations := 0
	converged := false
	var lastResidual float64

	for outer := 0; outer < consts.PenaltyMaxOuterIters; outer++ {
		objective := func(v []float64) float64 { return penalizedObjective(l, net, v, mu, opts) }
		problem := optimize.Problem{
			Func: objective,
			Grad: func(grad, v []float64) { opf.NumericalGradient(objective, v, grad) },
		}
		result, err := optimize.Minimize(problem, x, &optimize.Settings{MajorIterationsLimit: 500}, &optimize.LBFGS{})
		if err != nil && result == nil {
			return sol, opferr.NumericalIssue("socp: penalty solve failed: %v", err)
		}
		x = result.X
		iterations++

		lastResidual = maxBalanceResidual(l, net, x)
		log.Debug("socp outer iteration", "outer", outer, "mu", mu, "residual", lastResidual)
		if lastResidual < opts.Tolerance {
			converged = true
			break
		}
		mu *= consts.PenaltyGrowthFactor
	}

	if !converged {
		return sol, opferr.ConvergenceFailure(iterations, lastResidual)
	}

	inexact := recoverVoltages(l, net, x, &sol)
	for bi, ba := range l.branches {
		pij, qij := flows(ba.g, ba.b, x[l.wIdx(int(ba.br.From))], x[l.cIdx(bi)], x[l.sIdx(bi)])
		key := fmt.Sprintf("%s->%s", l.buses[int(ba.br.From)-1].Name, l.buses[int(ba.br.To)-1].Name)
		sol.BranchPFrom[key] = pij * net.BaseMVA()
		sol.BranchQFrom[key] = qij * net.BaseMVA()
	}

	objective := 0.0
	for gi, g := range l.gens {
		p := x[l.pIdx(gi)]
		sol.GenP[g.Name] = p
		sol.GenQ[g.Name] = x[l.qIdx(gi)]
		objective += g.Cost.Cost(p)
	}
	sol.Objective = objective

	totalGenP, totalLoad := 0.0, net.TotalLoadMW()
	for gi := range l.gens {
		totalGenP += x[l.pIdx(gi)]
	}
	sol.LossesMW = totalGenP - totalLoad

	sol.BindingConstraints = bindingConstraints(l, net, x, opts)
	applyUniformLMP(l, &sol, x)

	sol.Converged = true
	sol.Iterations = iterations
	sol.SolveTime = time.Since(start)
	sol.Provenance = opf.Provenance{SolverUsed: "socp_penalty_relaxation", DegradedLMP: true, RelaxationInexact: inexact}
	return sol, nil
}

func initialX(l layout) []float64 {
	x := make([]float64, l.dim())
	for _, b := range l.buses {
		x[l.wIdx(int(b.ID))] = 1.0
	}
	for bi, ba := range l.branches {
		x[l.cIdx(bi)] = 1.0
		x[l.sIdx(bi)] = 0.0
		_ = ba
	}
	for gi, g := range l.gens {
		x[l.pIdx(gi)] = (g.PMin + g.PMax) / 2
		x[l.qIdx(gi)] = (g.QMin + g.QMax) / 2
	}
	return x
}

// flows returns P_ij, Q_ij from bus i toward bus j (spec lifted-form
// equations); pass s unnegated when i is the branch's From endpoint,
// negated when i is the To endpoint (s_ji = -s_ij, c_ji = c_ij).
func flows(g, b, wFrom, c, s float64) (p, q float64) {
	p = g*wFrom - g*c - b*s
	q = -b*wFrom + b*c - g*s
	return
}

func balances(l layout, net *network.Network, x []float64) (p, q map[int]float64) {
	p = make(map[int]float64, l.n)
	q = make(map[int]float64, l.n)
	for _, b := range l.buses {
		p[int(b.ID)] = -b.PLoad
		q[int(b.ID)] = -b.QLoad
	}
	for gi, g := range l.gens {
		p[int(g.Bus)] += x[l.pIdx(gi)]
		q[int(g.Bus)] += x[l.qIdx(gi)]
	}
	baseMVA := net.BaseMVA()
	for bi, ba := range l.branches {
		i, j := int(ba.br.From), int(ba.br.To)
		wi, wj := x[l.wIdx(i)], x[l.wIdx(j)]
		c, s := x[l.cIdx(bi)], x[l.sIdx(bi)]
		pij, qij := flows(ba.g, ba.b, wi, c, s)
		pji, qji := flows(ba.g, ba.b, wj, c, -s)
		p[i] -= pij * baseMVA
		q[i] -= qij * baseMVA
		p[j] -= pji * baseMVA
		q[j] -= qji * baseMVA
	}
	return
}

func maxBalanceResidual(l layout, net *network.Network, x []float64) float64 {
	p, q := balances(l, net, x)
	max := 0.0
	for _, b := range l.buses {
		if av := math.Abs(p[int(b.ID)]) / net.BaseMVA(); av > max {
			max = av
		}
		if av := math.Abs(q[int(b.ID)]) / net.BaseMVA(); av > max {
			max = av
		}
	}
	return max
}

func boundPenalty(v, lo, hi float64) float64 {
	if v < lo {
		d := v - lo
		return d * d
	}
	if v > hi {
		d := v - hi
		return d * d
	}
	return 0
}

func penalizedObjective(l layout, net *network.Network, x []float64, mu float64, opts Options) float64 {
	cost := 0.0
	for gi, g := range l.gens {
		cost += g.Cost.Cost(x[l.pIdx(gi)])
	}

	penalty := 0.0
	p, q := balances(l, net, x)
	baseMVA := net.BaseMVA()
	for _, b := range l.buses {
		rp := p[int(b.ID)] / baseMVA
		rq := q[int(b.ID)] / baseMVA
		penalty += rp*rp + rq*rq
		penalty += boundPenalty(x[l.wIdx(int(b.ID))], b.VMin*b.VMin, b.VMax*b.VMax)
	}

	for bi, ba := range l.branches {
		wi, wj := x[l.wIdx(int(ba.br.From))], x[l.wIdx(int(ba.br.To))]
		c, s := x[l.cIdx(bi)], x[l.sIdx(bi)]
		coneViol := math.Max(0, c*c+s*s-wi*wj)
		penalty += coneViol * coneViol

		if opts.EnforceThermalLimits && ba.br.Rate != nil {
			limit := *ba.br.Rate / baseMVA
			pij, qij := flows(ba.g, ba.b, wi, c, s)
			thermalViol := math.Max(0, pij*pij+qij*qij-limit*limit)
			penalty += thermalViol * thermalViol
		}
	}

	for gi, g := range l.gens {
		pMin := g.PMin
		if g.IsSynchronousCondenser {
			pMin = math.Min(pMin, 0)
		}
		penalty += boundPenalty(x[l.pIdx(gi)], pMin, g.PMax)
		penalty += boundPenalty(x[l.qIdx(gi)], g.QMin, g.QMax)
	}

	return cost + mu*penalty
}

// recoverVoltages sets |V|=sqrt(w) and propagates angles along a
// spanning tree rooted at the slack bus, reporting whether any branch's
// cone gap exceeds tolerance (an inexact relaxation).
func recoverVoltages(l layout, net *network.Network, x []float64, sol *opf.OpfSolution) bool {
	for _, b := range l.buses {
		w := math.Max(x[l.wIdx(int(b.ID))], 0)
		sol.BusVMag[b.Name] = math.Sqrt(w)
	}

	type branchKey struct{ a, b network.BusId }
	byPair := make(map[branchKey]int, len(l.branches))
	for bi, ba := range l.branches {
		byPair[branchKey{ba.br.From, ba.br.To}] = bi
	}

	theta := make(map[network.BusId]float64, l.n)
	theta[network.BusId(l.slackAt)] = 0

	parents, err := net.SpanningTreeParents(network.BusId(l.slackAt))
	if err == nil {
		order := bfsOrder(parents, network.BusId(l.slackAt))
		for _, child := range order {
			parent, ok := parents[child]
			if !ok {
				continue
			}
			if bi, ok := byPair[branchKey{parent, child}]; ok {
				c, s := x[l.cIdx(bi)], x[l.sIdx(bi)]
				theta[child] = theta[parent] - math.Atan2(s, c)
			} else if bi, ok := byPair[branchKey{child, parent}]; ok {
				c, s := x[l.cIdx(bi)], x[l.sIdx(bi)]
				theta[child] = theta[parent] + math.Atan2(s, c)
			}
		}
	}
	for _, b := range l.buses {
		sol.BusVAngle[b.Name] = theta[b.ID]
	}

	inexact := false
	for bi, ba := range l.branches {
		wi, wj := x[l.wIdx(int(ba.br.From))], x[l.wIdx(int(ba.br.To))]
		c, s := x[l.cIdx(bi)], x[l.sIdx(bi)]
		gap := wi*wj - (c*c + s*s)
		if gap > 1e-3*math.Max(1, wi*wj) {
			inexact = true
		}
	}
	return inexact
}

// bfsOrder returns buses in an order where every bus appears after its
// parent, so angle propagation can proceed in a single pass.
func bfsOrder(parents map[network.BusId]network.BusId, root network.BusId) []network.BusId {
	children := make(map[network.BusId][]network.BusId)
	for child, parent := range parents {
		children[parent] = append(children[parent], child)
	}
	var order []network.BusId
	queue := []network.BusId{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			order = append(order, c)
			queue = append(queue, c)
		}
	}
	return order
}

func bindingConstraints(l layout, net *network.Network, x []float64, opts Options) []opf.BindingConstraint {
	var out []opf.BindingConstraint
	for _, b := range l.buses {
		w := x[l.wIdx(int(b.ID))]
		if w <= b.VMin*b.VMin+1e-6 {
			out = append(out, opf.BindingConstraint{Name: b.Name, Category: "voltage_min", Value: math.Sqrt(math.Max(w, 0)), Limit: b.VMin})
		} else if w >= b.VMax*b.VMax-1e-6 {
			out = append(out, opf.BindingConstraint{Name: b.Name, Category: "voltage_max", Value: math.Sqrt(math.Max(w, 0)), Limit: b.VMax})
		}
	}
	for gi, g := range l.gens {
		p := x[l.pIdx(gi)]
		if p <= g.PMin+1e-6 {
			out = append(out, opf.BindingConstraint{Name: g.Name, Category: "gen_pmin", Value: p, Limit: g.PMin})
		} else if p >= g.PMax-1e-6 {
			out = append(out, opf.BindingConstraint{Name: g.Name, Category: "gen_pmax", Value: p, Limit: g.PMax})
		}
	}
	if opts.EnforceThermalLimits {
		baseMVA := net.BaseMVA()
		for bi, ba := range l.branches {
			if ba.br.Rate == nil {
				continue
			}
			wi := x[l.wIdx(int(ba.br.From))]
			c, s := x[l.cIdx(bi)], x[l.sIdx(bi)]
			pij, qij := flows(ba.g, ba.b, wi, c, s)
			limit := *ba.br.Rate / baseMVA
			if math.Hypot(pij, qij)/limit > 0.999 {
				out = append(out, opf.BindingConstraint{
					Name: fmt.Sprintf("branch_%d", ba.br.ID), Category: "thermal",
					Value: math.Hypot(pij, qij) * baseMVA, Limit: limit * baseMVA,
				})
			}
		}
	}
	return out
}

func applyUniformLMP(l layout, sol *opf.OpfSolution, x []float64) {
	marginal := 0.0
	found := false
	for gi, g := range l.gens {
		p := x[l.pIdx(gi)]
		if p > g.PMin+1e-6 && p < g.PMax-1e-6 {
			marginal = g.Cost.MarginalCost(p)
			found = true
			break
		}
	}
	if !found && len(l.gens) > 0 {
		marginal = l.gens[len(l.gens)-1].Cost.MarginalCost(x[l.pIdx(len(l.gens)-1)])
	}
	for _, b := range l.buses {
		sol.BusLMP[b.Name] = marginal
	}
}

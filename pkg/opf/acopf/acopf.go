// Package acopf implements the AC-NLP formulator: the full
// nonlinear polar-form AC-OPF. The built-in path is the penalty-weighted
// quasi-Newton fallback the dispatcher's hierarchy reaches
// for once a native interior-point plugin is unavailable or disabled —
// this package IS that fallback, not a pre-step before it. Its analytic
// gradient reuses the same closed-form power-flow Jacobian blocks a
// Newton-Raphson AC solve would need, grounded on the teacher's
// pkg/analysis/op.go convergence loop and generalized from a root-find
// to a penalized minimization driven by gonum's L-BFGS.
package acopf

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

// WarmStart projects a DC or SOCP solution onto the AC-NLP variable
// layout: a one-way conversion
// helper, never a universal method.
type WarmStart struct {
	VMag    map[string]float64
	VAngle  map[string]float64
	GenP    map[string]float64
	GenQ    map[string]float64
}

// FromSolution builds a WarmStart from any prior OpfSolution, the
// one-way conversion; the slack angle is re-pinned to 0 by
// Solve regardless of what this carries.
func FromSolution(sol opf.OpfSolution) *WarmStart {
	return &WarmStart{VMag: sol.BusVMag, VAngle: sol.BusVAngle, GenP: sol.GenP, GenQ: sol.GenQ}
}

// Options extends the shared convergence knobs with an optional warm
// start.
type Options struct {
	opf.BaseOptions
	WarmStart *WarmStart
}

// DefaultOptions mirrors opf.DefaultBaseOptions with a flat start.
func DefaultOptions() Options {
	return Options{BaseOptions: opf.DefaultBaseOptions()}
}

type layout struct {
	n, m    int
	buses   []network.Bus
	gens    []network.Generator
	slackAt int // bus index (1-based) of the slack bus
}

func (l layout) vIdx(bus int) int     { return bus - 1 }
func (l layout) thetaIdx(bus int) int { return l.n + bus - 1 }
func (l layout) pIdx(g int) int       { return 2*l.n + g }
func (l layout) qIdx(g int) int       { return 2*l.n + l.m + g }
func (l layout) dim() int             { return 2*l.n + 2*l.m }

// Solve runs the penalty/L-BFGS fallback over the full polar variable
// layout, escalating the penalty weight geometrically until the nodal
// balance residual is within tolerance or the outer-iteration cap is
// reached. The schedule chosen here is mu0=10, growth x8, cap 12 outer
// iterations.
func Solve(net *network.Network, opts Options) (opf.OpfSolution, error) {
	start := time.Now()
	sol := opf.NewSolution(opf.AcOpf)
	log := opts.Log()

	slack, ok := net.SlackBus()
	if !ok {
		return sol, opferr.DataValidation("ac-opf: network has no slack bus")
	}
	Y, err := admittance.Build(net)
	if err != nil {
		return sol, err
	}

	l := layout{n: net.NumBuses(), gens: net.Generators(), buses: net.Buses(), slackAt: int(slack.ID)}
	l.m = len(l.gens)

	x := initialX(l, net, opts.WarmStart)

	mu := consts.PenaltyInitialWeight
	var lastResidual float64
	iterations := 0
	converged := false

	for outer := 0; outer < consts.PenaltyMaxOuterIters; outer++ {
		problem := optimize.Problem{
			Func: func(v []float64) float64 { return penalizedObjective(l, net, Y, v, mu) },
			Grad: func(grad, v []float64) { penalizedGradient(l, net, Y, v, mu, grad) },
		}
		result, err := optimize.Minimize(problem, x, &optimize.Settings{MajorIterationsLimit: 500}, &optimize.LBFGS{})
		if err != nil && result == nil {
			return sol, opferr.NumericalIssue("ac-opf: penalty solve failed: %v", err)
		}
		x = result.X
		iterations++

		lastResidual = maxEqualityResidual(l, net, Y, x)
		log.Debug("ac-opf outer iteration", "outer", outer, "mu", mu, "residual", lastResidual)
		if lastResidual < opts.Tolerance {
			converged = true
			break
		}
		mu *= consts.PenaltyGrowthFactor
	}

	if !converged {
		return sol, opferr.ConvergenceFailure(iterations, lastResidual)
	}

	fillSolution(l, net, x, &sol)
	for _, br := range net.Branches() {
		if !br.InService {
			continue
		}
		pFrom, qFrom := branchFlow(br, Y, l, x)
		key := fmt.Sprintf("%s->%s", l.buses[int(br.From)-1].Name, l.buses[int(br.To)-1].Name)
		sol.BranchPFrom[key] = pFrom * net.BaseMVA()
		sol.BranchQFrom[key] = qFrom * net.BaseMVA()
	}
	sol.Iterations = iterations
	sol.SolveTime = time.Since(start)
	sol.Converged = true
	sol.BindingConstraints = bindingConstraints(l, net, Y, x, opts)
	applyUniformLMP(l, net, &sol, x)
	sol.Provenance = opf.Provenance{SolverUsed: "ac_opf_penalty_lbfgs", DegradedLMP: true}
	return sol, nil
}

func initialX(l layout, net *network.Network, warm *WarmStart) []float64 {
	x := make([]float64, l.dim())
	for _, b := range l.buses {
		v, theta := 1.0, 0.0
		if warm != nil {
			if vv, ok := warm.VMag[b.Name]; ok {
				v = vv
			}
			if tt, ok := warm.VAngle[b.Name]; ok {
				theta = tt
			}
		}
		x[l.vIdx(int(b.ID))] = v
		x[l.thetaIdx(int(b.ID))] = theta
	}
	x[l.thetaIdx(l.slackAt)] = 0 // re-pinned regardless of warm start

	for gi, g := range l.gens {
		p := (g.PMin + g.PMax) / 2
		q := (g.QMin + g.QMax) / 2
		if warm != nil {
			if pp, ok := warm.GenP[g.Name]; ok {
				p = pp
			}
			if qq, ok := warm.GenQ[g.Name]; ok {
				q = qq
			}
		}
		x[l.pIdx(gi)] = p
		x[l.qIdx(gi)] = q
	}
	_ = net
	return x
}

// busInjection returns Σ generator output minus load at bus, in MW/MVAr.
func busInjection(l layout, net *network.Network, x []float64) (p, q map[int]float64) {
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
	return
}

// busPQ evaluates P_i(V,theta) and Q_i(V,theta), summed over bus i
// and its Y-adjacent neighbors only.
func busPQ(bus int, Y *admittance.YMatrix, l layout, x []float64) (p, q float64) {
	neighbors := append([]int{bus}, Y.AdjacentBuses(bus)...)
	vi, ti := x[l.vIdx(bus)], x[l.thetaIdx(bus)]
	for _, j := range neighbors {
		y := Y.Get(bus, j)
		g, b := real(y), imag(y)
		vj, tj := x[l.vIdx(j)], x[l.thetaIdx(j)]
		thetaij := ti - tj
		c, s := math.Cos(thetaij), math.Sin(thetaij)
		p += vi * vj * (g*c + b*s)
		q += vi * vj * (g*s - b*c)
	}
	return
}

func equalityResiduals(l layout, net *network.Network, Y *admittance.YMatrix, x []float64) map[int]float64 {
	p, q := busInjection(l, net, x)
	baseMVA := net.BaseMVA()
	r := make(map[int]float64, 2*l.n)
	for _, b := range l.buses {
		i := int(b.ID)
		pcalc, qcalc := busPQ(i, Y, l, x)
		r[2*i-1] = pcalc - p[i]/baseMVA
		r[2*i] = qcalc - q[i]/baseMVA
	}
	return r
}

func maxEqualityResidual(l layout, net *network.Network, Y *admittance.YMatrix, x []float64) float64 {
	max := math.Abs(x[l.thetaIdx(l.slackAt)])
	for _, v := range equalityResiduals(l, net, Y, x) {
		if av := math.Abs(v); av > max {
			max = av
		}
	}
	return max
}

// boundPenalty returns the squared excess beyond [lo, hi] and its
// derivative with respect to v.
func boundPenalty(v, lo, hi float64) (penalty, grad float64) {
	if v < lo {
		d := v - lo
		return d * d, 2 * d
	}
	if v > hi {
		d := v - hi
		return d * d, 2 * d
	}
	return 0, 0
}

func penalizedObjective(l layout, net *network.Network, Y *admittance.YMatrix, x []float64, mu float64) float64 {
	cost := 0.0
	for gi, g := range l.gens {
		cost += g.Cost.Cost(x[l.pIdx(gi)])
	}

	penalty := 0.0
	for _, v := range equalityResiduals(l, net, Y, x) {
		penalty += v * v
	}
	slackTheta := x[l.thetaIdx(l.slackAt)]
	penalty += slackTheta * slackTheta

	for _, b := range l.buses {
		p, _ := boundPenalty(x[l.vIdx(int(b.ID))], b.VMin, b.VMax)
		penalty += p
	}
	for gi, g := range l.gens {
		pMin := g.PMin
		if g.IsSynchronousCondenser {
			pMin = math.Min(pMin, 0)
		}
		p, _ := boundPenalty(x[l.pIdx(gi)], pMin, g.PMax)
		penalty += p
		q, _ := boundPenalty(x[l.qIdx(gi)], g.QMin, g.QMax)
		penalty += q
	}

	return cost + mu*penalty
}

// penalizedGradient fills grad analytically: the smooth cost term uses
// CostModel.MarginalCost directly; the penalty term's derivative is
// propagated through the closed-form power-flow Jacobian blocks
// (∂P/∂θ, ∂P/∂V, ∂Q/∂θ, ∂Q/∂V), restricted to each bus's Y-adjacent
// neighborhood only.
func penalizedGradient(l layout, net *network.Network, Y *admittance.YMatrix, x []float64, mu float64, grad []float64) {
	for i := range grad {
		grad[i] = 0
	}
	for gi, g := range l.gens {
		grad[l.pIdx(gi)] += g.Cost.MarginalCost(x[l.pIdx(gi)])
	}

	p, q := busInjection(l, net, x)
	baseMVA := net.BaseMVA()
	residP := make(map[int]float64, l.n)
	residQ := make(map[int]float64, l.n)
	for _, b := range l.buses {
		i := int(b.ID)
		pcalc, qcalc := busPQ(i, Y, l, x)
		residP[i] = pcalc - p[i]/baseMVA
		residQ[i] = qcalc - q[i]/baseMVA
	}

	for _, b := range l.buses {
		i := int(b.ID)
		neighbors := append([]int{i}, Y.AdjacentBuses(i)...)
		vi, ti := x[l.vIdx(i)], x[l.thetaIdx(i)]
		rp, rq := residP[i], residQ[i]

		for _, j := range neighbors {
			y := Y.Get(i, j)
			gij, bij := real(y), imag(y)
			vj, tj := x[l.vIdx(j)], x[l.thetaIdx(j)]
			thetaij := ti - tj
			c, s := math.Cos(thetaij), math.Sin(thetaij)

			dPdTi := vi * vj * (-gij*s + bij*c)
			dPdTj := -dPdTi
			dPdVi := vj * (gij*c + bij*s)
			dQdTi := vi * vj * (gij*c + bij*s)
			dQdTj := -dQdTi
			dQdVi := vj * (gij*s - bij*c)
			if i == j {
				dPdVi = 2 * vi * gij
				dQdVi = 2 * vi * (-bij)
			}

			grad[l.thetaIdx(i)] += 2 * mu * rp * dPdTi
			grad[l.thetaIdx(j)] += 2 * mu * rp * dPdTj
			grad[l.vIdx(i)] += 2 * mu * rp * dPdVi

			grad[l.thetaIdx(i)] += 2 * mu * rq * dQdTi
			grad[l.thetaIdx(j)] += 2 * mu * rq * dQdTj
			grad[l.vIdx(i)] += 2 * mu * rq * dQdVi
			if i != j {
				grad[l.vIdx(j)] += 2 * mu * rp * vi * (gij*c + bij*s)
				grad[l.vIdx(j)] += 2 * mu * rq * vi * (gij*s - bij*c)
			}
		}
	}

	for gi := range l.gens {
		grad[l.pIdx(gi)] += 2 * mu * -(1 / baseMVA) * residP[int(l.gens[gi].Bus)]
		grad[l.qIdx(gi)] += 2 * mu * -(1 / baseMVA) * residQ[int(l.gens[gi].Bus)]
	}

	grad[l.thetaIdx(l.slackAt)] += 2 * mu * x[l.thetaIdx(l.slackAt)]

	for _, b := range l.buses {
		_, g := boundPenalty(x[l.vIdx(int(b.ID))], b.VMin, b.VMax)
		grad[l.vIdx(int(b.ID))] += mu * g
	}
	for gi, gen := range l.gens {
		pMin := gen.PMin
		if gen.IsSynchronousCondenser {
			pMin = math.Min(pMin, 0)
		}
		_, gp := boundPenalty(x[l.pIdx(gi)], pMin, gen.PMax)
		grad[l.pIdx(gi)] += mu * gp
		_, gq := boundPenalty(x[l.qIdx(gi)], gen.QMin, gen.QMax)
		grad[l.qIdx(gi)] += mu * gq
	}
}

func fillSolution(l layout, net *network.Network, x []float64, sol *opf.OpfSolution) {
	slackTheta := x[l.thetaIdx(l.slackAt)]
	for _, b := range l.buses {
		sol.BusVMag[b.Name] = x[l.vIdx(int(b.ID))]
		sol.BusVAngle[b.Name] = x[l.thetaIdx(int(b.ID))] - slackTheta
	}
	objective := 0.0
	for gi, g := range l.gens {
		sol.GenP[g.Name] = x[l.pIdx(gi)]
		sol.GenQ[g.Name] = x[l.qIdx(gi)]
		objective += g.Cost.Cost(x[l.pIdx(gi)])
	}
	sol.Objective = objective

	totalGenP, totalLoad := 0.0, net.TotalLoadMW()
	for gi := range l.gens {
		totalGenP += x[l.pIdx(gi)]
	}
	sol.LossesMW = totalGenP - totalLoad
}

func bindingConstraints(l layout, net *network.Network, Y *admittance.YMatrix, x []float64, opts Options) []opf.BindingConstraint {
	var out []opf.BindingConstraint
	for gi, g := range l.gens {
		p := x[l.pIdx(gi)]
		if p <= g.PMin+1e-6 {
			out = append(out, opf.BindingConstraint{Name: g.Name, Category: "gen_pmin", Value: p, Limit: g.PMin})
		} else if p >= g.PMax-1e-6 {
			out = append(out, opf.BindingConstraint{Name: g.Name, Category: "gen_pmax", Value: p, Limit: g.PMax})
		}
	}
	if !opts.EnforceThermalLimits {
		return out
	}
	for _, br := range net.Branches() {
		if !br.InService || br.Rate == nil {
			continue
		}
		pFrom, qFrom := branchFlow(br, Y, l, x)
		limit := *br.Rate / net.BaseMVA()
		s := math.Hypot(pFrom, qFrom)
		if s/limit > 0.999 {
			out = append(out, opf.BindingConstraint{
				Name: fmt.Sprintf("branch_%d", br.ID), Category: "thermal",
				Value: s * net.BaseMVA(), Limit: limit * net.BaseMVA(),
			})
		}
	}
	return out
}

func branchFlow(br network.Branch, Y *admittance.YMatrix, l layout, x []float64) (p, q float64) {
	i, j := int(br.From), int(br.To)
	y := admittance.SeriesAdmittance(br.R, br.X)
	g, b := real(y), imag(y)
	vi, vj := x[l.vIdx(i)], x[l.vIdx(j)]
	thetaij := x[l.thetaIdx(i)] - x[l.thetaIdx(j)]
	c, s := math.Cos(thetaij), math.Sin(thetaij)
	p = g*vi*vi - vi*vj*(g*c+b*s)
	q = -b*vi*vi + vi*vj*(b*c-g*s)
	return
}

func applyUniformLMP(l layout, net *network.Network, sol *opf.OpfSolution, x []float64) {
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

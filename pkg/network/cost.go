package network

import "sort"

// CostModel is one of None, Polynomial, or PiecewiseLinear.
// Implementations evaluate total cost and marginal cost in $/hr and
// $/MWh respectively, with P given in MW.
type CostModel interface {
	Cost(pMW float64) float64
	MarginalCost(pMW float64) float64
}

// NoCost is the zero-marginal-cost model, the default for synchronous
// condensers and any generator without an explicit cost curve.
type NoCost struct{}

func (NoCost) Cost(float64) float64         { return 0 }
func (NoCost) MarginalCost(float64) float64 { return 0 }

// Polynomial evaluates cost(P) = sum(Coeffs[k] * P^k), Coeffs ordered
// [c0, c1, c2, ...] in $/MWh-equivalent units.
type Polynomial struct {
	Coeffs []float64
}

func (p Polynomial) Cost(pMW float64) float64 {
	total := 0.0
	pow := 1.0
	for _, c := range p.Coeffs {
		total += c * pow
		pow *= pMW
	}
	return total
}

func (p Polynomial) MarginalCost(pMW float64) float64 {
	if len(p.Coeffs) < 2 {
		return 0
	}
	total := 0.0
	pow := 1.0
	for k := 1; k < len(p.Coeffs); k++ {
		total += float64(k) * p.Coeffs[k] * pow
		pow *= pMW
	}
	return total
}

// QuadraticTerm returns c2, the coefficient feeding the SOCP/AC-NLP
// quadratic objective, or 0 if the polynomial has degree < 2.
func (p Polynomial) QuadraticTerm() float64 {
	if len(p.Coeffs) < 3 {
		return 0
	}
	return p.Coeffs[2]
}

// LinearTerm returns c1, or 0 if the polynomial has degree < 1.
func (p Polynomial) LinearTerm() float64 {
	if len(p.Coeffs) < 2 {
		return 0
	}
	return p.Coeffs[1]
}

// ConstantTerm returns c0, or 0 if empty.
func (p Polynomial) ConstantTerm() float64 {
	if len(p.Coeffs) < 1 {
		return 0
	}
	return p.Coeffs[0]
}

// Breakpoint is one (MW, $/hr) knot of a PiecewiseLinear cost curve.
type Breakpoint struct {
	MW      float64
	DollarsPerHour float64
}

// PiecewiseLinear evaluates a piecewise-linear cost curve through an
// ordered sequence of breakpoints, linearly extrapolated beyond the
// endpoints.
type PiecewiseLinear struct {
	Points []Breakpoint
}

func (pl PiecewiseLinear) sorted() []Breakpoint {
	pts := append([]Breakpoint(nil), pl.Points...)
	sort.Slice(pts, func(i, j int) bool { return pts[i].MW < pts[j].MW })
	return pts
}

func (pl PiecewiseLinear) Cost(pMW float64) float64 {
	pts := pl.sorted()
	if len(pts) == 0 {
		return 0
	}
	if len(pts) == 1 {
		return pts[0].DollarsPerHour
	}
	if pMW <= pts[0].MW {
		return pl.extrapolate(pts[0], pts[1], pMW)
	}
	last := len(pts) - 1
	if pMW >= pts[last].MW {
		return pl.extrapolate(pts[last-1], pts[last], pMW)
	}
	for i := 0; i < last; i++ {
		if pMW >= pts[i].MW && pMW <= pts[i+1].MW {
			return pl.extrapolate(pts[i], pts[i+1], pMW)
		}
	}
	return pl.extrapolate(pts[last-1], pts[last], pMW)
}

func (pl PiecewiseLinear) extrapolate(a, b Breakpoint, pMW float64) float64 {
	slope := pl.segmentSlope(a, b)
	return a.DollarsPerHour + slope*(pMW-a.MW)
}

func (pl PiecewiseLinear) segmentSlope(a, b Breakpoint) float64 {
	if b.MW == a.MW {
		return 0
	}
	return (b.DollarsPerHour - a.DollarsPerHour) / (b.MW - a.MW)
}

func (pl PiecewiseLinear) MarginalCost(pMW float64) float64 {
	pts := pl.sorted()
	if len(pts) < 2 {
		return 0
	}
	if pMW <= pts[0].MW {
		return pl.segmentSlope(pts[0], pts[1])
	}
	last := len(pts) - 1
	if pMW >= pts[last].MW {
		return pl.segmentSlope(pts[last-1], pts[last])
	}
	for i := 0; i < last; i++ {
		if pMW >= pts[i].MW && pMW <= pts[i+1].MW {
			return pl.segmentSlope(pts[i], pts[i+1])
		}
	}
	return pl.segmentSlope(pts[last-1], pts[last])
}

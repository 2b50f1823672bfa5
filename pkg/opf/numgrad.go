package opf

import "math"

// NumericalGradient fills grad with a central-difference approximation of
// f's gradient at x. It exists for formulators whose penalized objective
// mixes enough product terms (lifted SOCP variables, cone slack) that a
// hand-derived analytic gradient would obscure more than it clarifies;
// AC-NLP's penalty gradient is still analytic because its Jacobian blocks
// are the standard power-flow ones worth keeping explicit.
func NumericalGradient(f func([]float64) float64, x []float64, grad []float64) {
	const step = 1e-6
	for i := range x {
		orig := x[i]
		h := step * math.Max(1, math.Abs(orig))

		x[i] = orig + h
		fPlus := f(x)
		x[i] = orig - h
		fMinus := f(x)
		x[i] = orig

		grad[i] = (fPlus - fMinus) / (2 * h)
	}
}

// Package gatfmt renders OpfSolution fields and raw network quantities
// as human-readable strings. It is adapted from the teacher's
// pkg/util/formatter.go (engineering-notation voltage/current/frequency
// formatting for SPICE node output), retargeted from volts/amps/hertz to
// the power-system units an OpfSolution carries: MW, MVAr, pu, and
// $/MWh. Available to collaborators for CLI rendering even though the
// CLI itself is out of scope.
package gatfmt

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/monistowl/gat/pkg/opf"
)

// FormatPower renders a MW or MVAr quantity, switching to kW/kVAr below
// 1 and engineering notation below 1e-3, mirroring the teacher's
// FormatValueFactor unit-scaling ladder.
func FormatPower(valueMW float64, unit string) string {
	absValue := math.Abs(valueMW)
	switch {
	case absValue >= 1:
		return fmt.Sprintf("%.3f M%s", valueMW, unit)
	case absValue >= 1e-3:
		return fmt.Sprintf("%.3f k%s", valueMW*1e3, unit)
	case absValue == 0:
		return fmt.Sprintf("%.3f M%s", 0.0, unit)
	default:
		return fmt.Sprintf("%.3e M%s", valueMW, unit)
	}
}

// FormatVoltage renders a per-unit bus voltage magnitude to four
// decimals, the convention a power-flow dump uses instead of an
// engineering-notation ladder since per-unit values stay near 1.0.
func FormatVoltage(vPU float64) string {
	return fmt.Sprintf("%.4f pu", vPU)
}

// FormatAngle renders a bus angle, given in radians, as both radians and
// degrees since operators read angle spread in degrees.
func FormatAngle(radians float64) string {
	return fmt.Sprintf("%.4f rad (%.2f deg)", radians, radians*180/math.Pi)
}

// FormatLMP renders a locational marginal price in $/MWh.
func FormatLMP(dollarsPerMWh float64) string {
	return fmt.Sprintf("$%.2f/MWh", dollarsPerMWh)
}

// FormatCost renders an objective value in $/hr.
func FormatCost(dollarsPerHour float64) string {
	return fmt.Sprintf("$%.2f/hr", dollarsPerHour)
}

// Dump renders a full OpfSolution as a multi-line report, sorted by
// entity name for deterministic output, so a solution is readable
// without a debugger.
func Dump(sol opf.OpfSolution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "solution: method=%s converged=%t iterations=%d objective=%s\n",
		sol.Method, sol.Converged, sol.Iterations, FormatCost(sol.Objective))

	if len(sol.GenP) > 0 {
		b.WriteString("generators:\n")
		for _, name := range sortedKeys(sol.GenP) {
			fmt.Fprintf(&b, "  %s: P=%s Q=%s\n", name,
				FormatPower(sol.GenP[name], "W"), FormatPower(sol.GenQ[name], "VAr"))
		}
	}

	if len(sol.BusVMag) > 0 {
		b.WriteString("buses:\n")
		for _, name := range sortedKeys(sol.BusVMag) {
			fmt.Fprintf(&b, "  %s: |V|=%s theta=%s lmp=%s\n", name,
				FormatVoltage(sol.BusVMag[name]), FormatAngle(sol.BusVAngle[name]), FormatLMP(sol.BusLMP[name]))
		}
	}

	if len(sol.BranchPFrom) > 0 {
		b.WriteString("branches:\n")
		for _, name := range sortedKeys(sol.BranchPFrom) {
			fmt.Fprintf(&b, "  %s: P=%s Q=%s\n", name,
				FormatPower(sol.BranchPFrom[name], "W"), FormatPower(sol.BranchQFrom[name], "VAr"))
		}
	}

	if len(sol.BindingConstraints) > 0 {
		b.WriteString("binding constraints:\n")
		for _, bc := range sol.BindingConstraints {
			fmt.Fprintf(&b, "  %s [%s]: value=%.4f limit=%.4f shadow=%.4f\n",
				bc.Name, bc.Category, bc.Value, bc.Limit, bc.ShadowPrice)
		}
	}

	fmt.Fprintf(&b, "losses: %s\n", FormatPower(sol.LossesMW, "W"))
	if sol.Provenance.DegradedLMP {
		b.WriteString("note: LMPs are degraded (uniform marginal-cost fallback)\n")
	}
	if sol.Provenance.RelaxationInexact {
		b.WriteString("note: SOCP relaxation is inexact at this solution\n")
	}
	if sol.Provenance.FallbackApplied {
		fmt.Fprintf(&b, "note: requested solver %q unavailable, fell back to %q\n",
			sol.Provenance.RequestedSolver, sol.Provenance.SolverUsed)
	}
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package gatfmt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monistowl/gat/pkg/opf"
)

func TestFormatPowerScalesLadder(t *testing.T) {
	require.Equal(t, "50.000 MMW", FormatPower(50, "MW"))
	require.Equal(t, "5.000 kMW", FormatPower(5e-3, "MW"))
	require.Equal(t, "0.000 MMW", FormatPower(0, "MW"))
}

func TestFormatVoltageAndAngle(t *testing.T) {
	require.Equal(t, "1.0500 pu", FormatVoltage(1.05))
	require.Contains(t, FormatAngle(0.1), "deg")
}

func TestFormatLMPAndCost(t *testing.T) {
	require.Equal(t, "$10.00/MWh", FormatLMP(10))
	require.Equal(t, "$500.00/hr", FormatCost(500))
}

func TestDumpIncludesDegradedAndFallbackNotes(t *testing.T) {
	sol := opf.NewSolution(opf.DcOpf)
	sol.GenP["gen1"] = 50
	sol.GenQ["gen1"] = 0
	sol.BusVMag["bus1"] = 1.0
	sol.BusVAngle["bus1"] = 0
	sol.BusLMP["bus1"] = 10
	sol.Provenance = opf.Provenance{
		DegradedLMP:       true,
		RelaxationInexact: false,
		FallbackApplied:   true,
		RequestedSolver:   "gat-ipopt",
		SolverUsed:        "ac_opf_penalty_lbfgs",
	}

	out := Dump(sol)
	require.Contains(t, out, "degraded")
	require.Contains(t, out, "gat-ipopt")
	require.Contains(t, out, "ac_opf_penalty_lbfgs")
}

func TestDumpOmitsEmptySections(t *testing.T) {
	sol := opf.NewSolution(opf.EconomicDispatch)
	out := Dump(sol)
	require.NotContains(t, out, "buses:")
	require.NotContains(t, out, "branches:")
}

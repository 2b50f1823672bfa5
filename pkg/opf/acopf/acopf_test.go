package acopf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monistowl/gat/internal/fixture"
	"github.com/monistowl/gat/pkg/network"
)

func scenarioA(t *testing.T) *network.Network {
	t.Helper()
	src := `
basemva 100
bus bus1 kv=230 vmin=0.9 vmax=1.1 slack
bus bus2 kv=230 vmin=0.9 vmax=1.1
branch bus1 bus2 r=0.01 x=0.1
gen gen1 bus=bus1 pmin=0 pmax=100 qmin=-50 qmax=50 cost=0,10
load load1 bus=bus2 p=50MW q=5MVAr
`
	net, err := fixture.Build("scenario-a", src)
	require.NoError(t, err)
	return net
}

// Scenario A: §8 — AC-OPF dispatches close to 50 MW plus a small loss
// margin and converges within the documented penalty schedule.
func TestScenarioAAcOpf(t *testing.T) {
	net := scenarioA(t)
	sol, err := Solve(net, DefaultOptions())
	require.NoError(t, err)
	require.True(t, sol.Converged)
	require.GreaterOrEqual(t, sol.GenP["gen1"], 50.0)
	require.Less(t, sol.GenP["gen1"], 51.0)
}

// Invariant 4: slack angle is exactly 0, even after penalty minimization
// perturbs every other variable.
func TestSlackAngleRepinnedToZero(t *testing.T) {
	net := scenarioA(t)
	sol, err := Solve(net, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 0.0, sol.BusVAngle["bus1"])
}

// Invariant 2: bus voltage magnitude respects its configured bounds.
func TestBusVoltageWithinBounds(t *testing.T) {
	net := scenarioA(t)
	sol, err := Solve(net, DefaultOptions())
	require.NoError(t, err)
	for _, b := range net.Buses() {
		v := sol.BusVMag[b.Name]
		require.GreaterOrEqual(t, v, b.VMin-1e-3)
		require.LessOrEqual(t, v, b.VMax+1e-3)
	}
}

func TestWarmStartFromPriorSolution(t *testing.T) {
	net := scenarioA(t)
	prior, err := Solve(net, DefaultOptions())
	require.NoError(t, err)

	warm := FromSolution(prior)
	require.Equal(t, prior.BusVMag, warm.VMag)
	require.Equal(t, prior.GenP, warm.GenP)

	opts := DefaultOptions()
	opts.WarmStart = warm
	sol, err := Solve(net, opts)
	require.NoError(t, err)
	require.True(t, sol.Converged)
}

// Scenario D: a phase shifter branch (x negative, flagged) must not break
// Y-matrix construction or AC-OPF convergence.
func TestScenarioDPhaseShifterConverges(t *testing.T) {
	src := `
basemva 100
bus bus1 kv=230 slack
bus bus2 kv=230
branch bus1 bus2 r=0.01 x=-0.05 shift=0 phaseshifter
gen gen1 bus=bus1 pmin=0 pmax=100 qmin=-50 qmax=50 cost=0,10
load load1 bus=bus2 p=20MW q=2MVAr
`
	net, err := fixture.Build("scenario-d", src)
	require.NoError(t, err)
	sol, err := Solve(net, DefaultOptions())
	require.NoError(t, err)
	require.True(t, sol.Converged)
}

// Scenario C: a synchronous condenser must not move the objective by more
// than a small reactive-coupling tolerance.
func TestSynchronousCondenserAdmission(t *testing.T) {
	net := scenarioA(t)
	before, err := Solve(net, DefaultOptions())
	require.NoError(t, err)

	slack, _ := net.SlackBus()
	net.AddGenerator(slack.ID, "condenser", -10, 0, -50, 50, nil, true)
	require.NoError(t, net.Validate())

	after, err := Solve(net, DefaultOptions())
	require.NoError(t, err)
	require.InDelta(t, before.Objective, after.Objective, 1.0)
}

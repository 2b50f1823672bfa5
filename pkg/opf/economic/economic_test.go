package economic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monistowl/gat/internal/fixture"
	"github.com/monistowl/gat/pkg/network"
	"github.com/monistowl/gat/pkg/opf"
)

func scenarioA(t *testing.T) *network.Network {
	t.Helper()
	src := `
basemva 100
bus bus1 kv=230 slack
bus bus2 kv=230
branch bus1 bus2 r=0.01 x=0.1
gen gen1 bus=bus1 pmin=0 pmax=100 cost=0,10
load load1 bus=bus2 p=50MW
`
	net, err := fixture.Build("scenario-a", src)
	require.NoError(t, err)
	return net
}

func scenarioB(t *testing.T) *network.Network {
	t.Helper()
	src := `
basemva 100
bus bus1 kv=230 slack
bus bus2 kv=230
bus bus3 kv=230
branch bus1 bus2 r=0 x=0.1
branch bus2 bus3 r=0 x=0.1
branch bus1 bus3 r=0 x=0.1
gen cheap bus=bus1 pmin=0 pmax=100 cost=0,10
gen pricey bus=bus2 pmin=0 pmax=100 cost=0,30
load load1 bus=bus3 p=80MW
`
	net, err := fixture.Build("scenario-b", src)
	require.NoError(t, err)
	return net
}

// Scenario A: §8 — Economic dispatch meets the 50 MW load with a 1% loss
// margin at the sole generator, objective approx 500 $/hr plus the margin.
func TestScenarioATwoBusEconomic(t *testing.T) {
	net := scenarioA(t)
	sol, err := Solve(net, opf.DefaultBaseOptions())
	require.NoError(t, err)
	require.True(t, sol.Converged)
	require.InDelta(t, 50*(1+LossEstimateDelta), sol.GenP["gen1"], 1e-6)
	require.InDelta(t, 10*sol.GenP["gen1"], sol.Objective, 1e-6)
}

// Scenario B: §8 — merit order dispatches the cheap generator ahead of the
// expensive one; the cheap unit alone covers the 80 MW (plus margin) load.
func TestScenarioBMeritOrder(t *testing.T) {
	net := scenarioB(t)
	sol, err := Solve(net, opf.DefaultBaseOptions())
	require.NoError(t, err)
	require.InDelta(t, 80*(1+LossEstimateDelta), sol.GenP["cheap"], 1e-6)
	require.InDelta(t, 0, sol.GenP["pricey"], 1e-9)
}

// Invariant 1: generator output stays within [PMin, PMax].
func TestGeneratorOutputWithinBounds(t *testing.T) {
	net := scenarioB(t)
	sol, err := Solve(net, opf.DefaultBaseOptions())
	require.NoError(t, err)
	for _, g := range net.Generators() {
		p := sol.GenP[g.Name]
		require.GreaterOrEqual(t, p, g.PMin-1e-6)
		require.LessOrEqual(t, p, g.PMax+1e-6)
	}
}

func TestInfeasibleWhenCapacityBelowLoad(t *testing.T) {
	src := `
basemva 100
bus bus1 kv=230 slack
gen gen1 bus=bus1 pmin=0 pmax=10 cost=0,10
load load1 bus=bus1 p=50MW
`
	net, err := fixture.Build("undercapacity", src)
	require.NoError(t, err)
	_, err = Solve(net, opf.DefaultBaseOptions())
	require.Error(t, err)
}

// Scenario C: a synchronous condenser contributes no real power and must
// not perturb the dispatch or objective economic dispatch already found.
func TestSynchronousCondenserLeavesDispatchUnchanged(t *testing.T) {
	net := scenarioA(t)
	before, err := Solve(net, opf.DefaultBaseOptions())
	require.NoError(t, err)

	slack, _ := net.SlackBus()
	net.AddGenerator(slack.ID, "condenser", -10, 0, -50, 50, nil, true)
	require.NoError(t, net.Validate())

	after, err := Solve(net, opf.DefaultBaseOptions())
	require.NoError(t, err)
	require.InDelta(t, before.Objective, after.Objective, 1e-6)
	require.NotContains(t, after.GenP, "condenser")
}

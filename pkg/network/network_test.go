package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func twoBus(t *testing.T) *Network {
	t.Helper()
	n := New("two-bus")
	b1 := n.AddBus("bus1", 230, 0.9, 1.1, true)
	b2 := n.AddBus("bus2", 230, 0.9, 1.1, false)
	n.AddBranch(b1, b2, 0.01, 0.1, 0, 1.0, 0, nil, false)
	n.AddGenerator(b1, "gen1", 0, 100, -50, 50, Polynomial{Coeffs: []float64{0, 10}}, false)
	n.AddLoad(b2, "load1", 50, 0)
	return n
}

func TestValidateAggregatesLoadOntoBus(t *testing.T) {
	n := twoBus(t)
	require.NoError(t, n.Validate())
	bus2, ok := n.Bus(2)
	require.True(t, ok)
	require.InDelta(t, 50, bus2.PLoad, 1e-9)
}

func TestValidateRejectsZeroImpedanceBranch(t *testing.T) {
	n := New("bad")
	b1 := n.AddBus("bus1", 230, 0.9, 1.1, true)
	b2 := n.AddBus("bus2", 230, 0.9, 1.1, false)
	n.AddBranch(b1, b2, 0, 0, 0, 1.0, 0, nil, false)
	require.Error(t, n.Validate())
}

func TestValidateAllowsNegativeReactancePhaseShifter(t *testing.T) {
	n := New("phase-shifter")
	b1 := n.AddBus("bus1", 230, 0.9, 1.1, true)
	b2 := n.AddBus("bus2", 230, 0.9, 1.1, false)
	n.AddBranch(b1, b2, 0.01, -0.05, 0, 1.0, 0, nil, true)
	n.AddGenerator(b1, "gen1", 0, 100, 0, 0, Polynomial{Coeffs: []float64{0, 10}}, false)
	n.AddLoad(b2, "load1", 10, 0)
	require.NoError(t, n.Validate())
}

func TestValidateRejectsNonPhaseShifterNegativeReactance(t *testing.T) {
	n := New("bad")
	b1 := n.AddBus("bus1", 230, 0.9, 1.1, true)
	b2 := n.AddBus("bus2", 230, 0.9, 1.1, false)
	n.AddBranch(b1, b2, 0.01, -0.05, 0, 1.0, 0, nil, false)
	require.Error(t, n.Validate())
}

func TestValidateRejectsTwoSlackBusesInOneComponent(t *testing.T) {
	n := New("bad")
	b1 := n.AddBus("bus1", 230, 0.9, 1.1, true)
	b2 := n.AddBus("bus2", 230, 0.9, 1.1, true)
	n.AddBranch(b1, b2, 0.01, 0.1, 0, 1.0, 0, nil, false)
	require.Error(t, n.Validate())
}

func TestValidateAllowsOneSlackPerIsolatedComponent(t *testing.T) {
	n := New("two-islands")
	a1 := n.AddBus("a1", 230, 0.9, 1.1, true)
	a2 := n.AddBus("a2", 230, 0.9, 1.1, false)
	n.AddBranch(a1, a2, 0.01, 0.1, 0, 1.0, 0, nil, false)
	b1 := n.AddBus("b1", 230, 0.9, 1.1, true)
	b2 := n.AddBus("b2", 230, 0.9, 1.1, false)
	n.AddBranch(b1, b2, 0.01, 0.1, 0, 1.0, 0, nil, false)
	require.NoError(t, n.Validate())
}

func TestSynchronousCondenserSkipsPositivePMaxRule(t *testing.T) {
	n := twoBus(t)
	slack, _ := n.SlackBus()
	n.AddGenerator(slack.ID, "condenser", -10, 0, -50, 50, nil, true)
	require.NoError(t, n.Validate())
	cond, ok := n.Generator(2)
	require.True(t, ok)
	require.IsType(t, NoCost{}, cond.Cost)
}

func TestValidateRejectsNonCondenserNonPositivePMax(t *testing.T) {
	n := New("bad")
	b1 := n.AddBus("bus1", 230, 0.9, 1.1, true)
	n.AddGenerator(b1, "gen1", 0, 0, 0, 0, Polynomial{Coeffs: []float64{0, 10}}, false)
	require.Error(t, n.Validate())
}

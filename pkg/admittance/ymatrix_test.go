package admittance

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monistowl/gat/pkg/network"
)

func buildTwoBus(t *testing.T, r, x, shift float64, tap float64, isPS bool) *network.Network {
	t.Helper()
	n := network.New("two-bus")
	b1 := n.AddBus("bus1", 230, 0.9, 1.1, true)
	b2 := n.AddBus("bus2", 230, 0.9, 1.1, false)
	n.AddBranch(b1, b2, r, x, 0, tap, shift, nil, isPS)
	n.AddGenerator(b1, "gen1", 0, 100, 0, 0, network.Polynomial{Coeffs: []float64{0, 10}}, false)
	n.AddLoad(b2, "load1", 10, 0)
	require.NoError(t, n.Validate())
	return n
}

func TestBuildStampsSeriesAdmittanceWithUnityTap(t *testing.T) {
	n := buildTwoBus(t, 0.01, 0.1, 0, 1.0, false)
	y, err := Build(n)
	require.NoError(t, err)

	series := SeriesAdmittance(0.01, 0.1)
	require.InDelta(t, real(series), real(y.Get(1, 1)), 1e-9)
	require.InDelta(t, imag(series), imag(y.Get(1, 1)), 1e-9)
	require.InDelta(t, real(-series), real(y.Get(1, 2)), 1e-9)
	require.InDelta(t, real(-series), real(y.Get(2, 1)), 1e-9)
}

func TestBuildTapScalesFromSideDiagonal(t *testing.T) {
	n := buildTwoBus(t, 0.01, 0.1, 0, 1.05, false)
	y, err := Build(n)
	require.NoError(t, err)
	series := SeriesAdmittance(0.01, 0.1)
	want := series / complex(1.05*1.05, 0)
	require.InDelta(t, real(want), real(y.Get(1, 1)), 1e-9)
	require.InDelta(t, imag(want), imag(y.Get(1, 1)), 1e-9)
}

func TestBuildPhaseShifterAsymmetry(t *testing.T) {
	phi := 0.1
	n := buildTwoBus(t, 0.01, -0.05, phi, 1.0, true)
	y, err := Build(n)
	require.NoError(t, err)
	// Y[i,j] and Y[j,i] must differ by the phase factor's conjugate, so
	// the off-diagonal pair is asymmetric whenever phi != 0.
	require.False(t, cmplx.Abs(y.Get(1, 2)-y.Get(2, 1)) < 1e-12)
}

func TestBuildZeroImpedanceBranchRejected(t *testing.T) {
	n := network.New("bad")
	b1 := n.AddBus("bus1", 230, 0.9, 1.1, true)
	b2 := n.AddBus("bus2", 230, 0.9, 1.1, false)
	n.AddBranch(b1, b2, 0, 0, 0, 1.0, 0, nil, true)
	// Validate is never called here; Y-matrix construction rejects a
	// zero impedance on its own, phase shifter or not.
	_, err := Build(n)
	require.Error(t, err)
}

func TestAdjacentBusesSorted(t *testing.T) {
	n := network.New("star")
	center := n.AddBus("center", 230, 0.9, 1.1, true)
	leaf1 := n.AddBus("leaf1", 230, 0.9, 1.1, false)
	leaf2 := n.AddBus("leaf2", 230, 0.9, 1.1, false)
	n.AddBranch(center, leaf2, 0.01, 0.1, 0, 1.0, 0, nil, false)
	n.AddBranch(center, leaf1, 0.01, 0.1, 0, 1.0, 0, nil, false)
	n.AddGenerator(center, "gen1", 0, 100, 0, 0, network.Polynomial{Coeffs: []float64{0, 10}}, false)
	n.AddLoad(leaf1, "l1", 5, 0)
	n.AddLoad(leaf2, "l2", 5, 0)
	require.NoError(t, n.Validate())

	y, err := Build(n)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, y.AdjacentBuses(1))
	require.True(t, math.Abs(float64(y.Size()-3)) < 1e-9)
}

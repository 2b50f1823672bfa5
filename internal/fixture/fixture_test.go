package fixture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		raw    string
		target Unit
		want   float64
	}{
		{"50MW", UnitMW, 50},
		{"1.5GVA", UnitMVA, 1500},
		{"220kV", UnitKV, 220},
		{"0.1", UnitRaw, 0.1},
		{"100W", UnitMW, 1e-4},
		{"-30MVAr", UnitMVAr, -30},
	}
	for _, c := range cases {
		got, err := ParseQuantity(c.raw, c.target)
		require.NoError(t, err, c.raw)
		require.InDelta(t, c.want, got, 1e-9, c.raw)
	}
}

func TestParseQuantityRejectsGarbage(t *testing.T) {
	_, err := ParseQuantity("not-a-number", UnitMW)
	require.Error(t, err)
}

func TestBuildScenarioA(t *testing.T) {
	src := `
basemva 100
bus bus1 kv=230 slack
bus bus2 kv=230
branch bus1 bus2 r=0.01 x=0.1
gen gen1 bus=bus1 pmin=0 pmax=100 cost=0,10
load load1 bus=bus2 p=50MW
`
	net, err := Build("scenario-a", src)
	require.NoError(t, err)
	require.Equal(t, 2, net.NumBuses())
	require.Equal(t, 1, net.NumBranches())
	require.Equal(t, 1, net.NumGenerators())
	require.InDelta(t, 50, net.TotalLoadMW(), 1e-9)
}

func TestBuildRejectsUnknownBusReference(t *testing.T) {
	_, err := Build("bad", "bus bus1 kv=230 slack\nload l1 bus=nope p=10MW\n")
	require.Error(t, err)
}

func TestBuildRejectsMissingSlack(t *testing.T) {
	_, err := Build("bad", "bus bus1 kv=230\nbus bus2 kv=230\nbranch bus1 bus2 r=0.01 x=0.1\n")
	require.Error(t, err)
}

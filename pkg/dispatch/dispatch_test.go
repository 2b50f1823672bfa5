package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monistowl/gat/internal/fixture"
	"github.com/monistowl/gat/pkg/network"
	"github.com/monistowl/gat/pkg/opf"
	"github.com/monistowl/gat/pkg/plugin"
)

const scenarioASrc = `
basemva 100
bus bus1 kv=230 vmin=0.9 vmax=1.1 slack
bus bus2 kv=230 vmin=0.9 vmax=1.1
branch bus1 bus2 r=0.01 x=0.1
gen gen1 bus=bus1 pmin=0 pmax=100 qmin=-50 qmax=50 cost=0,10
load load1 bus=bus2 p=50MW q=5MVAr
`

func scenarioA(t *testing.T) *network.Network {
	t.Helper()
	net, err := fixture.Build("scenario-a", scenarioASrc)
	require.NoError(t, err)
	return net
}

// fakeRegistry simulates an installed-but-risk-accepted "gat-ipopt" plugin
// that always fails, exercising the dispatcher's fallback path without
// spawning a real subprocess.
type fakeRegistry struct {
	installed map[string]bool
	invoked   []string
	failWith  error
}

func (f *fakeRegistry) IsInstalled(solverID string) bool { return f.installed[solverID] }

func (f *fakeRegistry) Invoke(net *network.Network, class, solverID string, opts plugin.InvokeOptions) (opf.OpfSolution, error) {
	f.invoked = append(f.invoked, solverID)
	if f.failWith != nil {
		return opf.OpfSolution{}, f.failWith
	}
	return opf.NewSolution(opf.AcOpf), nil
}

func TestSelectSolverPrefersRequestedWhenInstalled(t *testing.T) {
	reg := &fakeRegistry{installed: map[string]bool{"gat-ipopt": true}}
	d := New(DefaultConfig(), reg)
	id, err := d.selectSolver(SolverRequest{Class: AcOpfClass, RequestedSolver: "gat-ipopt"})
	require.NoError(t, err)
	require.Equal(t, "gat-ipopt", id)
}

func TestSelectSolverRejectsUninstalledRequest(t *testing.T) {
	reg := &fakeRegistry{installed: map[string]bool{}}
	d := New(DefaultConfig(), reg)
	_, err := d.selectSolver(SolverRequest{Class: AcOpfClass, RequestedSolver: "gat-ipopt"})
	require.Error(t, err)
}

func TestSelectSolverFallsBackToBuiltinWhenNoPluginInstalled(t *testing.T) {
	d := New(DefaultConfig(), &fakeRegistry{})
	id, err := d.selectSolver(SolverRequest{Class: AcOpfClass})
	require.NoError(t, err)
	require.Equal(t, "ac_opf_penalty_lbfgs", id)
}

// Boundary behavior 16: turning off native_enabled yields the same
// solver selection as requesting the built-in directly.
func TestNativeDisabledMatchesDirectBuiltinRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NativeEnabled = false
	d := New(cfg, &fakeRegistry{installed: map[string]bool{"gat-ipopt": true}})
	id, err := d.selectSolver(SolverRequest{Class: AcOpfClass})
	require.NoError(t, err)
	require.Equal(t, "ac_opf_penalty_lbfgs", id)
}

// Scenario E: ac_opf's configured default solver is installed but every
// invocation fails; on_failure=fallback must retry on the configured fallback and
// mark FallbackApplied with method_used still AcOpf.
func TestScenarioEPluginFallback(t *testing.T) {
	net := scenarioA(t)
	reg := &fakeRegistry{
		installed: map[string]bool{"gat-ipopt": true},
		failWith:  nil,
	}
	reg.failWith = &pluginFailure{}

	cfg := DefaultConfig()
	cfg.DefaultSolver = map[ProblemClass]string{AcOpfClass: "gat-ipopt"}
	cfg.FallbackSolver = "ac_opf_penalty_lbfgs"
	cfg.OnFailure = OnFailureFallback

	d := New(cfg, reg)
	sol, err := d.Solve(net, SolverRequest{Class: AcOpfClass}, opf.DefaultBaseOptions())
	require.NoError(t, err)
	require.Equal(t, opf.AcOpf, sol.Method)
	require.True(t, sol.Provenance.FallbackApplied)
	require.Equal(t, "ac_opf_penalty_lbfgs", sol.Provenance.SolverUsed)
	require.Equal(t, []string{"gat-ipopt"}, reg.invoked)
}

func TestComputeGateRejectsOversizedEstimate(t *testing.T) {
	net := scenarioA(t)
	cfg := DefaultConfig()
	cfg.MaxEstimatedMinutes = 0
	cfg.MaxEstimatedMemoryGB = 0
	d := New(cfg, &fakeRegistry{})
	_, err := d.Solve(net, SolverRequest{Class: AcOpfClass}, opf.DefaultBaseOptions())
	require.Error(t, err)
}

func TestComputeGateOverrideBypassesEstimate(t *testing.T) {
	net := scenarioA(t)
	cfg := DefaultConfig()
	cfg.MaxEstimatedMinutes = 0
	cfg.MaxEstimatedMemoryGB = 0
	cfg.OverrideComputeGate = true
	d := New(cfg, &fakeRegistry{})
	sol, err := d.Solve(net, SolverRequest{Class: AcOpfClass}, opf.DefaultBaseOptions())
	require.NoError(t, err)
	require.True(t, sol.Converged)
}

// pluginFailure is a minimal error standing in for a plugin-reported
// failure; dispatch only needs it to be non-nil to trigger the fallback
// path.
type pluginFailure struct{}

func (*pluginFailure) Error() string { return "plugin solve failed" }

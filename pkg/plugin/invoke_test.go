package plugin

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/monistowl/gat/internal/fixture"
	"github.com/monistowl/gat/pkg/opferr"
)

const invokeScenarioASrc = `
basemva 100
bus bus1 kv=230 vmin=0.9 vmax=1.1 slack
bus bus2 kv=230 vmin=0.9 vmax=1.1
branch bus1 bus2 r=0.01 x=0.1
gen gen1 bus=bus1 pmin=0 pmax=100 qmin=-50 qmax=50 cost=0,10
load load1 bus=bus2 p=50MW q=5MVAr
`

// fakePlugin writes a precomputed response to a file and installs a tiny
// shell script that `cat`s it to stdout regardless of what the dispatcher
// sends on stdin, standing in for a real native-solver binary.
func fakePlugin(t *testing.T, resp Response) string {
	t.Helper()
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, EncodeResponse(&buf, resp))
	fixturePath := filepath.Join(dir, "response.bin")
	require.NoError(t, os.WriteFile(fixturePath, buf.Bytes(), 0o644))

	scriptPath := filepath.Join(dir, "gat-fake-solver")
	script := fmt.Sprintf("#!/bin/sh\ncat %q\n", fixturePath)
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))
	return scriptPath
}

func TestCancelTokenClosesDoneChannel(t *testing.T) {
	tok := NewCancelToken()
	select {
	case <-tok.Done():
		t.Fatal("token should not start cancelled")
	default:
	}

	tok.Cancel()
	select {
	case <-tok.Done():
	default:
		t.Fatal("Done channel should be closed after Cancel")
	}
}

func TestCancelTokenCancelIsIdempotent(t *testing.T) {
	tok := NewCancelToken()
	require.NotPanics(t, func() {
		tok.Cancel()
		tok.Cancel()
	})
}

func TestInvokeRejectsUnregisteredSolver(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = r.Invoke(nil, "ac_opf", "gat-ipopt", InvokeOptions{})
	require.Error(t, err)
}

// Scenario F: a plugin whose protocol_version differs from the
// dispatcher's yields ProtocolMismatch before any solve output is
// trusted, and the returned solution carries nothing from the response.
func TestScenarioFProtocolMismatch(t *testing.T) {
	net, err := fixture.Build("scenario-f", invokeScenarioASrc)
	require.NoError(t, err)

	resp := Response{
		ProtocolVersion: 999,
		Status:          "optimal",
		Objective:       12345,
		BusID:           []int32{1, 2},
		BusVMag:         []float64{1.0, 1.0},
		BusVAng:         []float64{0, 0},
		BusLMP:          []float64{10, 10},
		GenID:           []int32{1},
		GenP:            []float64{50},
		GenQ:            []float64{5},
	}
	binaryPath := fakePlugin(t, resp)

	r, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Install("gat-fake-solver", "1.0.0", binaryPath, false))
	require.NoError(t, r.AcceptRisk("gat-fake-solver"))

	sol, err := r.Invoke(net, "ac_opf", "gat-fake-solver", InvokeOptions{
		BaseMVA: 100, Tolerance: 1e-6, MaxIterations: 50, Timeout: 5 * time.Second,
	})
	require.Error(t, err)

	opfErr, ok := opferr.As(err, opferr.KindProtocolMismatch)
	require.True(t, ok)
	require.Equal(t, 999, opfErr.ReceivedVersion)
	require.Zero(t, sol.Objective)
}

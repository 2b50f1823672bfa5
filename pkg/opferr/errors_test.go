package opferr

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsFindsMatchingKind(t *testing.T) {
	err := SolverTimeout(5 * time.Second)
	found, ok := As(err, KindSolverTimeout)
	require.True(t, ok)
	require.Equal(t, 5*time.Second, found.Timeout)
}

func TestAsUnwrapsWrappedError(t *testing.T) {
	inner := DataValidation("bad bus %d", 3)
	wrapped := fmt.Errorf("loading network: %w", inner)
	found, ok := As(wrapped, KindDataValidation)
	require.True(t, ok)
	require.Equal(t, inner, found)
}

func TestAsReportsWrongKind(t *testing.T) {
	err := Infeasible("no feasible dispatch")
	_, ok := As(err, KindUnbounded)
	require.False(t, ok)
}

func TestErrorStringIncludesKindAndMessage(t *testing.T) {
	err := NativeCrash("gat-ipopt", 139, "/var/log/gat-ipopt-1.log")
	require.Contains(t, err.Error(), "NativeCrash")
	require.Contains(t, err.Error(), "gat-ipopt")
}

func TestIsCancelledDistinguishesFromOrdinaryNumericalIssue(t *testing.T) {
	require.True(t, IsCancelled(Cancelled()))
	require.False(t, IsCancelled(NumericalIssue("solver diverged")))
	require.False(t, IsCancelled(nil))
}

func TestConvergenceFailureCarriesIterationsAndResidual(t *testing.T) {
	err := ConvergenceFailure(12, 0.003)
	require.Equal(t, 12, err.Iterations)
	require.InDelta(t, 0.003, err.Residual, 1e-12)
	require.Equal(t, KindConvergenceFailure, err.Kind)
}

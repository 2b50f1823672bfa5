package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstallRequiresRiskAcceptanceBeforeUse(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, r.Install("gat-ipopt", "1.0.0", "/usr/local/bin/gat-ipopt", false))
	require.False(t, r.IsInstalled("gat-ipopt"))

	require.NoError(t, r.AcceptRisk("gat-ipopt"))
	require.True(t, r.IsInstalled("gat-ipopt"))
}

func TestAcceptRiskOnUnknownSolverFails(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	require.Error(t, r.AcceptRisk("does-not-exist"))
}

func TestListReturnsAllInstalled(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Install("gat-ipopt", "1.0.0", "/bin/gat-ipopt", false))
	require.NoError(t, r.Install("gat-highs", "2.0.0", "/bin/gat-highs", false))

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestUninstallRemovesEntry(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Install("gat-ipopt", "1.0.0", "/bin/gat-ipopt", false))
	require.NoError(t, r.AcceptRisk("gat-ipopt"))

	require.NoError(t, r.Uninstall("gat-ipopt"))
	require.False(t, r.IsInstalled("gat-ipopt"))
}

func TestUpdateResetsRiskAcceptance(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Install("gat-ipopt", "1.0.0", "/bin/gat-ipopt", false))
	require.NoError(t, r.AcceptRisk("gat-ipopt"))
	require.True(t, r.IsInstalled("gat-ipopt"))

	require.NoError(t, r.Update("gat-ipopt", "1.1.0", "/bin/gat-ipopt"))
	require.False(t, r.IsInstalled("gat-ipopt"), "a new binary is a new trust decision")
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	r1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, r1.Install("gat-highs", "1.0.0", "/bin/gat-highs", false))
	require.NoError(t, r1.AcceptRisk("gat-highs"))

	r2, err := Open(dir)
	require.NoError(t, err)
	require.True(t, r2.IsInstalled("gat-highs"))
}

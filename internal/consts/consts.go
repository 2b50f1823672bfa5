// Package consts collects the numeric defaults shared across formulators
// and the dispatcher so they don't drift between packages.
package consts

import "math"

const (
	// DefaultBaseMVA is the default per-unit normalization constant.
	// network.New and opf.DefaultBaseOptions set the same value directly.
	DefaultBaseMVA = 100.0

	// DefaultTolerance is the default convergence tolerance (per-unit).
	// opf.DefaultBaseOptions sets the same value directly; the penalty
	// loops and DC-OPF's loss-reinjection loop read BaseOptions.Tolerance.
	DefaultTolerance = 1e-6

	// DefaultMaxIterations is the default iteration bound.
	// opf.DefaultBaseOptions sets the same value directly.
	DefaultMaxIterations = 100

	// AngleBound is the bus-angle conditioning bound, +/- pi/2. The
	// built-in DC-OPF does not enforce it.
	AngleBound = math.Pi / 2

	// LossEstimateDelta is a fixed 1% loss estimate; pkg/opf/economic
	// declares its own constant with the same value.
	LossEstimateDelta = 0.01

	// PenaltyInitialWeight and PenaltyGrowthFactor drive the AC-NLP
	// penalty-method fallback's geometric weight schedule.
	PenaltyInitialWeight = 10.0
	PenaltyGrowthFactor  = 8.0
	PenaltyMaxOuterIters = 12

	// PluginProtocolVersion is the dispatcher's wire-format version; any
	// change to column names or meanings increments it.
	PluginProtocolVersion = 1

	// PluginRootEnvVar is the one environment variable the core reads
	// directly, overriding the per-user plugin directory.
	PluginRootEnvVar = "GAT_PLUGIN_ROOT"

	// PluginGracePeriod bounds how long the dispatcher waits after a
	// graceful termination signal before forcefully killing a plugin.
	PluginGracePeriod = 5
)

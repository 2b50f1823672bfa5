// Package network is the immutable input data model: buses,
// branches, generators, loads, and cost curves, owned exclusively by a
// Network and borrowed immutably by every formulator. Entities reference
// each other by opaque index ids rather than by pointer, which breaks the
// cycles inherent in a graph whose vertices and edges both carry data
// — the same id-indirection the teacher
// uses for node/branch indices in pkg/circuit.
package network

// BusId, BranchId, GenId, and LoadId are 1-based indices assigned in
// creation order, mirroring the teacher's nodeMap/branchMap index
// assignment in pkg/circuit/circuit.go.AssignNodeBranchMaps.
type (
	BusId   int
	BranchId int
	GenId   int
	LoadId  int
)

// Bus is a network vertex. VMin/VMax are per-unit voltage
// bounds; PLoad/QLoad are populated by Network.Validate aggregating all
// Loads hosted at this bus.
type Bus struct {
	ID      BusId
	Name    string
	BaseKV  float64
	VMin    float64
	VMax    float64
	PLoad   float64 // MW, aggregated
	QLoad   float64 // MVAr, aggregated
	IsSlack bool
}

// Branch is a network edge between two buses. Rate is the
// thermal limit in MVA; nil means unlimited.
type Branch struct {
	ID             BranchId
	From           BusId
	To             BusId
	R              float64 // per-unit series resistance
	X              float64 // per-unit series reactance
	B              float64 // per-unit shunt charging susceptance
	Tap            float64 // tap ratio, 1.0 for lines
	Shift          float64 // phase-shift angle, radians
	Rate           *float64 // MVA thermal limit, nil = unlimited
	InService      bool
	IsPhaseShifter bool
}

// EffectiveTap returns the branch's tap ratio, treating any tap <= 0 as 1
// (a tap <= 0 is treated as an untapped line).
func (b Branch) EffectiveTap() float64 {
	if b.Tap <= 0 {
		return 1.0
	}
	return b.Tap
}

// Generator is a dispatchable source hosted at a bus.
type Generator struct {
	ID                  GenId
	Bus                 BusId
	Name                string
	PMin, PMax          float64 // MW
	QMin, QMax          float64 // MVAr
	Cost                CostModel
	IsSynchronousCondenser bool
}

// Load is additive demand hosted at a bus; after
// Network.Validate aggregates loads onto their host bus, individual Load
// entities are not referenced by any formulator.
type Load struct {
	ID   LoadId
	Bus  BusId
	Name string
	PMW  float64
	QMVAr float64
}

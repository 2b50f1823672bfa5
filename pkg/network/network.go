package network

import (
	"fmt"

	"github.com/monistowl/gat/pkg/opferr"
)

// Network owns every Bus, Branch, Generator, and Load; formulators borrow
// it immutably. It is built via the programmatic
// builder methods below, then checked by Validate — mirroring the
// teacher's two-phase circuit.New / AssignNodeBranchMaps+SetupDevices
// lifecycle (construct, then stamp once into a fixed-size matrix).
type Network struct {
	name    string
	baseMVA float64

	buses      []Bus
	branches   []Branch
	generators []Generator
	loads      []Load

	validated bool
}

// New creates an empty, mutable Network. BaseMVA defaults to 100 (set
// explicitly via SetBaseMVA before Validate if a dataset needs another
// value).
func New(name string) *Network {
	return &Network{name: name, baseMVA: 100.0}
}

func (n *Network) SetBaseMVA(v float64) { n.baseMVA = v }
func (n *Network) BaseMVA() float64     { return n.baseMVA }
func (n *Network) Name() string         { return n.name }

// AddBus appends a new Bus and returns its BusId. IDs are assigned in
// creation order starting at 1, matching the teacher's nodeMap indexing
// so a BusId can be used directly as a 1-based matrix row/column.
func (n *Network) AddBus(name string, baseKV, vMin, vMax float64, isSlack bool) BusId {
	id := BusId(len(n.buses) + 1)
	n.buses = append(n.buses, Bus{
		ID: id, Name: name, BaseKV: baseKV, VMin: vMin, VMax: vMax, IsSlack: isSlack,
	})
	return id
}

// AddBranch appends a new in-service Branch between two existing buses.
func (n *Network) AddBranch(from, to BusId, r, x, b, tap, shift float64, rate *float64, isPhaseShifter bool) BranchId {
	id := BranchId(len(n.branches) + 1)
	n.branches = append(n.branches, Branch{
		ID: id, From: from, To: to, R: r, X: x, B: b, Tap: tap, Shift: shift,
		Rate: rate, InService: true, IsPhaseShifter: isPhaseShifter,
	})
	return id
}

// AddGenerator appends a new Generator hosted at bus.
func (n *Network) AddGenerator(bus BusId, name string, pMin, pMax, qMin, qMax float64, cost CostModel, isSyncCondenser bool) GenId {
	if cost == nil {
		cost = NoCost{}
	}
	id := GenId(len(n.generators) + 1)
	n.generators = append(n.generators, Generator{
		ID: id, Bus: bus, Name: name, PMin: pMin, PMax: pMax, QMin: qMin, QMax: qMax,
		Cost: cost, IsSynchronousCondenser: isSyncCondenser,
	})
	return id
}

// AddLoad appends a new Load hosted at bus; Validate aggregates it onto
// the bus's PLoad/QLoad.
func (n *Network) AddLoad(bus BusId, name string, pMW, qMVAr float64) LoadId {
	id := LoadId(len(n.loads) + 1)
	n.loads = append(n.loads, Load{ID: id, Bus: bus, Name: name, PMW: pMW, QMVAr: qMVAr})
	return id
}

// SetBranchInService toggles a branch's in-service flag prior to Validate.
func (n *Network) SetBranchInService(id BranchId, inService bool) {
	if i := n.branchIdx(id); i >= 0 {
		n.branches[i].InService = inService
	}
}

func (n *Network) busIdx(id BusId) int {
	i := int(id) - 1
	if i < 0 || i >= len(n.buses) {
		return -1
	}
	return i
}

func (n *Network) branchIdx(id BranchId) int {
	i := int(id) - 1
	if i < 0 || i >= len(n.branches) {
		return -1
	}
	return i
}

func (n *Network) genIdx(id GenId) int {
	i := int(id) - 1
	if i < 0 || i >= len(n.generators) {
		return -1
	}
	return i
}

// Validate aggregates loads onto their host buses, checks every
// invariant, verifies exactly one slack bus per
// connected component. It must be called before any solve. It does not
// lock the Network: the Add methods still work afterwards, and calling
// Validate again recomputes the load aggregates from scratch.
func (n *Network) Validate() error {
	if len(n.buses) == 0 {
		return opferr.DataValidation("network %q has no buses", n.name)
	}

	for i := range n.buses {
		n.buses[i].PLoad, n.buses[i].QLoad = 0, 0
	}
	for _, l := range n.loads {
		i := n.busIdx(l.Bus)
		if i < 0 {
			return opferr.DataValidation("load %q references unknown bus %d", l.Name, l.Bus)
		}
		n.buses[i].PLoad += l.PMW
		n.buses[i].QLoad += l.QMVAr
	}

	for _, b := range n.buses {
		if !(b.VMin > 0 && b.VMin < b.VMax) {
			return opferr.DataValidation("bus %q: invalid voltage bounds [%g, %g]", b.Name, b.VMin, b.VMax)
		}
	}

	for _, br := range n.branches {
		if !br.InService {
			continue
		}
		if n.busIdx(br.From) < 0 || n.busIdx(br.To) < 0 {
			return opferr.DataValidation("branch %d references unknown bus", br.ID)
		}
		if br.R == 0 && br.X == 0 {
			return opferr.DataValidation("branch %d has zero impedance", br.ID)
		}
		if !br.IsPhaseShifter {
			if br.R < 0 {
				return opferr.DataValidation("branch %d: negative resistance without phase-shifter flag", br.ID)
			}
			if br.X <= 0 {
				return opferr.DataValidation("branch %d: non-positive reactance without phase-shifter flag", br.ID)
			}
		}
	}

	for _, g := range n.generators {
		if n.busIdx(g.Bus) < 0 {
			return opferr.DataValidation("generator %q references unknown bus %d", g.Name, g.Bus)
		}
		if g.PMin > g.PMax {
			return opferr.DataValidation("generator %q: PMin > PMax", g.Name)
		}
		if g.QMin > g.QMax {
			return opferr.DataValidation("generator %q: QMin > QMax", g.Name)
		}
		if !g.IsSynchronousCondenser && g.PMax <= 0 {
			return opferr.DataValidation("generator %q: non-positive PMax without synchronous-condenser flag", g.Name)
		}
	}

	if err := n.validateSlackPerComponent(); err != nil {
		return err
	}

	n.validated = true
	return nil
}

func (n *Network) validateSlackPerComponent() error {
	components, err := n.ConnectedComponents()
	if err != nil {
		return opferr.DataValidation("computing connected components: %v", err)
	}
	for _, comp := range components {
		slackCount := 0
		for _, id := range comp {
			if n.buses[n.busIdx(id)].IsSlack {
				slackCount++
			}
		}
		if slackCount != 1 {
			return opferr.DataValidation(
				"connected component of %d bus(es) has %d slack buses, want exactly 1",
				len(comp), slackCount,
			)
		}
	}
	return nil
}

// Buses returns a read-only snapshot of all buses in creation order.
func (n *Network) Buses() []Bus { return append([]Bus(nil), n.buses...) }

// Branches returns a read-only snapshot of all branches in creation order.
func (n *Network) Branches() []Branch { return append([]Branch(nil), n.branches...) }

// Generators returns a read-only snapshot of all generators in creation order.
func (n *Network) Generators() []Generator { return append([]Generator(nil), n.generators...) }

// Loads returns a read-only snapshot of all loads in creation order.
func (n *Network) Loads() []Load { return append([]Load(nil), n.loads...) }

func (n *Network) Bus(id BusId) (Bus, bool) {
	i := n.busIdx(id)
	if i < 0 {
		return Bus{}, false
	}
	return n.buses[i], true
}

func (n *Network) Branch(id BranchId) (Branch, bool) {
	i := n.branchIdx(id)
	if i < 0 {
		return Branch{}, false
	}
	return n.branches[i], true
}

func (n *Network) Generator(id GenId) (Generator, bool) {
	i := n.genIdx(id)
	if i < 0 {
		return Generator{}, false
	}
	return n.generators[i], true
}

// NumBuses, NumBranches, NumGenerators size the formulators' variable
// layouts.
func (n *Network) NumBuses() int      { return len(n.buses) }
func (n *Network) NumBranches() int   { return len(n.branches) }
func (n *Network) NumGenerators() int { return len(n.generators) }

// SlackBus returns the (first) bus flagged as slack.
func (n *Network) SlackBus() (Bus, bool) {
	for _, b := range n.buses {
		if b.IsSlack {
			return b, true
		}
	}
	return Bus{}, false
}

// TotalLoadMW sums PLoad across all buses.
func (n *Network) TotalLoadMW() float64 {
	total := 0.0
	for _, b := range n.buses {
		total += b.PLoad
	}
	return total
}

func (n *Network) String() string {
	return fmt.Sprintf("Network(%s: %d buses, %d branches, %d generators, %d loads)",
		n.name, len(n.buses), len(n.branches), len(n.generators), len(n.loads))
}

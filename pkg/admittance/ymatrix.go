// Package admittance builds the sparse nodal admittance matrix Y used by
// AC-OPF; SOCP uses only SeriesAdmittance, and DC-OPF builds its own B'
// matrix without this package. It is adapted from the
// teacher's pkg/matrix/circuit.go stamping pattern, generalized from
// per-device conductance stamps to the branch-pi-model stamp used
// directly here.
package admittance

import (
	"math"
	"sort"

	"github.com/monistowl/gat/pkg/network"
	"github.com/monistowl/gat/pkg/opferr"
)

// YMatrix is the complex n x n bus admittance matrix, stored as a
// dense-free coordinate structure (diagonal plus an off-diagonal map)
// since power networks are sparse with bandwidth ~ average node degree
//. Buses with no incident branches are retained with a zero
// row/column.
type YMatrix struct {
	n    int
	diag []complex128          // diag[i-1] is Y[i,i]
	off  map[[2]int]complex128 // off[[i,j]] is Y[i,j], i != j
	adj  map[int][]int         // adjacency list, sorted, 1-based bus indices
}

// Size returns n, the number of buses.
func (y *YMatrix) Size() int { return y.n }

// Get returns Y[i,j] for 1-based bus indices i, j.
func (y *YMatrix) Get(i, j int) complex128 {
	if i == j {
		if i < 1 || i > y.n {
			return 0
		}
		return y.diag[i-1]
	}
	return y.off[[2]int{i, j}]
}

// AdjacentBuses returns the sorted, 1-based indices of buses with a
// nonzero off-diagonal Y entry with bus i — the neighborhood the AC-NLP
// Jacobian sums over.
func (y *YMatrix) AdjacentBuses(i int) []int {
	return y.adj[i]
}

// SeriesAdmittance returns g+jb = 1/(r+jx) for a branch's series
// impedance, used directly by SOCP and AC-NLP's per-branch flow
// equations without going back through the assembled Y.
func SeriesAdmittance(r, x float64) complex128 {
	return 1 / complex(r, x)
}

// Build constructs Y from a validated Network following the stamping
// algorithm: for every in-service branch between bus
// indices i (from) and j (to) with series admittance y, tap tau, phase
// shift phi, and half-charging susceptance b/2:
//
//	Y[i,i] += y/tau^2 + j*b/2
//	Y[j,j] += y + j*b/2
//	Y[i,j] += -y*e^{+j*phi}/tau
//	Y[j,i] += -y*e^{-j*phi}/tau
func Build(net *network.Network) (*YMatrix, error) {
	n := net.NumBuses()
	if n == 0 {
		return nil, opferr.DataValidation("cannot build Y-matrix: network has no buses")
	}

	y := &YMatrix{
		n:    n,
		diag: make([]complex128, n),
		off:  make(map[[2]int]complex128),
		adj:  make(map[int][]int),
	}

	for _, br := range net.Branches() {
		if !br.InService {
			continue
		}
		if br.R == 0 && br.X == 0 {
			return nil, opferr.DataValidation("branch %d has zero impedance", br.ID)
		}

		i, j := int(br.From), int(br.To)
		if i < 1 || i > n || j < 1 || j > n {
			return nil, opferr.DataValidation("branch %d references unknown bus", br.ID)
		}

		series := SeriesAdmittance(br.R, br.X)
		tap := br.EffectiveTap()
		halfCharge := complex(0, br.B/2)
		phase := complex(math.Cos(br.Shift), math.Sin(br.Shift))

		y.diag[i-1] += series/complex(tap*tap, 0) + halfCharge
		y.diag[j-1] += series + halfCharge

		y.addOff(i, j, -series*phase/complex(tap, 0))
		y.addOff(j, i, -series*complexConj(phase)/complex(tap, 0))
	}

	for i := range y.adj {
		sort.Ints(y.adj[i])
	}

	return y, nil
}

func complexConj(c complex128) complex128 { return complex(real(c), -imag(c)) }

func (y *YMatrix) addOff(i, j int, value complex128) {
	key := [2]int{i, j}
	if _, exists := y.off[key]; !exists {
		y.adj[i] = append(y.adj[i], j)
	}
	y.off[key] += value
}

package linalg

import (
	"errors"
	"fmt"
	"math"

	"github.com/james-bowman/sparse"

	"github.com/cannsudemir/ats/comm"
)

// ErrPattern is returned when a value is summed into an entry outside of the
// frozen graph.
var ErrPattern = errors.New("entry outside of the matrix graph")

// FEMatrix is a finite element style distributed matrix: values are summed in
// by global indices from any rank holding the row, and GlobalAssemble adds
// the off-rank contributions into the owners.
type FEMatrix struct {
	graph  *Graph
	values []float64
	remote map[int][]comm.Packet

	xg []float64 // Ghosted scratch for Multiply
}

func NewFEMatrix(g *Graph) *FEMatrix {
	if !g.frozen {
		panic("linalg.NewFEMatrix: graph must be assembled first")
	}
	return &FEMatrix{
		graph:  g,
		values: make([]float64, len(g.ind)),
		remote: make(map[int][]comm.Packet),
		xg:     make([]float64, len(g.rowMap.GIDs)),
	}
}

func (A *FEMatrix) Graph() *Graph { return A.graph }
func (A *FEMatrix) NumRows() int  { return A.graph.rowMap.NumOwned }

// PutScalar sets every stored entry to v and drops pending off-rank sums.
func (A *FEMatrix) PutScalar(v float64) {
	for i := range A.values {
		A.values[i] = v
	}
	for r := range A.remote {
		A.remote[r] = A.remote[r][:0]
	}
}

// SumIntoGlobalValues adds the row-major square block to the entries
// (gids[i], gids[j]).
func (A *FEMatrix) SumIntoGlobalValues(gids []int, block []float64) (err error) {
	var (
		n  = len(gids)
		rm = A.graph.rowMap
	)
	if len(block) != n*n {
		return fmt.Errorf("FEMatrix.SumIntoGlobalValues: %d values for a %dx%d block", len(block), n, n)
	}
	for i, rgid := range gids {
		lid := rm.LID(rgid)
		if lid < 0 {
			return fmt.Errorf("FEMatrix.SumIntoGlobalValues: row %d: %w", rgid, ErrPattern)
		}
		if lid >= rm.NumOwned {
			owner := rm.Owner(lid)
			for j, cgid := range gids {
				A.remote[owner] = append(A.remote[owner], comm.Packet{Row: rgid, Col: cgid, Value: block[i*n+j]})
			}
			continue
		}
		for j, cgid := range gids {
			if err = A.sumLocal(lid, cgid, block[i*n+j]); err != nil {
				return fmt.Errorf("FEMatrix.SumIntoGlobalValues: %w", err)
			}
		}
	}
	return
}

func (A *FEMatrix) sumLocal(lid, cgid int, v float64) error {
	clid := A.graph.rowMap.LID(cgid)
	k := -1
	if clid >= 0 {
		k = A.graph.position(lid, clid)
	}
	if k < 0 {
		return fmt.Errorf("(%d, %d): %w", A.graph.rowMap.GIDs[lid], cgid, ErrPattern)
	}
	A.values[k] += v
	return nil
}

// GlobalAssemble sums the buffered off-rank contributions into their owners.
// It is a collective.
func (A *FEMatrix) GlobalAssemble() (err error) {
	var in []comm.Packet
	if in, _, err = A.graph.comm.Exchange(A.remote); err != nil {
		return fmt.Errorf("FEMatrix.GlobalAssemble: %w", err)
	}
	for r := range A.remote {
		A.remote[r] = A.remote[r][:0]
	}
	rm := A.graph.rowMap
	for _, p := range in {
		lid := rm.LID(p.Row)
		if lid < 0 || lid >= rm.NumOwned {
			return fmt.Errorf("FEMatrix.GlobalAssemble: row %d: %w", p.Row, ErrPattern)
		}
		if err = A.sumLocal(lid, p.Col, p.Value); err != nil {
			return fmt.Errorf("FEMatrix.GlobalAssemble: %w", err)
		}
	}
	return
}

// Multiply computes y = A x over owned rows. x holds owned values; ghost
// values are imported from their owners. It is a collective.
func (A *FEMatrix) Multiply(x, y []float64) (err error) {
	var (
		g      = A.graph
		nOwned = g.rowMap.NumOwned
	)
	if len(x) < nOwned || len(y) < nOwned {
		return fmt.Errorf("FEMatrix.Multiply: vectors shorter than %d rows", nOwned)
	}
	copy(A.xg, x[:nOwned])
	if err = g.rowMap.Import(g.comm, A.xg); err != nil {
		return fmt.Errorf("FEMatrix.Multiply: %w", err)
	}
	for i := 0; i < nOwned; i++ {
		var sum float64
		for k := g.indptr[i]; k < g.indptr[i+1]; k++ {
			sum += A.values[k] * A.xg[g.ind[k]]
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return fmt.Errorf("FEMatrix.Multiply: non-finite result in row %d", g.rowMap.GIDs[i])
		}
		y[i] = sum
	}
	return
}

// Values exposes the stored entries in graph order.
func (A *FEMatrix) Values() []float64 { return A.values }

// Row returns the global column indices and values of owned row i.
func (A *FEMatrix) Row(i int) (cols []int, vals []float64) {
	g := A.graph
	for k := g.indptr[i]; k < g.indptr[i+1]; k++ {
		cols = append(cols, g.rowMap.GIDs[g.ind[k]])
		vals = append(vals, A.values[k])
	}
	return
}

// At returns entry (rowGID, colGID) of an owned row, zero if not stored.
func (A *FEMatrix) At(rowGID, colGID int) float64 {
	var (
		rm   = A.graph.rowMap
		i, j = rm.LID(rowGID), rm.LID(colGID)
	)
	if i < 0 || i >= rm.NumOwned || j < 0 {
		return 0
	}
	if k := A.graph.position(i, j); k >= 0 {
		return A.values[k]
	}
	return 0
}

// LocalBlock returns the owned-row, owned-column block as a CSR matrix.
// Couplings to ghost columns are dropped.
func (A *FEMatrix) LocalBlock() *sparse.CSR {
	var (
		g      = A.graph
		nOwned = g.rowMap.NumOwned
		ia     = make([]int, nOwned+1)
		ja     = make([]int, 0, len(g.ind))
		data   = make([]float64, 0, len(g.ind))
	)
	for i := 0; i < nOwned; i++ {
		for k := g.indptr[i]; k < g.indptr[i+1]; k++ {
			if g.ind[k] < nOwned {
				ja = append(ja, g.ind[k])
				data = append(data, A.values[k])
			}
		}
		ia[i+1] = len(ja)
	}
	return sparse.NewCSR(nOwned, nOwned, ia, ja, data)
}

package linalg

import (
	"fmt"
	"sort"

	"github.com/cannsudemir/ats/comm"
)

// Graph is the sparsity pattern of a square matrix over a Map. Columns are
// stored as local indices into the Map, so every column of an owned row must
// be present (owned or ghost) on the owning rank.
type Graph struct {
	rowMap *Map
	comm   *comm.Comm

	pending map[int]map[int]struct{} // Owned row -> global columns, before assembly
	remote  map[int][]comm.Packet    // Off-rank insertions by owner
	frozen  bool

	indptr []int
	ind    []int // Sorted local column indices per row
}

func NewGraph(rowMap *Map, c *comm.Comm) *Graph {
	return &Graph{
		rowMap:  rowMap,
		comm:    c,
		pending: make(map[int]map[int]struct{}),
		remote:  make(map[int][]comm.Packet),
	}
}

func (g *Graph) Map() *Map          { return g.rowMap }
func (g *Graph) NumRows() int       { return g.rowMap.NumOwned }
func (g *Graph) NumNonzeros() int   { return len(g.ind) }
func (g *Graph) IsFrozen() bool     { return g.frozen }
func (g *Graph) Comm() *comm.Comm   { return g.comm }
func (g *Graph) RowPtr() []int      { return g.indptr }
func (g *Graph) ColumnIndex() []int { return g.ind }

// InsertGlobalIndices adds the dense pattern rows x cols. Rows may belong to
// another rank as long as they are present locally; those entries are shipped
// to the owner by GlobalAssemble.
func (g *Graph) InsertGlobalIndices(rows, cols []int) error {
	if g.frozen {
		return fmt.Errorf("Graph.InsertGlobalIndices: pattern is frozen")
	}
	for _, rgid := range rows {
		lid := g.rowMap.LID(rgid)
		if lid < 0 {
			return fmt.Errorf("Graph.InsertGlobalIndices: row %d is not present on rank %d", rgid, g.comm.Rank())
		}
		if lid < g.rowMap.NumOwned {
			g.insertOwned(lid, cols...)
			continue
		}
		owner := g.rowMap.Owner(lid)
		for _, cgid := range cols {
			g.remote[owner] = append(g.remote[owner], comm.Packet{Row: rgid, Col: cgid})
		}
	}
	return nil
}

func (g *Graph) insertOwned(lid int, cols ...int) {
	row, ok := g.pending[lid]
	if !ok {
		row = make(map[int]struct{})
		g.pending[lid] = row
	}
	for _, c := range cols {
		row[c] = struct{}{}
	}
}

// GlobalAssemble ships off-rank insertions to their owners and freezes the
// pattern. It is a collective.
func (g *Graph) GlobalAssemble() (err error) {
	if g.frozen {
		return fmt.Errorf("Graph.GlobalAssemble: pattern is already frozen")
	}
	var in []comm.Packet
	if in, _, err = g.comm.Exchange(g.remote); err != nil {
		return fmt.Errorf("Graph.GlobalAssemble: %w", err)
	}
	g.remote = nil
	for _, p := range in {
		lid := g.rowMap.LID(p.Row)
		if lid < 0 || lid >= g.rowMap.NumOwned {
			return fmt.Errorf("Graph.GlobalAssemble: received row %d not owned by rank %d", p.Row, g.comm.Rank())
		}
		g.insertOwned(lid, p.Col)
	}

	nrows := g.rowMap.NumOwned
	g.indptr = make([]int, nrows+1)
	for i := 0; i < nrows; i++ {
		cols := make([]int, 0, len(g.pending[i]))
		for cgid := range g.pending[i] {
			clid := g.rowMap.LID(cgid)
			if clid < 0 {
				return fmt.Errorf("Graph.GlobalAssemble: column %d of row %d is not present on rank %d",
					cgid, g.rowMap.GIDs[i], g.comm.Rank())
			}
			cols = append(cols, clid)
		}
		sort.Ints(cols)
		g.ind = append(g.ind, cols...)
		g.indptr[i+1] = len(g.ind)
	}
	g.pending = nil
	g.frozen = true
	return
}

// position returns the storage offset of local entry (i, j), or -1.
func (g *Graph) position(i, j int) int {
	row := g.ind[g.indptr[i]:g.indptr[i+1]]
	k := sort.SearchInts(row, j)
	if k < len(row) && row[k] == j {
		return g.indptr[i] + k
	}
	return -1
}

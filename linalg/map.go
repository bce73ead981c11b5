// Package linalg holds the distributed sparse pattern and matrix over the
// owned cells of a partitioned mesh.
package linalg

import (
	"github.com/cannsudemir/ats/comm"
	"github.com/cannsudemir/ats/mesh"
)

// Map is the row distribution of a matrix: local row i < NumOwned is owned by
// this rank, rows past NumOwned are ghost copies of rows owned elsewhere.
type Map struct {
	NumOwned int
	GIDs     []int

	lid     map[int]int
	owner   []int
	ghosts  []mesh.GhostRef
	exports []mesh.ExportRef
}

// NewCellMap distributes one row per cell.
func NewCellMap(m mesh.Mesh) (rm *Map) {
	var (
		nUsed = m.NumCells(mesh.Used)
	)
	rm = &Map{
		NumOwned: m.NumCells(mesh.Owned),
		GIDs:     make([]int, nUsed),
		lid:      make(map[int]int, nUsed),
		owner:    make([]int, nUsed),
		ghosts:   m.Ghosts(mesh.Cell),
		exports:  m.Exports(mesh.Cell),
	}
	for c := 0; c < nUsed; c++ {
		rm.GIDs[c] = m.CellGID(c)
		rm.lid[rm.GIDs[c]] = c
		rm.owner[c] = m.Rank()
	}
	for _, g := range rm.ghosts {
		rm.owner[g.LID] = g.Owner
	}
	return
}

// LID returns the local index of gid, or -1 when gid is not present.
func (rm *Map) LID(gid int) int {
	if lid, ok := rm.lid[gid]; ok {
		return lid
	}
	return -1
}

// Owner returns the owning rank of local index lid.
func (rm *Map) Owner(lid int) int { return rm.owner[lid] }

// Import fills the ghost entries of x (length len(GIDs)) from their owners.
// It is a collective.
func (rm *Map) Import(c *comm.Comm, x []float64) (err error) {
	out := make(map[int][]comm.Packet)
	for _, e := range rm.exports {
		out[e.Rank] = append(out[e.Rank], comm.Packet{Row: e.RemoteLID, Value: x[e.LID]})
	}
	var in []comm.Packet
	if in, _, err = c.Exchange(out); err != nil {
		return
	}
	for _, p := range in {
		x[p.Row] = p.Value
	}
	return
}

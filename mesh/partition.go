package mesh

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cannsudemir/ats/utils"
)

// Local is one rank's view of a partitioned Global mesh.
type Local struct {
	dim          int
	rank         int
	nGlobalCells int

	cellGID, faceGID         []int
	nOwnedCells, nOwnedFaces int
	cellLID                  map[int]int
	faceLID                  map[int]int

	cellFaces, cellDirs [][]int
	faceCells           [][]int

	cellCentroids []r3.Vec
	cellVolumes   []float64
	faceCentroids []r3.Vec
	faceAreas     []float64
	faceNormals   []r3.Vec

	ghosts  [2][]GhostRef
	exports [2][]ExportRef
}

var _ Mesh = (*Local)(nil)

// Serial returns the single-rank view of g.
func (g *Global) Serial() *Local {
	return PartitionWith(g, make([]int, g.NumCells()))[0]
}

// Partition splits the cells of g into nranks contiguous blocks of global
// ids and returns one Local view per rank.
func Partition(g *Global, nranks int) []*Local {
	var (
		pm       = utils.NewPartitionMap(nranks, g.NumCells())
		cellRank = make([]int, g.NumCells())
	)
	for c := range cellRank {
		cellRank[c], _, _ = pm.GetBucket(c)
	}
	return partition(g, cellRank, nranks)
}

// PartitionWith builds rank-local views from an explicit cell to rank map.
// A face is owned by the rank owning its lowest-numbered cell. Ghost cells
// are the face neighbours of owned cells, ghost faces are every non-owned
// face of an owned or ghost cell.
func PartitionWith(g *Global, cellRank []int) (locals []*Local) {
	var nranks int
	for _, r := range cellRank {
		if r+1 > nranks {
			nranks = r + 1
		}
	}
	return partition(g, cellRank, nranks)
}

func partition(g *Global, cellRank []int, nranks int) (locals []*Local) {
	if len(cellRank) != g.NumCells() {
		panic(fmt.Sprintf("mesh: %d rank assignments for %d cells", len(cellRank), g.NumCells()))
	}
	faceRank := make([]int, g.NumFaces())
	for f, cells := range g.FaceCells {
		minC := cells[0]
		for _, c := range cells {
			if c < minC {
				minC = c
			}
		}
		faceRank[f] = cellRank[minC]
	}

	locals = make([]*Local, nranks)
	for r := 0; r < nranks; r++ {
		var (
			ownedCells, ghostCells []int
			ownedFaces, ghostFaces []int
			isLocalCell            = make(map[int]bool)
			isLocalFace            = make(map[int]bool)
		)
		for c := range cellRank {
			if cellRank[c] == r {
				ownedCells = append(ownedCells, c)
				isLocalCell[c] = true
			}
		}
		for _, c := range ownedCells {
			for _, f := range g.CellFaces[c] {
				for _, nb := range g.FaceCells[f] {
					if !isLocalCell[nb] {
						isLocalCell[nb] = true
						ghostCells = append(ghostCells, nb)
					}
				}
			}
		}
		sort.Ints(ghostCells)
		for _, cells := range [][]int{ownedCells, ghostCells} {
			for _, c := range cells {
				for _, f := range g.CellFaces[c] {
					if isLocalFace[f] {
						continue
					}
					isLocalFace[f] = true
					if faceRank[f] == r {
						ownedFaces = append(ownedFaces, f)
					} else {
						ghostFaces = append(ghostFaces, f)
					}
				}
			}
		}
		sort.Ints(ownedFaces)
		sort.Ints(ghostFaces)
		locals[r] = newLocal(g, r, append(ownedCells, ghostCells...), len(ownedCells),
			append(ownedFaces, ghostFaces...), len(ownedFaces))
	}

	// Halo plans need every rank's numbering.
	for r, lm := range locals {
		for lid := lm.nOwnedCells; lid < len(lm.cellGID); lid++ {
			gid := lm.cellGID[lid]
			owner := cellRank[gid]
			olid := locals[owner].cellLID[gid]
			lm.ghosts[Cell] = append(lm.ghosts[Cell], GhostRef{LID: lid, Owner: owner, OwnerLID: olid})
			locals[owner].exports[Cell] = append(locals[owner].exports[Cell],
				ExportRef{LID: olid, Rank: r, RemoteLID: lid})
		}
		for lid := lm.nOwnedFaces; lid < len(lm.faceGID); lid++ {
			gid := lm.faceGID[lid]
			owner := faceRank[gid]
			olid := locals[owner].faceLID[gid]
			lm.ghosts[Face] = append(lm.ghosts[Face], GhostRef{LID: lid, Owner: owner, OwnerLID: olid})
			locals[owner].exports[Face] = append(locals[owner].exports[Face],
				ExportRef{LID: olid, Rank: r, RemoteLID: lid})
		}
	}
	return
}

func newLocal(g *Global, rank int, cells []int, nOwnedCells int, faces []int, nOwnedFaces int) (lm *Local) {
	lm = &Local{
		dim:           g.Dim,
		rank:          rank,
		nGlobalCells:  g.NumCells(),
		cellGID:       cells,
		faceGID:       faces,
		nOwnedCells:   nOwnedCells,
		nOwnedFaces:   nOwnedFaces,
		cellLID:       make(map[int]int, len(cells)),
		faceLID:       make(map[int]int, len(faces)),
		cellFaces:     make([][]int, len(cells)),
		cellDirs:      make([][]int, len(cells)),
		faceCells:     make([][]int, len(faces)),
		cellCentroids: make([]r3.Vec, len(cells)),
		cellVolumes:   make([]float64, len(cells)),
		faceCentroids: make([]r3.Vec, len(faces)),
		faceAreas:     make([]float64, len(faces)),
		faceNormals:   make([]r3.Vec, len(faces)),
	}
	for lid, gid := range cells {
		lm.cellLID[gid] = lid
	}
	for lid, gid := range faces {
		lm.faceLID[gid] = lid
	}
	for lid, gid := range cells {
		lm.cellFaces[lid] = make([]int, len(g.CellFaces[gid]))
		lm.cellDirs[lid] = append([]int(nil), g.CellDirs[gid]...)
		for n, gf := range g.CellFaces[gid] {
			lm.cellFaces[lid][n] = lm.faceLID[gf]
		}
		lm.cellCentroids[lid] = g.CellCentroids[gid]
		lm.cellVolumes[lid] = g.CellVolumes[gid]
	}
	for lid, gid := range faces {
		for _, gc := range g.FaceCells[gid] {
			if lc, ok := lm.cellLID[gc]; ok {
				lm.faceCells[lid] = append(lm.faceCells[lid], lc)
			}
		}
		lm.faceCentroids[lid] = g.FaceCentroids[gid]
		lm.faceAreas[lid] = g.FaceAreas[gid]
		lm.faceNormals[lid] = g.FaceNormals[gid]
	}
	return
}

func (lm *Local) SpaceDimension() int { return lm.dim }
func (lm *Local) Rank() int           { return lm.rank }
func (lm *Local) NumGlobalCells() int { return lm.nGlobalCells }

func (lm *Local) NumCells(pt ParallelType) int {
	if pt == Owned {
		return lm.nOwnedCells
	}
	return len(lm.cellGID)
}

func (lm *Local) NumFaces(pt ParallelType) int {
	if pt == Owned {
		return lm.nOwnedFaces
	}
	return len(lm.faceGID)
}

func (lm *Local) CellGetFacesAndDirs(c int) (faces, dirs []int) {
	return lm.cellFaces[c], lm.cellDirs[c]
}

func (lm *Local) FaceGetCells(f int) []int         { return lm.faceCells[f] }
func (lm *Local) CellCentroid(c int) r3.Vec        { return lm.cellCentroids[c] }
func (lm *Local) CellVolume(c int) float64         { return lm.cellVolumes[c] }
func (lm *Local) FaceCentroid(f int) r3.Vec        { return lm.faceCentroids[f] }
func (lm *Local) FaceArea(f int) float64           { return lm.faceAreas[f] }
func (lm *Local) FaceNormal(f int) r3.Vec          { return lm.faceNormals[f] }
func (lm *Local) CellGID(c int) int                { return lm.cellGID[c] }
func (lm *Local) FaceGID(f int) int                { return lm.faceGID[f] }
func (lm *Local) Ghosts(k EntityKind) []GhostRef   { return lm.ghosts[k] }
func (lm *Local) Exports(k EntityKind) []ExportRef { return lm.exports[k] }

func (lm *Local) CellLID(gid int) (lid int, ok bool) {
	lid, ok = lm.cellLID[gid]
	return
}

// BoundaryFacesWhere returns the owned boundary faces whose centroid
// satisfies pred.
func (lm *Local) BoundaryFacesWhere(pred func(x r3.Vec) bool) (faces []int) {
	for f := 0; f < lm.nOwnedFaces; f++ {
		if len(lm.faceCells[f]) == 1 && pred(lm.faceCentroids[f]) {
			faces = append(faces, f)
		}
	}
	return
}

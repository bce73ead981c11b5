// Package mesh provides the read-only geometric and topological queries the
// MFD engine consumes, and the rank-local views (owned entities first, then
// ghosts) of a serial mesh.
package mesh

import (
	"gonum.org/v1/gonum/spatial/r3"
)

type EntityKind uint8

const (
	Cell EntityKind = iota
	Face
)

func (k EntityKind) String() string {
	return [...]string{"cell", "face"}[k]
}

type ParallelType uint8

const (
	Owned ParallelType = iota
	Used               // Owned plus ghost
)

// GhostRef locates the owning copy of a ghost entity.
type GhostRef struct {
	LID      int // Local index of the ghost on this rank
	Owner    int // Rank that owns the entity
	OwnerLID int // Local index of the entity on the owning rank
}

// ExportRef records that an owned entity has a ghost copy on another rank.
type ExportRef struct {
	LID       int // Local index of the owned entity
	Rank      int // Rank holding the ghost copy
	RemoteLID int // Local index of the ghost copy on that rank
}

// Mesh is the query interface of a rank-local mesh. Owned entities are
// numbered [0, Num*(Owned)), ghosts follow up to Num*(Used).
type Mesh interface {
	SpaceDimension() int
	Rank() int
	NumCells(pt ParallelType) int
	NumFaces(pt ParallelType) int
	NumGlobalCells() int

	// CellGetFacesAndDirs returns the ordered faces of cell c and, for each,
	// +1 if the face normal points out of c and -1 otherwise. The order is
	// stable for the lifetime of the mesh.
	CellGetFacesAndDirs(c int) (faces, dirs []int)
	// FaceGetCells returns the one or two locally present cells of face f.
	FaceGetCells(f int) []int

	CellCentroid(c int) r3.Vec
	CellVolume(c int) float64
	FaceCentroid(f int) r3.Vec
	FaceArea(f int) float64
	// FaceNormal is the unit normal of f, pointing out of FaceGetCells(f)[0].
	FaceNormal(f int) r3.Vec

	CellGID(c int) int
	FaceGID(f int) int
	CellLID(gid int) (lid int, ok bool)

	Ghosts(kind EntityKind) []GhostRef
	Exports(kind EntityKind) []ExportRef
}

// FindPosition returns the index of value in v, or -1.
func FindPosition[T comparable](v []T, value T) int {
	for i := range v {
		if v[i] == value {
			return i
		}
	}
	return -1
}

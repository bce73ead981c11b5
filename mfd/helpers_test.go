package mfd

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cannsudemir/ats/comm"
	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
	"github.com/cannsudemir/ats/plist"
	"github.com/cannsudemir/ats/types"
)

// pairMesh is two cells sharing their only face.
type pairMesh struct{}

func (pairMesh) SpaceDimension() int                      { return 2 }
func (pairMesh) Rank() int                                { return 0 }
func (pairMesh) NumCells(mesh.ParallelType) int           { return 2 }
func (pairMesh) NumFaces(mesh.ParallelType) int           { return 1 }
func (pairMesh) NumGlobalCells() int                      { return 2 }
func (pairMesh) FaceGetCells(int) []int                   { return []int{0, 1} }
func (pairMesh) CellVolume(int) float64                   { return 1 }
func (pairMesh) FaceCentroid(int) r3.Vec                  { return r3.Vec{X: 1} }
func (pairMesh) FaceArea(int) float64                     { return 1 }
func (pairMesh) FaceNormal(int) r3.Vec                    { return r3.Vec{X: 1} }
func (pairMesh) CellGID(c int) int                        { return c }
func (pairMesh) FaceGID(f int) int                        { return f }
func (pairMesh) Ghosts(mesh.EntityKind) []mesh.GhostRef   { return nil }
func (pairMesh) Exports(mesh.EntityKind) []mesh.ExportRef { return nil }
func (pairMesh) CellLID(gid int) (int, bool)              { return gid, gid >= 0 && gid < 2 }
func (pairMesh) CellCentroid(c int) r3.Vec                { return r3.Vec{X: 0.5 + float64(c)} }
func (pairMesh) CellGetFacesAndDirs(c int) (faces, dirs []int) {
	if c == 0 {
		return []int{0}, []int{1}
	}
	return []int{0}, []int{-1}
}

// operator sets up a matrix with its mass matrices, graph and stiffness.
func operator(m mesh.Mesh, c *comm.Comm, method string, krel *field.CompositeVector) (mm *MatrixMFD, err error) {
	pl := plist.New("matrix").Set("preconditioner", method)
	if mm, err = NewMatrixMFD(pl, m, c); err != nil {
		return
	}
	mm.CreateMassMatrices(nil)
	if err = mm.SymbolicAssemble(); err != nil {
		return
	}
	mm.CreateStiffnessMatrices(krel)
	mm.CreateRHSVectors()
	if err = mm.InitPreconditioner(nil); err != nil {
		return
	}
	return
}

// cellKrel is a smooth positive mobility keyed by global cell id.
func cellKrel(m mesh.Mesh, c *comm.Comm) *field.CompositeVector {
	krel := field.New(m, c, field.CellComponent, field.FaceComponent)
	kc := krel.ViewComponent(field.CellComponent, true)
	for i := range kc {
		kc[i] = 1 + 0.5*math.Sin(float64(m.CellGID(i)))
	}
	kf := krel.ViewComponent(field.FaceComponent, true)
	for i := range kf {
		kf[i] = 2 + math.Cos(float64(m.FaceGID(i)))
	}
	return krel
}

// leftRightDirichlet holds p = left on x = 0 and p = right on x = lx.
func leftRightDirichlet(lm *mesh.Local, lx, left, right float64) (markers []types.MatrixBC, values []float64) {
	n := lm.NumFaces(mesh.Used)
	markers, values = make([]types.MatrixBC, n), make([]float64, n)
	for _, f := range lm.BoundaryFacesWhere(func(x r3.Vec) bool { return x.X < 1e-12 }) {
		markers[f], values[f] = types.BC_Dirichlet, left
	}
	for _, f := range lm.BoundaryFacesWhere(func(x r3.Vec) bool { return x.X > lx-1e-12 }) {
		markers[f], values[f] = types.BC_Dirichlet, right
	}
	return
}

// rows collects owned matrix rows keyed by global ids from several ranks.
type rows struct {
	mu     sync.Mutex
	values map[[2]int]float64
	dff    map[int][]float64
}

func newRows() *rows {
	return &rows{values: make(map[[2]int]float64), dff: make(map[int][]float64)}
}

func (r *rows) collect(mm *MatrixMFD) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spp := mm.Spp()
	m := mm.Mesh()
	for i := 0; i < spp.NumRows(); i++ {
		cols, vals := spp.Row(i)
		for k := range cols {
			r.values[[2]int{m.CellGID(i), cols[k]}] = vals[k]
		}
	}
	dff := mm.Dff().ViewComponent(field.FaceComponent, true)
	for f := range dff {
		// Every copy, ghosts included
		r.dff[m.FaceGID(f)] = append(r.dff[m.FaceGID(f)], dff[f])
	}
}

// Package mfd assembles the two-point flux (lumped mimetic) discretisation of
// div(K grad u) on a partitioned mesh, eliminates the face unknowns by a
// Schur complement and wraps the reduced cell operator with an algebraic
// preconditioner.
package mfd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cannsudemir/ats/comm"
	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/linalg"
	"github.com/cannsudemir/ats/mesh"
	"github.com/cannsudemir/ats/plist"
	"github.com/cannsudemir/ats/precond"
)

// MatrixMFD is the assembly engine of one operator. The mesh and coefficient
// fields are borrowed for the duration of each call; the matrices, the
// workspace and the right-hand side are owned.
type MatrixMFD struct {
	mesh mesh.Mesh
	comm *comm.Comm

	symmetric  bool
	precMethod string
	prec       precond.Preconditioner

	mff [][]float64 // Cached face mass matrix diagonals per owned cell
	ws  *Workspace

	ff  [][]float64 // Per-cell face right-hand sides
	fc  []float64   // Per-cell cell right-hand sides
	rhs *field.CompositeVector

	graph *linalg.Graph
	spp   *linalg.FEMatrix
	dff   *field.CompositeVector

	assembled bool
}

// NewMatrixMFD reads "preconditioner" (default "ml") and "symmetric"
// (default true) from pl. The preconditioner name is checked here; its
// parameters are read by InitPreconditioner.
func NewMatrixMFD(pl *plist.ParameterList, m mesh.Mesh, c *comm.Comm) (mm *MatrixMFD, err error) {
	mm = &MatrixMFD{mesh: m, comm: c}
	if mm.precMethod, err = pl.GetString("preconditioner", "ml"); err != nil {
		return nil, fmt.Errorf("NewMatrixMFD: %w", err)
	}
	if _, err = precond.SublistName(mm.precMethod); err != nil {
		return nil, fmt.Errorf("NewMatrixMFD: %w", err)
	}
	if mm.symmetric, err = pl.GetBool("symmetric", true); err != nil {
		return nil, fmt.Errorf("NewMatrixMFD: %w", err)
	}
	return
}

func (mm *MatrixMFD) Mesh() mesh.Mesh                   { return mm.mesh }
func (mm *MatrixMFD) Comm() *comm.Comm                  { return mm.comm }
func (mm *MatrixMFD) Workspace() *Workspace             { return mm.ws }
func (mm *MatrixMFD) Spp() *linalg.FEMatrix             { return mm.spp }
func (mm *MatrixMFD) Dff() *field.CompositeVector       { return mm.dff }
func (mm *MatrixMFD) RHS() *field.CompositeVector       { return mm.rhs }
func (mm *MatrixMFD) PreconditionerMethod() string      { return mm.precMethod }
func (mm *MatrixMFD) IsAssembled() bool                 { return mm.assembled }
func (mm *MatrixMFD) Symmetric() bool                   { return mm.symmetric }
func (mm *MatrixMFD) SetSymmetric(symmetric bool)       { mm.symmetric = symmetric }
func (mm *MatrixMFD) MassMatrix(c int) (diag []float64) { return mm.mff[c] }

// CreateMassMatrices computes the two-point face mass matrices of every owned
// cell, Mff(n,n) = K_c |f| |n_f . (x_f - x_c)| / |x_f - x_c|^2. A nil K is a
// unit permeability. The result is cached until the next call.
func (mm *MatrixMFD) CreateMassMatrices(K []float64) {
	var (
		m      = mm.mesh
		ncells = m.NumCells(mesh.Owned)
	)
	mm.mff = make([][]float64, ncells)
	for c := 0; c < ncells; c++ {
		faces, _ := m.CellGetFacesAndDirs(c)
		if len(faces) > MFD_MAX_FACES {
			panic(fmt.Sprintf("mfd: cell %d has %d faces, more than %d", c, len(faces), MFD_MAX_FACES))
		}
		kc := 1.
		if K != nil {
			kc = K[c]
		}
		xc := m.CellCentroid(c)
		mm.mff[c] = make([]float64, len(faces))
		for n, f := range faces {
			d := r3.Sub(m.FaceCentroid(f), xc)
			mm.mff[c][n] = kc * m.FaceArea(f) * math.Abs(r3.Dot(m.FaceNormal(f), d)) / r3.Dot(d, d)
		}
	}
}

// SetMassMatrices replaces the cached mass matrix diagonals.
func (mm *MatrixMFD) SetMassMatrices(mff [][]float64) {
	if len(mff) != mm.mesh.NumCells(mesh.Owned) {
		panic(fmt.Sprintf("mfd: %d mass matrices for %d owned cells", len(mff), mm.mesh.NumCells(mesh.Owned)))
	}
	mm.mff = mff
}

// InitPreconditioner allocates the configured preconditioner from its
// sublist of pl. No numeric work is done until UpdatePreconditioner.
func (mm *MatrixMFD) InitPreconditioner(pl *plist.ParameterList) (err error) {
	if mm.prec, err = precond.New(mm.precMethod, pl); err != nil {
		return fmt.Errorf("MatrixMFD.InitPreconditioner: %w", err)
	}
	return
}

// UpdatePreconditioner rebuilds the preconditioner from the rank-local block
// of the assembled reduced operator.
func (mm *MatrixMFD) UpdatePreconditioner() (err error) {
	if mm.prec == nil {
		return fmt.Errorf("MatrixMFD.UpdatePreconditioner: preconditioner %q is not initialized", mm.precMethod)
	}
	if !mm.assembled {
		return fmt.Errorf("MatrixMFD.UpdatePreconditioner: %w", ErrNotAssembled)
	}
	if mm.spp.NumRows() == 0 {
		return
	}
	if err = mm.prec.Update(mm.spp.LocalBlock()); err != nil {
		return fmt.Errorf("MatrixMFD.UpdatePreconditioner: %w", err)
	}
	return
}

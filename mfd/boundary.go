package mfd

import (
	"fmt"

	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
	"github.com/cannsudemir/ats/types"
)

// CreateRHSVectors zeroes the per-cell right-hand sides.
func (mm *MatrixMFD) CreateRHSVectors() {
	ncells := mm.mesh.NumCells(mesh.Owned)
	mm.ff = make([][]float64, ncells)
	mm.fc = make([]float64, ncells)
	for c := 0; c < ncells; c++ {
		faces, _ := mm.mesh.CellGetFacesAndDirs(c)
		mm.ff[c] = make([]float64, len(faces))
	}
}

// AddCellSource adds a volumetric source q (per unit volume) to owned cell c.
func (mm *MatrixMFD) AddCellSource(c int, q float64) {
	mm.fc[c] += q * mm.mesh.CellVolume(c)
}

// ApplyBoundaryConditions modifies the workspace and the per-cell
// right-hand sides. markers and values are indexed by local face (ghosts
// included). A Dirichlet face is eliminated: its coupling moves to the cell
// right-hand side and its face row becomes the identity. A flux value is the
// outward flux per unit area.
func (mm *MatrixMFD) ApplyBoundaryConditions(markers []types.MatrixBC, values []float64) {
	if mm.ws == nil || mm.ff == nil {
		panic("MatrixMFD.ApplyBoundaryConditions: stiffness matrices and right-hand sides must be created first")
	}
	nfacesUsed := mm.mesh.NumFaces(mesh.Used)
	if len(markers) != nfacesUsed || len(values) != nfacesUsed {
		panic(fmt.Sprintf("MatrixMFD.ApplyBoundaryConditions: %d markers and %d values for %d faces",
			len(markers), len(values), nfacesUsed))
	}
	ws := mm.ws
	for c := 0; c < ws.NumCells(); c++ {
		faces, _ := mm.mesh.CellGetFacesAndDirs(c)
		var (
			Bff = ws.Aff[c]
			Ff  = mm.ff[c]
		)
		for n, f := range faces {
			switch markers[f] {
			case types.BC_Dirichlet:
				mm.fc[c] -= ws.Acf[c][n] * values[f]
				ws.Acf[c][n] = 0
				ws.Afc[c][n] = 0
				Bff.SetDiag(n, 1)
				Ff[n] = values[f]
			case types.BC_Flux:
				Ff[n] -= values[f] * mm.mesh.FaceArea(f)
			}
		}
	}
}

// AssembleRHS gathers the per-cell right-hand sides into the global cell and
// face vector. Face contributions from all cells sharing a face are summed at
// the owner.
func (mm *MatrixMFD) AssembleRHS() (err error) {
	if mm.rhs == nil {
		mm.rhs = field.New(mm.mesh, mm.comm, field.CellComponent, field.FaceComponent)
	}
	mm.rhs.PutScalar(0)
	var (
		rhsC = mm.rhs.ViewComponent(field.CellComponent, false)
		rhsF = mm.rhs.ViewComponent(field.FaceComponent, true)
	)
	for c := range mm.fc {
		rhsC[c] = mm.fc[c]
		faces, _ := mm.mesh.CellGetFacesAndDirs(c)
		for n, f := range faces {
			rhsF[f] += mm.ff[c][n]
		}
	}
	if err = mm.rhs.GatherGhostedToMaster(field.FaceComponent); err != nil {
		return fmt.Errorf("MatrixMFD.AssembleRHS: %w", err)
	}
	return
}

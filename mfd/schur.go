package mfd

import (
	"fmt"

	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
)

// ApplySchurReduction reduces the cell component of a cell and face vector,
// v_c -= Acf Dff^-1 v_f. The face component is left as it was.
func (mm *MatrixMFD) ApplySchurReduction(v *field.CompositeVector) (err error) {
	if mm.ws == nil || mm.dff == nil {
		return fmt.Errorf("MatrixMFD.ApplySchurReduction: %w", ErrNotAssembled)
	}
	var (
		m           = mm.mesh
		ws          = mm.ws
		nfacesOwned = m.NumFaces(mesh.Owned)
		dffF        = mm.dff.ViewComponent(field.FaceComponent, true)
		scaled      = field.New(m, mm.comm, field.FaceComponent)
		scaledF     = scaled.ViewComponent(field.FaceComponent, true)
		vF          = v.ViewComponent(field.FaceComponent, false)
		vC          = v.ViewComponent(field.CellComponent, false)
	)
	for f := 0; f < nfacesOwned; f++ {
		scaledF[f] = vF[f] / dffF[f]
	}
	if err = scaled.ScatterMasterToGhosted(field.FaceComponent); err != nil {
		return fmt.Errorf("MatrixMFD.ApplySchurReduction: %w", err)
	}
	for c := 0; c < ws.NumCells(); c++ {
		faces, _ := m.CellGetFacesAndDirs(c)
		var tc float64
		for n, f := range faces {
			tc += ws.Acf[c][n] * scaledF[f]
		}
		vC[c] -= tc
	}
	return
}

// multiplyAfcT returns the owned face values of Afc^T uc. Contributions from
// cells of other ranks are combined at the face owner.
func (mm *MatrixMFD) multiplyAfcT(uc []float64) (update []float64, err error) {
	var (
		ws  = mm.ws
		out = field.New(mm.mesh, mm.comm, field.FaceComponent)
		upd = out.ViewComponent(field.FaceComponent, true)
	)
	for c := 0; c < ws.NumCells(); c++ {
		faces, _ := mm.mesh.CellGetFacesAndDirs(c)
		for n, f := range faces {
			upd[f] += ws.Afc[c][n] * uc[c]
		}
	}
	if err = out.GatherGhostedToMaster(field.FaceComponent); err != nil {
		return
	}
	return out.ViewComponent(field.FaceComponent, false), nil
}

// UpdateConsistentFaceConstraints sets the faces of u to the values
// consistent with its cells, u_f = (rhs_f - Afc^T u_c) / Dff.
func (mm *MatrixMFD) UpdateConsistentFaceConstraints(u *field.CompositeVector) (err error) {
	if !mm.assembled {
		return fmt.Errorf("MatrixMFD.UpdateConsistentFaceConstraints: %w", ErrNotAssembled)
	}
	var update []float64
	if update, err = mm.multiplyAfcT(u.ViewComponent(field.CellComponent, false)); err != nil {
		return fmt.Errorf("MatrixMFD.UpdateConsistentFaceConstraints: %w", err)
	}
	var (
		uf   = u.ViewComponent(field.FaceComponent, false)
		rhsF = mm.rhs.ViewComponent(field.FaceComponent, false)
		dffF = mm.dff.ViewComponent(field.FaceComponent, false)
	)
	for f := range uf {
		uf[f] = (rhsF[f] - update[f]) / dffF[f]
	}
	if err = u.ScatterMasterToGhosted(field.FaceComponent); err != nil {
		return fmt.Errorf("MatrixMFD.UpdateConsistentFaceConstraints: %w", err)
	}
	return
}

// UpdateConsistentFaceCorrection sets the faces of the correction Pu from
// its cells and the face residual of u, Pu_f = (u_f - Afc^T Pu_c) / Dff.
func (mm *MatrixMFD) UpdateConsistentFaceCorrection(u, Pu *field.CompositeVector) (err error) {
	if !mm.assembled {
		return fmt.Errorf("MatrixMFD.UpdateConsistentFaceCorrection: %w", ErrNotAssembled)
	}
	var update []float64
	if update, err = mm.multiplyAfcT(Pu.ViewComponent(field.CellComponent, false)); err != nil {
		return fmt.Errorf("MatrixMFD.UpdateConsistentFaceCorrection: %w", err)
	}
	var (
		puF  = Pu.ViewComponent(field.FaceComponent, false)
		uF   = u.ViewComponent(field.FaceComponent, false)
		dffF = mm.dff.ViewComponent(field.FaceComponent, false)
	)
	for f := range puF {
		puF[f] = (uF[f] - update[f]) / dffF[f]
	}
	if err = Pu.ScatterMasterToGhosted(field.FaceComponent); err != nil {
		return fmt.Errorf("MatrixMFD.UpdateConsistentFaceCorrection: %w", err)
	}
	return
}

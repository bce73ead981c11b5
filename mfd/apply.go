package mfd

import (
	"fmt"

	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
)

// Apply computes y_c = Spp x_c. The reduced operator has no face range, so
// y_f is zeroed.
func (mm *MatrixMFD) Apply(x, y *field.CompositeVector) (err error) {
	if !mm.assembled {
		return fmt.Errorf("MatrixMFD.Apply: %w", ErrNotAssembled)
	}
	if err = mm.spp.Multiply(x.ViewComponent(field.CellComponent, false), y.ViewComponent(field.CellComponent, false)); err != nil {
		return fmt.Errorf("MatrixMFD.Apply: failed to calculate y = A*x: %v: %w", err, ErrApply)
	}
	yf := y.ViewComponent(field.FaceComponent, false)
	for f := range yf {
		yf[f] = 0
	}
	return
}

// ApplyInverse applies the preconditioner to x_c and passes the faces of x
// through unchanged. x and y may be the same vector.
func (mm *MatrixMFD) ApplyInverse(x, y *field.CompositeVector) (err error) {
	if !mm.assembled {
		return fmt.Errorf("MatrixMFD.ApplyInverse: %w", ErrNotAssembled)
	}
	if mm.prec == nil {
		return fmt.Errorf("MatrixMFD.ApplyInverse: preconditioner %q is not initialized: %w", mm.precMethod, ErrApply)
	}
	var (
		xc = x.ViewComponent(field.CellComponent, false)
		tc = make([]float64, len(xc))
	)
	if len(xc) > 0 {
		if err = mm.prec.ApplyInverse(xc, tc); err != nil {
			return fmt.Errorf("MatrixMFD.ApplyInverse: failed in calculating y = inv(A)*x: %v: %w", err, ErrApply)
		}
	}
	copy(y.ViewComponent(field.CellComponent, false), tc)
	copy(y.ViewComponent(field.FaceComponent, false), x.ViewComponent(field.FaceComponent, false))
	return
}

// ComputeResidual computes r = A u - b for the full cell and face system,
// using the workspace and per-cell right-hand sides after boundary
// conditions. Ghost faces of u are refreshed.
func (mm *MatrixMFD) ComputeResidual(u, r *field.CompositeVector) (err error) {
	if mm.ws == nil || mm.ff == nil {
		return fmt.Errorf("MatrixMFD.ComputeResidual: stiffness matrices and right-hand sides must be created first")
	}
	if err = u.ScatterMasterToGhosted(field.FaceComponent); err != nil {
		return fmt.Errorf("MatrixMFD.ComputeResidual: %w", err)
	}
	var (
		ws = mm.ws
		uc = u.ViewComponent(field.CellComponent, false)
		uf = u.ViewComponent(field.FaceComponent, true)
		rc = r.ViewComponent(field.CellComponent, false)
		rf = r.ViewComponent(field.FaceComponent, true)
	)
	for f := range rf {
		rf[f] = 0
	}
	for c := 0; c < ws.NumCells(); c++ {
		faces, _ := mm.mesh.CellGetFacesAndDirs(c)
		rc[c] = ws.Acc[c]*uc[c] - mm.fc[c]
		for n, f := range faces {
			rc[c] += ws.Acf[c][n] * uf[f]
			rf[f] += ws.Afc[c][n]*uc[c] + ws.Aff[c].At(n, n)*uf[f] - mm.ff[c][n]
		}
	}
	if err = r.GatherGhostedToMaster(field.FaceComponent); err != nil {
		return fmt.Errorf("MatrixMFD.ComputeResidual: %w", err)
	}
	return
}

// DeriveFlux computes the flux through every owned face along its normal,
// sum_n dir * Aff(n,n) * (p_c - p_f), averaged over the cells sharing the
// face. It uses the current workspace, so it must be called before boundary
// conditions are applied to it.
func (mm *MatrixMFD) DeriveFlux(p *field.CompositeVector, flux []float64) (err error) {
	if mm.ws == nil {
		return fmt.Errorf("MatrixMFD.DeriveFlux: stiffness matrices must be created first")
	}
	if err = p.ScatterMasterToGhosted(field.FaceComponent); err != nil {
		return fmt.Errorf("MatrixMFD.DeriveFlux: %w", err)
	}
	var (
		m     = mm.mesh
		ws    = mm.ws
		pc    = p.ViewComponent(field.CellComponent, false)
		pf    = p.ViewComponent(field.FaceComponent, true)
		total = field.New(m, mm.comm, field.FaceComponent)
		q     = total.ViewComponent(field.FaceComponent, true)
	)
	for c := 0; c < ws.NumCells(); c++ {
		faces, dirs := m.CellGetFacesAndDirs(c)
		for n, f := range faces {
			q[f] += float64(dirs[n]) * ws.Aff[c].At(n, n) * (pc[c] - pf[f])
		}
	}
	if err = total.GatherGhostedToMaster(field.FaceComponent); err != nil {
		return fmt.Errorf("MatrixMFD.DeriveFlux: %w", err)
	}
	nfaces := m.NumFaces(mesh.Owned)
	if len(flux) < nfaces {
		return fmt.Errorf("MatrixMFD.DeriveFlux: flux has %d entries for %d faces", len(flux), nfaces)
	}
	for f := 0; f < nfaces; f++ {
		flux[f] = q[f] / float64(len(m.FaceGetCells(f)))
	}
	return
}

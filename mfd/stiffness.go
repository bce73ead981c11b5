package mfd

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
)

// CreateStiffnessMatrices scales the cached mass matrices by the relative
// mobility and derives the per-cell couplings. krel may be nil or carry any
// subset of the "cell" and "face" components:
//
//	none        Aff = Mff
//	cell        Aff = Mff * krel_c
//	face        Aff = Mff * krel_f
//	cell, face  Aff = Mff * krel_f * krel_c
//
// Acf and Afc are the negative row and column sums of Aff, and Acc is the sum
// of its entries. A fresh Workspace replaces the previous one.
func (mm *MatrixMFD) CreateStiffnessMatrices(krel *field.CompositeVector) {
	if mm.mff == nil {
		panic("MatrixMFD.CreateStiffnessMatrices: mass matrices have not been created")
	}
	var (
		ncells       = mm.mesh.NumCells(mesh.Owned)
		ws           = newWorkspace(ncells)
		krelC, krelF []float64
		hasC, hasF   = krel.HasComponent(field.CellComponent), krel.HasComponent(field.FaceComponent)
	)
	if hasC {
		krelC = krel.ViewComponent(field.CellComponent, false)
	}
	if hasF {
		krelF = krel.ViewComponent(field.FaceComponent, true)
	}

	for c := 0; c < ncells; c++ {
		faces, _ := mm.mesh.CellGetFacesAndDirs(c)
		nfaces := len(faces)
		mff := mm.mff[c]
		if len(mff) != nfaces {
			panic(fmt.Sprintf("MatrixMFD.CreateStiffnessMatrices: cell %d has %d faces but a %dx%d mass matrix",
				c, nfaces, len(mff), len(mff)))
		}
		Bff := mat.NewDiagDense(nfaces, nil)
		for n := 0; n < nfaces; n++ {
			switch {
			case !hasC && !hasF:
				Bff.SetDiag(n, mff[n])
			case !hasF:
				Bff.SetDiag(n, mff[n]*krelC[c])
			case !hasC:
				Bff.SetDiag(n, mff[n]*krelF[faces[n]])
			default:
				Bff.SetDiag(n, mff[n]*krelF[faces[n]]*krelC[c])
			}
		}

		var (
			Bcf    = make([]float64, nfaces)
			Bfc    = make([]float64, nfaces)
			matsum float64 // Elimination of the mass matrix
		)
		for n := 0; n < nfaces; n++ {
			rowsum, colsum := Bff.At(n, n), Bff.At(n, n)
			Bcf[n] = -colsum
			Bfc[n] = -rowsum
			matsum += colsum
		}
		ws.Aff = append(ws.Aff, Bff)
		ws.Acf = append(ws.Acf, Bcf)
		if mm.symmetric {
			ws.Afc = append(ws.Afc, Bcf)
		} else {
			ws.Afc = append(ws.Afc, Bfc)
		}
		ws.Acc = append(ws.Acc, matsum)
	}
	mm.ws = ws
}

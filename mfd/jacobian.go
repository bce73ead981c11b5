package mfd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
)

// flowEpsFloor keeps the smoothing width of the upwind blend positive.
const flowEpsFloor = 1.e-16

// AnalyticJacobian adds the derivative of the upwinded mobility to the
// reduced operator, face by face, and sums the result across ranks. It must
// follow NumericAssemble.
//
// This is not a general Jacobian: it assumes a unit absolute permeability
// and upwinding by potential difference smoothed over the height overlap.
//
// Each argument needs a "cell" component; height, potential and krelCell
// also need a "face" component, used on boundary faces.
func (mm *MatrixMFD) AnalyticJacobian(height, potential, krel, dkrelDp, krelCell, dkrelCellDp *field.CompositeVector) (err error) {
	if !mm.assembled {
		return fmt.Errorf("MatrixMFD.AnalyticJacobian: %w", ErrNotAssembled)
	}
	fields := []*field.CompositeVector{height, potential, krel, dkrelDp, krelCell, dkrelCellDp}
	for _, cv := range fields {
		if err = cv.ScatterMasterToGhosted(field.CellComponent); err != nil {
			return fmt.Errorf("MatrixMFD.AnalyticJacobian: %w", err)
		}
	}
	var (
		m          = mm.mesh
		nfaces     = m.NumFaces(mesh.Owned)
		heightC    = height.ViewComponent(field.CellComponent, true)
		potentialC = potential.ViewComponent(field.CellComponent, true)
		krelC      = krel.ViewComponent(field.CellComponent, true)
		dkrelC     = dkrelDp.ViewComponent(field.CellComponent, true)
		krelCellC  = krelCell.ViewComponent(field.CellComponent, true)
		dkrelCellC = dkrelCellDp.ViewComponent(field.CellComponent, true)

		cellsGID                                        [2]int
		heightL, potentialL, kRel, dkRel, kCell, dkCell [2]float64
		cntrCell                                        [2]r3.Vec
		dist                                            float64
	)
	for f := 0; f < nfaces; f++ {
		cells := m.FaceGetCells(f)
		mcells := len(cells)
		for n, c := range cells {
			cellsGID[n] = m.CellGID(c)
			heightL[n] = heightC[c]
			potentialL[n] = potentialC[c]
			kRel[n] = krelC[c]
			dkRel[n] = dkrelC[c]
			kCell[n] = krelCellC[c]
			dkCell[n] = dkrelCellC[c]
			cntrCell[n] = m.CellCentroid(c)
		}
		if mcells == 2 {
			dist = r3.Norm(r3.Sub(cntrCell[0], cntrCell[1]))
		} else {
			dist = r3.Norm(r3.Sub(cntrCell[0], m.FaceCentroid(f)))
			heightL[1] = height.At(field.FaceComponent, f)
			potentialL[1] = potential.At(field.FaceComponent, f)
			kRel[1] = krelCell.At(field.FaceComponent, f)
			dkRel[1] = 0
		}

		Jpp := ComputeJacobianLocal(mcells, m.FaceArea(f), dist, heightL, potentialL, kRel, dkRel, kCell, dkCell)
		block := []float64{Jpp[0][0], Jpp[0][1], Jpp[1][0], Jpp[1][1]}
		if mcells == 1 {
			block = block[:1]
		}
		if err = mm.spp.SumIntoGlobalValues(cellsGID[:mcells], block); err != nil {
			mm.assembled = false
			return fmt.Errorf("MatrixMFD.AnalyticJacobian: %w", err)
		}
	}
	if err = mm.spp.GlobalAssemble(); err != nil {
		mm.assembled = false
		return fmt.Errorf("MatrixMFD.AnalyticJacobian: %w", err)
	}
	return
}

// UpwindMobility returns the face mobility of a one sided (mcells == 1) or
// two sided face, its derivatives with respect to the potential of each
// side, and the weight of side 1 in the result.
//
// A boundary face takes side 0 when its potential is not lower, side 1
// otherwise, and only side 0 carries a derivative. An interior face takes
// the higher-potential side outright when the potential difference exceeds
// eps, the harmonic mean of the non-negative heights; otherwise it blends
// linearly across [-eps, eps].
func UpwindMobility(mcells int, height, potential, krel, dkrel [2]float64) (kface float64, dKface [2]float64, param float64) {
	if mcells == 1 {
		if potential[0] >= potential[1] {
			return krel[0], [2]float64{dkrel[0], 0}, 0
		}
		return krel[1], [2]float64{0, 0}, 1
	}
	var (
		ol0     = math.Max(0, height[0])
		ol1     = math.Max(0, height[1])
		flowEps float64
	)
	if ol0 > 0 || ol1 > 0 {
		flowEps = (ol0 * ol1) / (ol0 + ol1)
	}
	flowEps = math.Max(flowEps, flowEpsFloor)

	switch {
	case potential[0]-potential[1] > flowEps:
		return krel[0], [2]float64{dkrel[0], 0}, 0
	case potential[1]-potential[0] > flowEps:
		return krel[1], [2]float64{0, dkrel[1]}, 1
	}
	if flowEps < 2*flowEpsFloor {
		param = 0.5
	} else {
		param = (potential[1]-potential[0])/(2*flowEps) + 0.5
	}
	if param < 0 || param > 1 {
		panic(fmt.Sprintf("mfd: upwind blend parameter %g outside [0,1]", param))
	}
	kface = param*krel[1] + (1-param)*krel[0]
	dKface = [2]float64{(1 - param) * dkrel[0], param * dkrel[1]}
	return
}

// ComputeJacobianLocal returns the Jacobian block of one face. Only the
// (0,0) entry is meaningful for a boundary face; an interior block satisfies
// J(1,0) = -J(0,0) and J(1,1) = -J(0,1).
func ComputeJacobianLocal(mcells int, area, dist float64,
	height, potential, krel, dkrel, krelCell, dkrelCell [2]float64) (Jpp [2][2]float64) {
	Kface, dKface, _ := UpwindMobility(mcells, height, potential, krel, dkrel)
	dphi := (potential[0] - potential[1]) / dist
	Jpp[0][0] = dphi * (Kface*dkrelCell[0] + dKface[0]*krelCell[0]) * area
	if mcells == 2 {
		Jpp[0][1] = dphi * (Kface*dkrelCell[1] + dKface[1]*krelCell[1]) * area
		Jpp[1][0] = -Jpp[0][0]
		Jpp[1][1] = -Jpp[0][1]
	}
	return
}

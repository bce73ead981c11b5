package mfd

import (
	"fmt"

	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/linalg"
	"github.com/cannsudemir/ats/mesh"
)

// SymbolicAssemble builds the cell-cell graph, one dense 1x1 or 2x2 pattern
// per owned face, and allocates the reduced operator and the face aggregate.
// It must be run again whenever the mesh topology changes.
func (mm *MatrixMFD) SymbolicAssemble() (err error) {
	var (
		m      = mm.mesh
		nfaces = m.NumFaces(mesh.Owned)
		graph  = linalg.NewGraph(linalg.NewCellMap(m), mm.comm)
		gids   [2]int
	)
	for f := 0; f < nfaces; f++ {
		cells := m.FaceGetCells(f)
		for n, c := range cells {
			gids[n] = m.CellGID(c)
		}
		if err = graph.InsertGlobalIndices(gids[:len(cells)], gids[:len(cells)]); err != nil {
			return fmt.Errorf("MatrixMFD.SymbolicAssemble: %w", err)
		}
	}
	if err = graph.GlobalAssemble(); err != nil {
		return fmt.Errorf("MatrixMFD.SymbolicAssemble: %w", err)
	}
	mm.graph = graph
	mm.spp = linalg.NewFEMatrix(graph)
	mm.dff = field.New(m, mm.comm, field.FaceComponent)
	mm.assembled = false
	return
}

// NumericAssemble refreshes the values of the reduced operator from the
// current workspace and right-hand sides:
//
//  1. Dff, the sum of the diagonal face entries of all cells sharing a face,
//     is accumulated from zero and made consistent across ranks.
//  2. The right-hand side is reduced, rhs_c -= Acf Dff^-1 rhs_f.
//  3. Spp is rebuilt face by face from zero and summed across ranks.
//
// On error the operator is left unusable until the next successful call.
func (mm *MatrixMFD) NumericAssemble() (err error) {
	mm.assembled = false
	if mm.spp == nil {
		return fmt.Errorf("MatrixMFD.NumericAssemble: SymbolicAssemble has not been run")
	}
	if mm.ws == nil || mm.ff == nil {
		return fmt.Errorf("MatrixMFD.NumericAssemble: stiffness matrices and right-hand sides must be created first")
	}
	if err = mm.AssembleRHS(); err != nil {
		return fmt.Errorf("MatrixMFD.NumericAssemble: %w", err)
	}
	if err = mm.assembleDff(); err != nil {
		return fmt.Errorf("MatrixMFD.NumericAssemble: %w", err)
	}
	if err = mm.ApplySchurReduction(mm.rhs); err != nil {
		return fmt.Errorf("MatrixMFD.NumericAssemble: %w", err)
	}
	if err = mm.assembleSpp(); err != nil {
		return fmt.Errorf("MatrixMFD.NumericAssemble: %w", err)
	}
	mm.assembled = true
	return
}

func (mm *MatrixMFD) assembleDff() (err error) {
	var (
		ws   = mm.ws
		dffF = mm.dff.ViewComponent(field.FaceComponent, true)
	)
	mm.dff.PutScalar(0)
	for c := 0; c < ws.NumCells(); c++ {
		faces, _ := mm.mesh.CellGetFacesAndDirs(c)
		for n, f := range faces {
			dffF[f] += ws.Aff[c].At(n, n)
		}
	}
	// Every rank must see the owner's total before Dff is used
	return mm.dff.GatherGhostedToMaster(field.FaceComponent)
}

func (mm *MatrixMFD) assembleSpp() (err error) {
	var (
		m            = mm.mesh
		ws           = mm.ws
		ncellsOwned  = m.NumCells(mesh.Owned)
		nfacesOwned  = m.NumFaces(mesh.Owned)
		dffF         = mm.dff.ViewComponent(field.FaceComponent, true)
		dcc          = field.New(m, mm.comm, field.CellComponent)
		acfParallel  = field.New(m, mm.comm, field.FaceComponent)
		dccC         = dcc.ViewComponent(field.CellComponent, true)
		acfParallelF = acfParallel.ViewComponent(field.FaceComponent, true)
		cellsGID     [2]int
		acfCopy      [2]float64
		Bpp          [4]float64
	)
	// With-ghost copy of Acc
	copy(dccC, ws.Acc)
	if err = dcc.ScatterMasterToGhosted(field.CellComponent); err != nil {
		return
	}
	// Acf of a face seen from a cell owned by another rank
	for c := 0; c < ncellsOwned; c++ {
		faces, _ := m.CellGetFacesAndDirs(c)
		for i, f := range faces {
			if f >= nfacesOwned {
				acfParallelF[f] = ws.Acf[c][i]
			}
		}
	}
	if err = acfParallel.GatherGhostedToMaster(field.FaceComponent); err != nil {
		return
	}

	mm.spp.PutScalar(0)
	for f := 0; f < nfacesOwned; f++ {
		cells := m.FaceGetCells(f)
		mcells := len(cells)
		for n, c := range cells {
			cellsGID[n] = m.CellGID(c)
			faces, _ := m.CellGetFacesAndDirs(c)
			// Uniform split of Acc over the cell's faces
			Bpp[n*mcells+n] = dccC[c] / float64(len(faces))
			if c < ncellsOwned {
				i := mesh.FindPosition(faces, f)
				if i < 0 {
					panic(fmt.Sprintf("MatrixMFD.NumericAssemble: face %d not found in cell %d", f, c))
				}
				acfCopy[n] = ws.Acf[c][i]
			} else {
				acfCopy[n] = acfParallelF[f]
			}
		}
		for n := 0; n < mcells; n++ {
			for k := n; k < mcells; k++ {
				if k != n {
					Bpp[n*mcells+k] = 0
				}
				Bpp[n*mcells+k] -= acfCopy[n] * acfCopy[k] / dffF[f]
				Bpp[k*mcells+n] = Bpp[n*mcells+k]
			}
		}
		if err = mm.spp.SumIntoGlobalValues(cellsGID[:mcells], Bpp[:mcells*mcells]); err != nil {
			return
		}
	}
	return mm.spp.GlobalAssemble()
}

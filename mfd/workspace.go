package mfd

import (
	"gonum.org/v1/gonum/mat"
)

// Workspace holds the per-cell reduced quantities of one stiffness pass,
// indexed by owned cell and by the cell's local face ordering. A new
// Workspace is built by every pass and swapped into the matrix.
type Workspace struct {
	Aff []*mat.DiagDense // Face-face block, diagonal for TPFA
	Afc [][]float64      // Face-to-cell coupling, stored transposed
	Acf [][]float64      // Cell-to-face coupling
	Acc []float64        // Cell self coupling
}

func newWorkspace(ncells int) *Workspace {
	return &Workspace{
		Aff: make([]*mat.DiagDense, 0, ncells),
		Afc: make([][]float64, 0, ncells),
		Acf: make([][]float64, 0, ncells),
		Acc: make([]float64, 0, ncells),
	}
}

// NumCells returns the number of cells held.
func (ws *Workspace) NumCells() int { return len(ws.Acc) }

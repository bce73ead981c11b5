package richards

import (
	"errors"
	"fmt"
	"log"

	"github.com/cannsudemir/ats/comm"
	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
	"github.com/cannsudemir/ats/mfd"
	"github.com/cannsudemir/ats/plist"
	"github.com/cannsudemir/ats/types"
)

var ErrNotConverged = errors.New("nonlinear iteration did not converge")

// SteadyState solves -div(K krel(p) grad p) = q for the pressure p on cells
// and faces. The operator matrix evaluates residuals, the preconditioner
// matrix holds the linearized (Picard or Newton) reduced system.
type SteadyState struct {
	mesh mesh.Mesh
	comm *comm.Comm
	wrm  VanGenuchten

	matrix, precon *mfd.MatrixMFD
	markers        []types.MatrixBC
	values         []float64
	source         []float64

	krel, dkrel *field.CompositeVector // Cell values
	upwind      *field.CompositeVector // Face values seen by the operator

	// Jacobian inputs: unit cell factors, with the upwind value on boundary
	// faces, and their zero derivative
	krelCell, dkrelCell *field.CompositeVector
	height              *field.CompositeVector

	fullJacobian bool
	maxIters     int
	tol, damping float64

	logger *log.Logger
}

// NewSteadyState reads the driver parameters from pl:
//
//	max iterations      (int, 50)
//	tolerance           (float, 1e-8) on the max norm of the residual
//	damping             (float, 1) scale of each correction
//	use full jacobian   (bool, false) add the upwind derivative to the preconditioner
//	upwind smoothing    (float, 0) pressure width of the upwind blend
//	Diffusion           matrix parameters of the operator
//	Diffusion PC        matrix and preconditioner parameters
//
// K is the per-cell absolute permeability, nil for unit permeability. A nil
// logger disables iteration logging.
func NewSteadyState(pl *plist.ParameterList, m mesh.Mesh, c *comm.Comm, wrm VanGenuchten, K []float64,
	logger *log.Logger) (ss *SteadyState, err error) {
	ss = &SteadyState{mesh: m, comm: c, wrm: wrm, logger: logger}
	if ss.maxIters, err = pl.GetInt("max iterations", 50); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}
	if ss.tol, err = pl.GetFloat("tolerance", 1.e-8); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}
	if ss.damping, err = pl.GetFloat("damping", 1); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}
	if ss.damping <= 0 || ss.damping > 1 {
		return nil, fmt.Errorf("NewSteadyState: damping %g outside (0,1]: %w", ss.damping, plist.ErrBadParameter)
	}
	if ss.fullJacobian, err = pl.GetBool("use full jacobian", false); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}
	var smoothing float64
	if smoothing, err = pl.GetFloat("upwind smoothing", 0); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}

	var opList, pcList *plist.ParameterList
	if opList, err = pl.Sublist("Diffusion"); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}
	if pcList, err = pl.Sublist("Diffusion PC"); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}
	if ss.matrix, err = newMatrix(opList, m, c, K); err != nil {
		return nil, err
	}
	if ss.precon, err = newMatrix(pcList, m, c, K); err != nil {
		return nil, err
	}
	if err = ss.precon.InitPreconditioner(pcList); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}

	names := []string{field.CellComponent, field.FaceComponent}
	ss.krel = field.New(m, c, field.CellComponent)
	ss.dkrel = field.New(m, c, field.CellComponent)
	ss.upwind = field.New(m, c, field.FaceComponent)
	ss.krelCell = field.New(m, c, names...)
	ss.krelCell.PutScalar(1)
	ss.dkrelCell = field.New(m, c, names...)
	ss.height = field.New(m, c, names...)
	ss.height.PutScalar(smoothing)

	nfaces := m.NumFaces(mesh.Used)
	ss.markers = make([]types.MatrixBC, nfaces)
	ss.values = make([]float64, nfaces)
	ss.source = make([]float64, m.NumCells(mesh.Owned))
	return
}

func newMatrix(pl *plist.ParameterList, m mesh.Mesh, c *comm.Comm, K []float64) (mm *mfd.MatrixMFD, err error) {
	if mm, err = mfd.NewMatrixMFD(pl, m, c); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}
	mm.CreateMassMatrices(K)
	if err = mm.SymbolicAssemble(); err != nil {
		return nil, fmt.Errorf("NewSteadyState: %w", err)
	}
	return
}

// SetBoundaryConditions sets the face markers and values, indexed by local
// face with ghosts included. Faces left at BC_Null are no-flow.
func (ss *SteadyState) SetBoundaryConditions(markers []types.MatrixBC, values []float64) error {
	if len(markers) != len(ss.markers) || len(values) != len(ss.values) {
		return fmt.Errorf("SteadyState.SetBoundaryConditions: %d markers and %d values for %d faces",
			len(markers), len(values), len(ss.markers))
	}
	copy(ss.markers, markers)
	copy(ss.values, values)
	return nil
}

// SetSource sets the volumetric source of each owned cell.
func (ss *SteadyState) SetSource(q []float64) {
	copy(ss.source, q)
}

func (ss *SteadyState) Matrix() *mfd.MatrixMFD         { return ss.matrix }
func (ss *SteadyState) Preconditioner() *mfd.MatrixMFD { return ss.precon }

// UpdatePermeability evaluates the cell relative permeability at u and
// upwinds it to the faces by pressure difference. Ties go to the cell with
// the lower global id, boundary faces take their interior cell.
func (ss *SteadyState) UpdatePermeability(u *field.CompositeVector) (err error) {
	if err = u.ScatterMasterToGhosted(); err != nil {
		return fmt.Errorf("SteadyState.UpdatePermeability: %w", err)
	}
	var (
		m      = ss.mesh
		uc     = u.ViewComponent(field.CellComponent, true)
		kc     = ss.krel.ViewComponent(field.CellComponent, true)
		dkc    = ss.dkrel.ViewComponent(field.CellComponent, true)
		kbf    = ss.krelCell.ViewComponent(field.FaceComponent, true)
		upwind = ss.upwind.ViewComponent(field.FaceComponent, true)
	)
	for c := range uc {
		kc[c] = ss.wrm.Krel(uc[c])
		dkc[c] = ss.wrm.DKrelDp(uc[c])
	}
	for f := 0; f < m.NumFaces(mesh.Owned); f++ {
		cells := m.FaceGetCells(f)
		up := cells[0]
		if len(cells) == 2 {
			c0, c1 := cells[0], cells[1]
			switch {
			case uc[c1] > uc[c0]:
				up = c1
			case uc[c1] == uc[c0] && m.CellGID(c1) < m.CellGID(c0):
				up = c1
			}
		} else {
			kbf[f] = kc[up]
		}
		upwind[f] = kc[up]
	}
	if err = ss.upwind.ScatterMasterToGhosted(); err != nil {
		return fmt.Errorf("SteadyState.UpdatePermeability: %w", err)
	}
	return
}

// assemble builds the local matrices of mm at the current permeability.
func (ss *SteadyState) assemble(mm *mfd.MatrixMFD) {
	mm.CreateStiffnessMatrices(ss.upwind)
	mm.CreateRHSVectors()
	for c, q := range ss.source {
		if q != 0 {
			mm.AddCellSource(c, q)
		}
	}
	mm.ApplyBoundaryConditions(ss.markers, ss.values)
}

// Residual computes res = A(u) u - b.
func (ss *SteadyState) Residual(u, res *field.CompositeVector) (err error) {
	if err = ss.UpdatePermeability(u); err != nil {
		return
	}
	ss.assemble(ss.matrix)
	if err = ss.matrix.ComputeResidual(u, res); err != nil {
		return fmt.Errorf("SteadyState.Residual: %w", err)
	}
	return
}

// UpdatePreconditioner linearizes the operator at u and rebuilds the
// preconditioner of the reduced system.
func (ss *SteadyState) UpdatePreconditioner(u *field.CompositeVector) (err error) {
	if err = ss.UpdatePermeability(u); err != nil {
		return
	}
	ss.assemble(ss.precon)
	if err = ss.precon.NumericAssemble(); err != nil {
		return fmt.Errorf("SteadyState.UpdatePreconditioner: %w", err)
	}
	if ss.fullJacobian {
		if err = ss.precon.AnalyticJacobian(ss.height, u, ss.krel, ss.dkrel, ss.krelCell, ss.dkrelCell); err != nil {
			return fmt.Errorf("SteadyState.UpdatePreconditioner: %w", err)
		}
	}
	if err = ss.precon.UpdatePreconditioner(); err != nil {
		return fmt.Errorf("SteadyState.UpdatePreconditioner: %w", err)
	}
	return
}

func (ss *SteadyState) zero() *field.CompositeVector {
	return field.New(ss.mesh, ss.comm, field.CellComponent, field.FaceComponent)
}

// Precondition applies the inverse of the linearized system to r: the
// reduced cell system is solved by the preconditioner and the faces are
// recovered from the cells.
func (ss *SteadyState) Precondition(r, pu *field.CompositeVector) (err error) {
	reduced := r.Clone()
	if err = ss.precon.ApplySchurReduction(reduced); err != nil {
		return fmt.Errorf("SteadyState.Precondition: %w", err)
	}
	if err = ss.precon.ApplyInverse(reduced, pu); err != nil {
		return fmt.Errorf("SteadyState.Precondition: %w", err)
	}
	if err = ss.precon.UpdateConsistentFaceCorrection(r, pu); err != nil {
		return fmt.Errorf("SteadyState.Precondition: %w", err)
	}
	return
}

// Solve iterates u <- u - damping * P(u)^-1 r(u) from the initial guess in u
// until the max norm of the residual drops below the tolerance. It returns
// the number of corrections applied.
func (ss *SteadyState) Solve(u *field.CompositeVector) (iters int, err error) {
	var (
		res  = ss.zero()
		du   = ss.zero()
		norm float64
	)
	for iters = 0; ; iters++ {
		if err = ss.Residual(u, res); err != nil {
			return
		}
		if norm, err = res.NormInf(); err != nil {
			return
		}
		ss.logf("iteration %3d: residual %12.6e", iters, norm)
		if norm < ss.tol {
			return
		}
		if iters == ss.maxIters {
			err = fmt.Errorf("SteadyState.Solve: residual %g after %d iterations: %w", norm, iters, ErrNotConverged)
			return
		}
		if err = ss.UpdatePreconditioner(u); err != nil {
			return
		}
		if err = ss.Precondition(res, du); err != nil {
			return
		}
		u.Update(-ss.damping, du, 1)
	}
}

func (ss *SteadyState) logf(format string, args ...interface{}) {
	if ss.logger != nil && ss.comm.Rank() == 0 {
		ss.logger.Printf(format, args...)
	}
}

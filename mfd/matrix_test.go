package mfd

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cannsudemir/ats/comm"
	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
	"github.com/cannsudemir/ats/plist"
	"github.com/cannsudemir/ats/precond"
	"github.com/cannsudemir/ats/types"
)

func pairOperator(t *testing.T, krel *field.CompositeVector) *MatrixMFD {
	var m pairMesh
	mm, err := NewMatrixMFD(plist.New("matrix").Set("preconditioner", "ilu"), m, nil)
	require.NoError(t, err)
	mm.SetMassMatrices([][]float64{{1}, {1}})
	require.NoError(t, mm.SymbolicAssemble())
	mm.CreateStiffnessMatrices(krel)
	mm.CreateRHSVectors()
	return mm
}

func TestStiffnessTwoCells(t *testing.T) {
	var m pairMesh
	krel := field.New(m, nil, field.CellComponent)
	copy(krel.ViewComponent(field.CellComponent, false), []float64{2, 3})

	mm := pairOperator(t, krel)
	ws := mm.Workspace()
	assert.Equal(t, []float64{2, 3}, ws.Acc)
	assert.Equal(t, [][]float64{{-2}, {-3}}, ws.Acf)
	assert.Equal(t, [][]float64{{-2}, {-3}}, ws.Afc)
	assert.Equal(t, 2., ws.Aff[0].At(0, 0))
	assert.Equal(t, 3., ws.Aff[1].At(0, 0))

	require.NoError(t, mm.NumericAssemble())
	assert.Equal(t, 5., mm.Dff().At(field.FaceComponent, 0))
	spp := mm.Spp()
	assert.InDelta(t, 1.2, spp.At(0, 0), 1e-15)
	assert.InDelta(t, -1.2, spp.At(0, 1), 1e-15)
	assert.InDelta(t, -1.2, spp.At(1, 0), 1e-15)
	assert.InDelta(t, 1.2, spp.At(1, 1), 1e-15)
}

func TestScalingPolicies(t *testing.T) {
	var m pairMesh
	cellOnly := field.New(m, nil, field.CellComponent)
	copy(cellOnly.ViewComponent(field.CellComponent, false), []float64{2, 3})
	faceOnly := field.New(m, nil, field.FaceComponent)
	faceOnly.ViewComponent(field.FaceComponent, true)[0] = 4
	both := field.New(m, nil, field.CellComponent, field.FaceComponent)
	copy(both.ViewComponent(field.CellComponent, false), []float64{2, 3})
	both.ViewComponent(field.FaceComponent, true)[0] = 4

	for _, tc := range []struct {
		name string
		krel *field.CompositeVector
		acc  []float64
	}{
		{"absent", nil, []float64{1, 1}},
		{"cell", cellOnly, []float64{2, 3}},
		{"face", faceOnly, []float64{4, 4}},
		{"cell and face", both, []float64{8, 12}},
	} {
		mm := pairOperator(t, tc.krel)
		ws := mm.Workspace()
		assert.Equal(t, tc.acc, ws.Acc, tc.name)
		for c := range tc.acc {
			assert.Equal(t, -tc.acc[c], ws.Acf[c][0], tc.name)
			assert.Equal(t, tc.acc[c], ws.Aff[c].At(0, 0), tc.name)
		}
	}
}

func TestWorkspaceIsReplaced(t *testing.T) {
	mm := pairOperator(t, nil)
	first := mm.Workspace()
	mm.CreateStiffnessMatrices(nil)
	assert.NotSame(t, first, mm.Workspace())
	assert.Equal(t, first.Acc, mm.Workspace().Acc)
	assert.Equal(t, 2, mm.Workspace().NumCells())
}

func TestMalformedMesh(t *testing.T) {
	mm := pairOperator(t, nil)
	mm.SetMassMatrices([][]float64{{1, 1}, {1}})
	assert.Panics(t, func() { mm.CreateStiffnessMatrices(nil) })
}

func TestConservation(t *testing.T) {
	g, err := mesh.NewStructured2D(4, 3, 2, 1)
	require.NoError(t, err)
	lm := g.Serial()
	krel := field.New(lm, nil, field.CellComponent)
	krel.PutScalar(0.7)
	mm, err := operator(lm, nil, "ilu", krel)
	require.NoError(t, err)
	require.NoError(t, mm.NumericAssemble())

	spp := mm.Spp()
	n := spp.NumRows()
	for i := 0; i < n; i++ {
		cols, vals := spp.Row(i)
		var sum float64
		for k, j := range cols {
			sum += vals[k]
			assert.InDelta(t, vals[k], spp.At(j, i), 1e-14, "symmetry (%d,%d)", i, j)
			if j != i {
				assert.LessOrEqual(t, vals[k], 0.)
			}
		}
		assert.InDelta(t, 0, sum, 1e-13, "row %d", i)
	}

	// Constant fields are in the null space, others have positive energy
	x := field.New(lm, nil, field.CellComponent, field.FaceComponent)
	y := x.Clone()
	x.PutScalar(3)
	require.NoError(t, mm.Apply(x, y))
	norm, err := y.NormInf()
	require.NoError(t, err)
	assert.InDelta(t, 0, norm, 1e-12)

	xc := x.ViewComponent(field.CellComponent, false)
	for i := range xc {
		xc[i] = math.Sin(float64(3 * i))
	}
	require.NoError(t, mm.Apply(x, y))
	energy, err := x.Dot(y)
	require.NoError(t, err)
	assert.Greater(t, energy, 0.)
}

func TestNumericAssembleIsIdempotent(t *testing.T) {
	g, err := mesh.NewStructured2D(3, 3, 1, 1)
	require.NoError(t, err)
	lm := g.Serial()
	mm, err := operator(lm, nil, "ilu", cellKrel(lm, nil))
	require.NoError(t, err)
	markers, values := leftRightDirichlet(lm, 1, 1, 0)
	mm.ApplyBoundaryConditions(markers, values)

	require.NoError(t, mm.NumericAssemble())
	first := append([]float64(nil), mm.Spp().Values()...)
	rhs := mm.RHS().Clone()
	require.NoError(t, mm.NumericAssemble())
	assert.Equal(t, first, mm.Spp().Values())
	assert.Equal(t, rhs.ViewComponent(field.CellComponent, true), mm.RHS().ViewComponent(field.CellComponent, true))
	assert.Equal(t, rhs.ViewComponent(field.FaceComponent, true), mm.RHS().ViewComponent(field.FaceComponent, true))
}

func TestFaceRecoveryRoundTrip(t *testing.T) {
	g, err := mesh.NewStructured2D(3, 2, 1, 1)
	require.NoError(t, err)
	lm := g.Serial()
	mm, err := operator(lm, nil, "ilu", nil)
	require.NoError(t, err)
	nfaces := lm.NumFaces(mesh.Owned)
	for c := 0; c < lm.NumCells(mesh.Owned); c++ {
		faces, _ := lm.CellGetFacesAndDirs(c)
		for n, f := range faces {
			mm.ff[c][n] = float64(f + 1)
		}
	}
	require.NoError(t, mm.AssembleRHS())
	faceRHS := append([]float64(nil), mm.RHS().ViewComponent(field.FaceComponent, false)...)
	require.NoError(t, mm.NumericAssemble())
	// The reduction leaves the face load untouched
	assert.Equal(t, faceRHS, mm.RHS().ViewComponent(field.FaceComponent, false))

	u := field.New(lm, nil, field.CellComponent, field.FaceComponent)
	require.NoError(t, mm.UpdateConsistentFaceConstraints(u))
	uf := u.ViewComponent(field.FaceComponent, false)
	dff := mm.Dff().ViewComponent(field.FaceComponent, false)
	require.Len(t, uf, nfaces)
	for f := range uf {
		assert.InDelta(t, faceRHS[f], uf[f]*dff[f], 1e-12)
	}
}

func TestApplyInverse(t *testing.T) {
	g, err := mesh.NewStructured2D(5, 1, 1, 1)
	require.NoError(t, err)
	lm := g.Serial()
	mm, err := operator(lm, nil, "ilu", nil)
	require.NoError(t, err)

	x := field.New(lm, nil, field.CellComponent, field.FaceComponent)
	assert.True(t, errors.Is(mm.Apply(x, x), ErrNotAssembled))
	assert.True(t, errors.Is(mm.ApplyInverse(x, x), ErrNotAssembled))
	assert.Error(t, mm.UpdatePreconditioner())

	markers, values := leftRightDirichlet(lm, 1, 1, 0)
	mm.ApplyBoundaryConditions(markers, values)
	require.NoError(t, mm.NumericAssemble())
	require.NoError(t, mm.UpdatePreconditioner())

	xc := x.ViewComponent(field.CellComponent, false)
	xf := x.ViewComponent(field.FaceComponent, false)
	for i := range xc {
		xc[i] = float64(i + 1)
	}
	for f := range xf {
		xf[f] = -float64(f)
	}
	y := x.Clone()
	require.NoError(t, mm.ApplyInverse(x, y))
	assert.Equal(t, xf, y.ViewComponent(field.FaceComponent, false))

	// ILU is exact on a chain of cells, so A A^-1 x = x
	z := x.Clone()
	require.NoError(t, mm.Apply(y, z))
	for i := range xc {
		assert.InDelta(t, xc[i], z.At(field.CellComponent, i), 1e-12)
	}
	for _, v := range z.ViewComponent(field.FaceComponent, false) {
		assert.Equal(t, 0., v)
	}

	// In place
	w := x.Clone()
	require.NoError(t, mm.ApplyInverse(w, w))
	assert.Equal(t, y.ViewComponent(field.CellComponent, false), w.ViewComponent(field.CellComponent, false))
}

func TestUnknownPreconditioner(t *testing.T) {
	_, err := NewMatrixMFD(plist.New("matrix").Set("preconditioner", "gmres"), pairMesh{}, nil)
	assert.True(t, errors.Is(err, precond.ErrUnknownMethod))

	mm, err := NewMatrixMFD(plist.New("matrix").Set("preconditioner", "HYPRE AMG"), pairMesh{}, nil)
	require.NoError(t, err)
	bad := plist.New("prec").Set("HYPRE AMG Parameters", "nope")
	assert.True(t, errors.Is(mm.InitPreconditioner(bad), plist.ErrBadParameter))
}

func TestDirichletSolve(t *testing.T) {
	const nx = 6
	g, err := mesh.NewStructured2D(nx, 1, 1, 1)
	require.NoError(t, err)
	lm := g.Serial()
	mm, err := operator(lm, nil, "ilu", nil)
	require.NoError(t, err)

	u := field.New(lm, nil, field.CellComponent, field.FaceComponent)
	flux := make([]float64, lm.NumFaces(mesh.Owned))

	markers, values := leftRightDirichlet(lm, 1, 1, 0)
	mm.ApplyBoundaryConditions(markers, values)
	require.NoError(t, mm.NumericAssemble())
	require.NoError(t, mm.UpdatePreconditioner())
	require.NoError(t, mm.ApplyInverse(mm.RHS(), u))
	require.NoError(t, mm.UpdateConsistentFaceConstraints(u))

	for c := 0; c < nx; c++ {
		x := lm.CellCentroid(c).X
		assert.InDelta(t, 1-x, u.At(field.CellComponent, c), 1e-12)
	}
	for f := 0; f < lm.NumFaces(mesh.Owned); f++ {
		x := lm.FaceCentroid(f).X
		assert.InDelta(t, 1-x, u.At(field.FaceComponent, f), 1e-12)
	}
	r := u.Clone()
	require.NoError(t, mm.ComputeResidual(u, r))
	res, err := r.NormInf()
	require.NoError(t, err)
	assert.InDelta(t, 0, res, 1e-12)

	// Fluxes come from the operator without boundary conditions
	mm.CreateStiffnessMatrices(nil)
	require.NoError(t, mm.DeriveFlux(u, flux))
	for f := 0; f < lm.NumFaces(mesh.Owned); f++ {
		n := lm.FaceNormal(f)
		assert.InDelta(t, n.X*lm.FaceArea(f), flux[f], 1e-12, "face %d", f)
	}
}

func TestSourceAndFluxBoundary(t *testing.T) {
	g, err := mesh.NewStructured2D(4, 1, 1, 1)
	require.NoError(t, err)
	lm := g.Serial()
	mm, err := operator(lm, nil, "ilu", nil)
	require.NoError(t, err)
	markers, values := leftRightDirichlet(lm, 1, 0, 0)
	for _, f := range lm.BoundaryFacesWhere(func(x r3.Vec) bool { return x.X > 1-1e-12 }) {
		markers[f], values[f] = types.BC_Flux, -0.5 // Inflow through the right face
	}
	for c := 0; c < 4; c++ {
		mm.AddCellSource(c, 1)
	}
	mm.ApplyBoundaryConditions(markers, values)
	require.NoError(t, mm.NumericAssemble())
	require.NoError(t, mm.UpdatePreconditioner())
	u := field.New(lm, nil, field.CellComponent, field.FaceComponent)
	require.NoError(t, mm.ApplyInverse(mm.RHS(), u))
	require.NoError(t, mm.UpdateConsistentFaceConstraints(u))
	r := u.Clone()
	require.NoError(t, mm.ComputeResidual(u, r))
	res, err := r.NormInf()
	require.NoError(t, err)
	assert.InDelta(t, 0, res, 1e-12)

	// All of the source and the inflow leave through the left face
	mm.CreateStiffnessMatrices(nil)
	flux := make([]float64, lm.NumFaces(mesh.Owned))
	require.NoError(t, mm.DeriveFlux(u, flux))
	left := lm.BoundaryFacesWhere(func(x r3.Vec) bool { return x.X < 1e-12 })
	require.Len(t, left, 1)
	assert.InDelta(t, 1.5, -flux[left[0]]*lm.FaceNormal(left[0]).X, 1e-12)
}

func TestParallelAssemblyMatchesSerial(t *testing.T) {
	g, err := mesh.NewStructured2D(5, 4, 1, 1)
	require.NoError(t, err)

	assemble := func(nranks int) *rows {
		out := newRows()
		locals := mesh.Partition(g, nranks)
		err := comm.Run(nranks, func(c *comm.Comm) error {
			lm := locals[c.Rank()]
			mm, err := operator(lm, c, "ilu", cellKrel(lm, c))
			if err != nil {
				return err
			}
			markers, values := leftRightDirichlet(lm, 1, 1, 0)
			mm.ApplyBoundaryConditions(markers, values)
			if err = mm.NumericAssemble(); err != nil {
				return err
			}
			out.collect(mm)
			return nil
		})
		require.NoError(t, err)
		return out
	}

	serial := assemble(1)
	for _, nranks := range []int{2, 3, 4} {
		par := assemble(nranks)
		require.Equal(t, len(serial.values), len(par.values), "%d ranks", nranks)
		for key, v := range serial.values {
			assert.InDelta(t, v, par.values[key], 1e-13, "%d ranks, entry %v", nranks, key)
		}
		for gid, copies := range par.dff {
			for _, v := range copies {
				assert.InDelta(t, serial.dff[gid][0], v, 1e-13, "%d ranks, Dff of face %d", nranks, gid)
			}
		}
	}
}

func TestParallelJacobianMatchesSerial(t *testing.T) {
	g, err := mesh.NewStructured2D(5, 4, 1, 1)
	require.NoError(t, err)

	jacobian := func(nranks int) *rows {
		out := newRows()
		locals := mesh.Partition(g, nranks)
		err := comm.Run(nranks, func(c *comm.Comm) error {
			lm := locals[c.Rank()]
			krel := cellKrel(lm, c)
			mm, err := operator(lm, c, "ilu", krel)
			if err != nil {
				return err
			}
			markers, values := leftRightDirichlet(lm, 1, 1, 0)
			mm.ApplyBoundaryConditions(markers, values)
			if err = mm.NumericAssemble(); err != nil {
				return err
			}
			var (
				names     = []string{field.CellComponent, field.FaceComponent}
				height    = field.New(lm, c, names...)
				potential = field.New(lm, c, names...)
				dkrel     = field.New(lm, c, names...)
				pc        = potential.ViewComponent(field.CellComponent, true)
				pf        = potential.ViewComponent(field.FaceComponent, true)
				kc        = krel.ViewComponent(field.CellComponent, true)
				dc        = dkrel.ViewComponent(field.CellComponent, true)
			)
			height.PutScalar(0.1)
			for i := range pc {
				x := lm.CellCentroid(i)
				pc[i] = 2 - x.X + 0.3*x.Y*x.Y
				dc[i] = -0.5 * kc[i]
			}
			for f := range pf {
				x := lm.FaceCentroid(f)
				pf[f] = 2 - x.X + 0.3*x.Y*x.Y
			}
			if err = mm.AnalyticJacobian(height, potential, krel, dkrel, krel, dkrel); err != nil {
				return err
			}
			out.collect(mm)
			return nil
		})
		require.NoError(t, err)
		return out
	}

	serial := jacobian(1)
	for _, nranks := range []int{2, 3, 4} {
		par := jacobian(nranks)
		require.Equal(t, len(serial.values), len(par.values), "%d ranks", nranks)
		for key, v := range serial.values {
			assert.InDelta(t, v, par.values[key], 1e-12, "%d ranks, entry %v", nranks, key)
		}
	}
}

func TestParallelFaceRecoveryMatchesSerial(t *testing.T) {
	g, err := mesh.NewStructured2D(5, 4, 1, 1)
	require.NoError(t, err)

	// Face values of the constraint and correction recoveries, by face GID
	type recovered struct {
		mu                     sync.Mutex
		constraint, correction map[int]float64
	}
	recoverFaces := func(nranks int) *recovered {
		out := &recovered{constraint: make(map[int]float64), correction: make(map[int]float64)}
		locals := mesh.Partition(g, nranks)
		err := comm.Run(nranks, func(c *comm.Comm) error {
			lm := locals[c.Rank()]
			mm, err := operator(lm, c, "ilu", cellKrel(lm, c))
			if err != nil {
				return err
			}
			for i := 0; i < lm.NumCells(mesh.Owned); i++ {
				mm.AddCellSource(i, 1+0.1*float64(lm.CellGID(i)))
			}
			markers, values := leftRightDirichlet(lm, 1, 1, 0)
			mm.ApplyBoundaryConditions(markers, values)
			if err = mm.NumericAssemble(); err != nil {
				return err
			}
			var (
				u  = field.New(lm, c, field.CellComponent, field.FaceComponent)
				r  = u.Clone()
				pu = u.Clone()
				uc = u.ViewComponent(field.CellComponent, false)
				rf = r.ViewComponent(field.FaceComponent, false)
				pc = pu.ViewComponent(field.CellComponent, false)
			)
			for i := range uc {
				gid := float64(lm.CellGID(i))
				uc[i] = math.Sin(gid)
				pc[i] = math.Cos(gid)
			}
			for f := range rf {
				rf[f] = 0.5 + 0.01*float64(lm.FaceGID(f))
			}
			if err = mm.UpdateConsistentFaceConstraints(u); err != nil {
				return err
			}
			if err = mm.UpdateConsistentFaceCorrection(r, pu); err != nil {
				return err
			}
			out.mu.Lock()
			defer out.mu.Unlock()
			uf := u.ViewComponent(field.FaceComponent, false)
			pf := pu.ViewComponent(field.FaceComponent, false)
			for f := range uf {
				out.constraint[lm.FaceGID(f)] = uf[f]
				out.correction[lm.FaceGID(f)] = pf[f]
			}
			return nil
		})
		require.NoError(t, err)
		return out
	}

	serial := recoverFaces(1)
	require.Len(t, serial.constraint, g.NumFaces())
	for _, nranks := range []int{2, 3, 4} {
		par := recoverFaces(nranks)
		require.Len(t, par.constraint, g.NumFaces(), "%d ranks", nranks)
		for gid, v := range serial.constraint {
			assert.InDelta(t, v, par.constraint[gid], 1e-12, "%d ranks, face %d", nranks, gid)
			assert.InDelta(t, serial.correction[gid], par.correction[gid], 1e-12, "%d ranks, face %d", nranks, gid)
		}
	}
}

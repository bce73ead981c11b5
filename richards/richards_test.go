package richards

import (
	"errors"
	"log"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cannsudemir/ats/comm"
	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
	"github.com/cannsudemir/ats/plist"
	"github.com/cannsudemir/ats/types"
)

const pref = 101325.

func testWRM(t *testing.T) VanGenuchten {
	vg, err := NewVanGenuchten(1.5e-4, 1.8, 0.1, pref)
	require.NoError(t, err)
	return vg
}

func TestVanGenuchten(t *testing.T) {
	vg := testWRM(t)
	assert.InDelta(t, 1-1/1.8, vg.M, 1e-15)
	assert.Equal(t, 1., vg.Saturation(pref+10))
	assert.Equal(t, 1., vg.Krel(pref+10))
	assert.Equal(t, 0., vg.DKrelDp(pref+10))

	var last = 1.
	for _, pc := range []float64{100, 1000, 5000, 20000, 1e5} {
		s, k := vg.Saturation(pref-pc), vg.Krel(pref-pc)
		assert.True(t, s > vg.Sr && s < 1, "saturation %g at pc %g", s, pc)
		assert.Less(t, k, last)
		last = k

		// Drier is less permeable, so krel grows with pressure
		const h = 1e-3
		fd := (vg.Krel(pref-pc+h) - vg.Krel(pref-pc-h)) / (2 * h)
		assert.InEpsilon(t, fd, vg.DKrelDp(pref-pc), 1e-5, "pc %g", pc)
		assert.Greater(t, vg.DKrelDp(pref-pc), 0.)
	}

	_, err := NewVanGenuchten(1e-4, 1, 0, pref)
	assert.True(t, errors.Is(err, plist.ErrBadParameter))
	_, err = NewVanGenuchtenFromList(plist.New("wrm").Set("residual saturation", 1.5))
	assert.True(t, errors.Is(err, plist.ErrBadParameter))
	fromList, err := NewVanGenuchtenFromList(nil)
	require.NoError(t, err)
	assert.Equal(t, 1.8, fromList.N)
}

func column(t *testing.T, nx int) *mesh.Local {
	g, err := mesh.NewStructured2D(nx, 1, 1, 1)
	require.NoError(t, err)
	return g.Serial()
}

func dirichletEnds(lm *mesh.Local, left, right float64) (markers []types.MatrixBC, values []float64) {
	n := lm.NumFaces(mesh.Used)
	markers, values = make([]types.MatrixBC, n), make([]float64, n)
	for _, f := range lm.BoundaryFacesWhere(func(x r3.Vec) bool { return x.X < 1e-12 }) {
		markers[f], values[f] = types.BC_Dirichlet, left
	}
	for _, f := range lm.BoundaryFacesWhere(func(x r3.Vec) bool { return x.X > 1-1e-12 }) {
		markers[f], values[f] = types.BC_Dirichlet, right
	}
	return
}

func parameters(jacobian bool, maxIters int) *plist.ParameterList {
	pl := plist.New("flow").
		Set("max iterations", maxIters).
		Set("tolerance", 1e-6).
		Set("use full jacobian", jacobian)
	pl.Set("Diffusion PC", map[string]interface{}{"preconditioner": "ilu"})
	return pl
}

func TestUpdatePermeability(t *testing.T) {
	lm := column(t, 3)
	ss, err := NewSteadyState(parameters(false, 10), lm, nil, testWRM(t), nil, nil)
	require.NoError(t, err)

	u := field.New(lm, nil, field.CellComponent, field.FaceComponent)
	copy(u.ViewComponent(field.CellComponent, false), []float64{pref - 1000, pref - 1000, pref - 500})
	require.NoError(t, ss.UpdatePermeability(u))

	kc := ss.krel.ViewComponent(field.CellComponent, false)
	up := ss.upwind.ViewComponent(field.FaceComponent, false)
	for f := range up {
		cells := lm.FaceGetCells(f)
		if len(cells) == 1 {
			assert.Equal(t, kc[cells[0]], up[f])
			assert.Equal(t, kc[cells[0]], ss.krelCell.At(field.FaceComponent, f))
			continue
		}
		lo, hi := cells[0], cells[1]
		if lm.CellGID(hi) < lm.CellGID(lo) {
			lo, hi = hi, lo
		}
		switch {
		case lm.CellGID(lo) == 0: // Tie, lower id wins
			assert.Equal(t, kc[lo], up[f])
		default: // Higher pressure on cell 2
			assert.Equal(t, kc[hi], up[f])
		}
	}
	assert.Greater(t, kc[2], kc[0])
}

func TestSaturatedColumn(t *testing.T) {
	lm := column(t, 6)
	var buf strings.Builder
	ss, err := NewSteadyState(parameters(false, 5), lm, nil, testWRM(t), nil, log.New(&buf, "", 0))
	require.NoError(t, err)
	require.NoError(t, ss.SetBoundaryConditions(dirichletEnds(lm, pref+2, pref+1)))

	u := field.New(lm, nil, field.CellComponent, field.FaceComponent)
	u.PutScalar(pref + 1.5)
	iters, err := ss.Solve(u)
	require.NoError(t, err)
	// A linear problem with an exact preconditioner needs one correction
	assert.LessOrEqual(t, iters, 2)
	for c := 0; c < lm.NumCells(mesh.Owned); c++ {
		assert.InDelta(t, pref+2-lm.CellCentroid(c).X, u.At(field.CellComponent, c), 1e-8)
	}
	assert.Contains(t, buf.String(), "iteration   0")
}

func unsaturated(t *testing.T, jacobian bool, maxIters int) (u *field.CompositeVector, iters int, lm *mesh.Local) {
	lm = column(t, 8)
	ss, err := NewSteadyState(parameters(jacobian, maxIters), lm, nil, testWRM(t), nil, nil)
	require.NoError(t, err)
	require.NoError(t, ss.SetBoundaryConditions(dirichletEnds(lm, pref-2000, pref-3000)))
	u = field.New(lm, nil, field.CellComponent, field.FaceComponent)
	u.PutScalar(pref - 2500)
	iters, err = ss.Solve(u)
	require.NoError(t, err)
	return
}

func TestUnsaturatedColumn(t *testing.T) {
	picard, picardIters, lm := unsaturated(t, false, 100)
	newton, newtonIters, _ := unsaturated(t, true, 30)
	assert.LessOrEqual(t, newtonIters, picardIters)

	pc := picard.ViewComponent(field.CellComponent, false)
	for c := range pc {
		assert.InDelta(t, pc[c], newton.At(field.CellComponent, c), 1e-4)
		if c > 0 {
			assert.Less(t, pc[c], pc[c-1], "pressure decreases towards the dry end")
		}
	}
	// The wetter half carries the same flux with a smaller gradient
	left := pc[0] - pc[1]
	right := pc[len(pc)-2] - pc[len(pc)-1]
	assert.Less(t, left, right)
	assert.Equal(t, 8, lm.NumCells(mesh.Owned))
}

func TestSolveFailure(t *testing.T) {
	lm := column(t, 4)
	ss, err := NewSteadyState(parameters(false, 0), lm, nil, testWRM(t), nil, nil)
	require.NoError(t, err)
	require.NoError(t, ss.SetBoundaryConditions(dirichletEnds(lm, pref-2000, pref-3000)))
	u := field.New(lm, nil, field.CellComponent, field.FaceComponent)
	_, err = ss.Solve(u)
	assert.True(t, errors.Is(err, ErrNotConverged))

	assert.Error(t, ss.SetBoundaryConditions(nil, nil))
	_, err = NewSteadyState(plist.New("flow").Set("damping", 2.), lm, nil, testWRM(t), nil, nil)
	assert.True(t, errors.Is(err, plist.ErrBadParameter))
}

func TestParallelResidual(t *testing.T) {
	g, err := mesh.NewStructured2D(6, 3, 1, 1)
	require.NoError(t, err)
	vg := testWRM(t)

	pressure := func(x r3.Vec) float64 { return pref - 1000 - 2000*x.X + 300*math.Sin(3*x.Y) }
	residual := func(nranks int) map[int]float64 {
		var (
			mu     sync.Mutex
			out    = make(map[int]float64)
			locals = mesh.Partition(g, nranks)
		)
		err := comm.Run(nranks, func(c *comm.Comm) error {
			lm := locals[c.Rank()]
			ss, err := NewSteadyState(parameters(false, 1), lm, c, vg, nil, nil)
			if err != nil {
				return err
			}
			if err = ss.SetBoundaryConditions(dirichletEnds(lm, pref-1000, pref-3000)); err != nil {
				return err
			}
			q := make([]float64, lm.NumCells(mesh.Owned))
			for i := range q {
				q[i] = 1e-3 * float64(lm.CellGID(i)%3)
			}
			ss.SetSource(q)
			u := field.New(lm, c, field.CellComponent, field.FaceComponent)
			uc := u.ViewComponent(field.CellComponent, false)
			for i := range uc {
				uc[i] = pressure(lm.CellCentroid(i))
			}
			uf := u.ViewComponent(field.FaceComponent, false)
			for f := range uf {
				uf[f] = pressure(lm.FaceCentroid(f))
			}
			r := u.Clone()
			if err = ss.Residual(u, r); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for i, v := range r.ViewComponent(field.CellComponent, false) {
				out[lm.CellGID(i)] = v
			}
			for f, v := range r.ViewComponent(field.FaceComponent, false) {
				out[-1-lm.FaceGID(f)] = v
			}
			return nil
		})
		require.NoError(t, err)
		return out
	}

	serial := residual(1)
	for _, nranks := range []int{2, 3} {
		par := residual(nranks)
		require.Len(t, par, len(serial))
		for key, v := range serial {
			assert.InDelta(t, v, par[key], 1e-7, "%d ranks, entry %d", nranks, key)
		}
	}
}

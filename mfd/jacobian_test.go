package mfd

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
)

func TestUpwindMobility(t *testing.T) {
	var (
		krel  = [2]float64{2, 6}
		dkrel = [2]float64{0.5, 0.25}
	)
	t.Run("outright upwind", func(t *testing.T) {
		k, dk, param := UpwindMobility(2, [2]float64{1, 1}, [2]float64{3, 0}, krel, dkrel)
		assert.Equal(t, 2., k)
		assert.Equal(t, [2]float64{0.5, 0}, dk)
		assert.Equal(t, 0., param)
		k, dk, param = UpwindMobility(2, [2]float64{1, 1}, [2]float64{0, 3}, krel, dkrel)
		assert.Equal(t, 6., k)
		assert.Equal(t, [2]float64{0, 0.25}, dk)
		assert.Equal(t, 1., param)
	})
	t.Run("blend", func(t *testing.T) {
		// eps is the harmonic combination of the heights, 0.5 here
		k, dk, param := UpwindMobility(2, [2]float64{1, 1}, [2]float64{0.25, 0}, krel, dkrel)
		assert.InDelta(t, 0.25, param, 1e-15)
		assert.InDelta(t, 0.25*6+0.75*2, k, 1e-15)
		assert.InDelta(t, 0.75*0.5, dk[0], 1e-15)
		assert.InDelta(t, 0.25*0.25, dk[1], 1e-15)
	})
	t.Run("threshold midpoint", func(t *testing.T) {
		k, _, param := UpwindMobility(2, [2]float64{0, 0}, [2]float64{1e-16, 0}, krel, dkrel)
		assert.Equal(t, 0.5, param)
		assert.Equal(t, 4., k)
	})
	t.Run("negative heights are dry", func(t *testing.T) {
		_, _, param := UpwindMobility(2, [2]float64{-1, 2}, [2]float64{0, 0}, krel, dkrel)
		assert.Equal(t, 0.5, param)
	})
	t.Run("boundary", func(t *testing.T) {
		k, dk, param := UpwindMobility(1, [2]float64{1, 1}, [2]float64{1, 1}, krel, dkrel)
		assert.Equal(t, 2., k)
		assert.Equal(t, [2]float64{0.5, 0}, dk)
		assert.Equal(t, 0., param)
		k, dk, param = UpwindMobility(1, [2]float64{1, 1}, [2]float64{0, 1}, krel, dkrel)
		assert.Equal(t, 6., k)
		assert.Equal(t, [2]float64{0, 0}, dk)
		assert.Equal(t, 1., param)
	})
}

func TestComputeJacobianLocal(t *testing.T) {
	var (
		height    = [2]float64{0.3, 0.7}
		potential = [2]float64{1.1, 1.0}
		krel      = [2]float64{0.4, 0.9}
		dkrel     = [2]float64{0.2, 0.1}
		krelCell  = [2]float64{0.5, 0.8}
		dkrelCell = [2]float64{0.3, 0.6}
	)
	J := ComputeJacobianLocal(2, 2, 0.5, height, potential, krel, dkrel, krelCell, dkrelCell)
	assert.Equal(t, -J[0][0], J[1][0])
	assert.Equal(t, -J[0][1], J[1][1])
	assert.NotZero(t, J[0][0])

	Jb := ComputeJacobianLocal(1, 2, 0.5, height, potential, krel, dkrel, krelCell, dkrelCell)
	assert.NotZero(t, Jb[0][0])
	assert.Zero(t, Jb[0][1])
	assert.Zero(t, Jb[1][0])
	assert.Zero(t, Jb[1][1])

	zero := ComputeJacobianLocal(2, 2, 0.5, height, potential, [2]float64{}, [2]float64{}, krelCell, [2]float64{})
	assert.Equal(t, [2][2]float64{}, zero)
}

func TestAnalyticJacobian(t *testing.T) {
	g, err := mesh.NewStructured2D(4, 3, 1, 1)
	require.NoError(t, err)
	lm := g.Serial()
	mm, err := operator(lm, nil, "ilu", cellKrel(lm, nil))
	require.NoError(t, err)

	var (
		names     = []string{field.CellComponent, field.FaceComponent}
		height    = field.New(lm, nil, names...)
		potential = field.New(lm, nil, names...)
		krel      = field.New(lm, nil, names...)
		dkrel     = field.New(lm, nil, names...)
	)
	// Jacobian assembly fails before the operator is assembled
	assert.True(t, errors.Is(mm.AnalyticJacobian(height, potential, krel, dkrel, krel, dkrel), ErrNotAssembled))

	require.NoError(t, mm.NumericAssemble())
	before := append([]float64(nil), mm.Spp().Values()...)

	height.PutScalar(0.1)
	pc := potential.ViewComponent(field.CellComponent, true)
	kc := krel.ViewComponent(field.CellComponent, true)
	dc := dkrel.ViewComponent(field.CellComponent, true)
	for c := range pc {
		x := lm.CellCentroid(c)
		pc[c] = 2 - x.X + 0.3*x.Y*x.Y
		kc[c] = math.Exp(-pc[c])
		dc[c] = -kc[c]
	}
	// Boundary potentials equal their cell, so boundary blocks vanish
	pf := potential.ViewComponent(field.FaceComponent, true)
	kf := krel.ViewComponent(field.FaceComponent, true)
	for f := range pf {
		if cells := lm.FaceGetCells(f); len(cells) == 1 {
			pf[f], kf[f] = pc[cells[0]], kc[cells[0]]
		}
	}
	require.NoError(t, mm.AnalyticJacobian(height, potential, krel, dkrel, krel, dkrel))
	assert.True(t, mm.IsAssembled())

	spp := mm.Spp()
	colsum := make(map[int]float64)
	var changed bool
	for i := 0; i < spp.NumRows(); i++ {
		cols, vals := spp.Row(i)
		for k, j := range cols {
			d := vals[k] - before[spp.Graph().RowPtr()[i]+k]
			colsum[j] += d
			if d != 0 {
				changed = true
			}
		}
	}
	assert.True(t, changed)
	for j, s := range colsum {
		assert.InDelta(t, 0, s, 1e-13, "column %d", j)
	}
}

func TestAnalyticJacobianZeroMobility(t *testing.T) {
	g, err := mesh.NewStructured2D(3, 2, 1, 1)
	require.NoError(t, err)
	lm := g.Serial()
	mm, err := operator(lm, nil, "ilu", nil)
	require.NoError(t, err)
	require.NoError(t, mm.NumericAssemble())
	before := append([]float64(nil), mm.Spp().Values()...)

	names := []string{field.CellComponent, field.FaceComponent}
	potential := field.New(lm, nil, names...)
	pc := potential.ViewComponent(field.CellComponent, true)
	for c := range pc {
		pc[c] = float64(c)
	}
	zero := field.New(lm, nil, names...)
	ones := field.New(lm, nil, names...)
	ones.PutScalar(1)
	require.NoError(t, mm.AnalyticJacobian(ones, potential, zero, zero, ones, zero))
	assert.Equal(t, before, mm.Spp().Values())
}

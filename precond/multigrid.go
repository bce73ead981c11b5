package precond

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// smoother relaxes A x = b in place for one sweep.
type smoother func(lv *level, x, b []float64)

type level struct {
	A    *sparse.CSR
	m    csr
	diag []float64
	P, R *sparse.CSR // Interpolation from the next coarser level and its transpose

	x, b, r []float64
}

// hierarchy is the level structure shared by the multigrid preconditioners.
type hierarchy struct {
	levels []*level
	coarse mat.LU
	smooth smoother
	sweeps int
}

// coarsen returns the interpolation operator of a level, or nil when the
// level can not be coarsened further.
type coarsen func(lv *level) (P *sparse.CSR, err error)

func buildHierarchy(A *sparse.CSR, maxLevels, coarseSize int, next coarsen) (h *hierarchy, err error) {
	h = &hierarchy{}
	for {
		lv := &level{A: A}
		if lv.m, err = view(A); err != nil {
			return
		}
		lv.diag = lv.m.diagonal()
		n := lv.m.n
		lv.x, lv.b, lv.r = make([]float64, n), make([]float64, n), make([]float64, n)
		h.levels = append(h.levels, lv)
		if len(h.levels) >= maxLevels || n <= coarseSize {
			break
		}
		var P *sparse.CSR
		if P, err = next(lv); err != nil {
			return
		}
		if P == nil {
			break
		}
		if _, nc := P.Dims(); nc == 0 || nc >= n {
			break
		}
		lv.P, lv.R = P, transpose(P)
		AP := &sparse.CSR{}
		AP.Mul(A, P)
		Ac := &sparse.CSR{}
		Ac.Mul(lv.R, AP)
		A = Ac
	}
	// Dense LU on the coarsest level
	last := h.levels[len(h.levels)-1]
	h.coarse.Factorize(mat.DenseCopyOf(last.A))
	if cond := h.coarse.Cond(); math.IsInf(cond, 1) || cond > 1/1e-15 {
		return nil, fmt.Errorf("coarse matrix of size %d is singular (condition %g): %w", last.m.n, cond, ErrBuild)
	}
	return
}

// vcycle improves the solution x of level l in place.
func (h *hierarchy) vcycle(l int, x, b []float64) (err error) {
	lv := h.levels[l]
	if l == len(h.levels)-1 {
		var xv mat.VecDense
		if err = h.coarse.SolveVecTo(&xv, false, mat.NewVecDense(len(b), append([]float64(nil), b...))); err != nil {
			return fmt.Errorf("coarse solve: %w", ErrApply)
		}
		copy(x, xv.RawVector().Data)
		return
	}
	for s := 0; s < h.sweeps; s++ {
		h.smooth(lv, x, b)
	}
	residual(lv, x, b, lv.r)
	next := h.levels[l+1]
	for i := range next.b {
		next.b[i], next.x[i] = 0, 0
	}
	lv.R.MulVecTo(next.b, false, lv.r)
	if err = h.vcycle(l+1, next.x, next.b); err != nil {
		return
	}
	for i := range lv.r {
		lv.r[i] = 0
	}
	lv.P.MulVecTo(lv.r, false, next.x)
	floats.Add(x, lv.r)
	for s := 0; s < h.sweeps; s++ {
		h.smooth(lv, x, b)
	}
	return
}

// cycle runs up to ncycles V-cycles from a zero guess, stopping early once
// the relative residual drops below tol.
func (h *hierarchy) cycle(ncycles int, tol float64, x, y []float64) (err error) {
	var (
		fine = h.levels[0]
		bn   = floats.Norm(x, 2)
		b    = append([]float64(nil), x...) // x and y may alias
	)
	for i := range y {
		y[i] = 0
	}
	if bn == 0 {
		return
	}
	for c := 0; c < ncycles; c++ {
		if err = h.vcycle(0, y, b); err != nil {
			return
		}
		if tol > 0 {
			residual(fine, y, b, fine.r)
			if floats.Norm(fine.r, 2) <= tol*bn {
				break
			}
		}
	}
	return
}

func residual(lv *level, x, b, r []float64) {
	for i := range r {
		r[i] = 0
	}
	lv.A.MulVecTo(r, false, x)
	floats.SubTo(r, b, r)
}

// jacobi is a damped Jacobi sweep.
func jacobi(omega float64) smoother {
	return func(lv *level, x, b []float64) {
		residual(lv, x, b, lv.r)
		for i := range x {
			x[i] += omega * lv.r[i] / lv.diag[i]
		}
	}
}

// symmetricGaussSeidel is one forward and one backward Gauss-Seidel sweep.
func symmetricGaussSeidel(lv *level, x, b []float64) {
	m := lv.m
	relax := func(i int) {
		sum := b[i]
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			if j := m.ind[k]; j != i {
				sum -= m.data[k] * x[j]
			}
		}
		x[i] = sum / lv.diag[i]
	}
	for i := 0; i < m.n; i++ {
		relax(i)
	}
	for i := m.n - 1; i >= 0; i-- {
		relax(i)
	}
}

func checkDiagonal(lv *level) error {
	for i, d := range lv.diag {
		if d == 0 {
			return fmt.Errorf("zero diagonal in row %d: %w", i, ErrBuild)
		}
	}
	return nil
}

func transpose(A *sparse.CSR) *sparse.CSR {
	r, c := A.Dims()
	raw := A.RawMatrix()
	T := sparse.NewDOK(c, r)
	for i := 0; i < r; i++ {
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			T.Set(raw.Ind[k], i, raw.Data[k])
		}
	}
	return T.ToCSR()
}

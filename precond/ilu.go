package precond

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/sparse"

	"github.com/cannsudemir/ats/plist"
)

func init() {
	register("ilu", "ILU Parameters", func() Preconditioner { return &ILU{} })
	register("euclid", "HYPRE Euclid Parameters", func() Preconditioner { return &Euclid{} })
}

// iluFactor holds L (unit lower, strictly below the diagonal) and U (upper,
// diagonal included) in one row-wise store.
type iluFactor struct {
	n      int
	indptr []int
	ind    []int
	data   []float64
	level  []int
	diag   []int // Position of the diagonal in each row
}

type iluOptions struct {
	levelOfFill int
	relax       float64 // Fraction of dropped fill added to the diagonal
	dropTol     float64 // Relative to the row norm of A
}

func factorILU(m csr, opt iluOptions) (f *iluFactor, err error) {
	var (
		n     = m.n
		w     = make([]float64, n)
		lev   = make([]int, n)
		inRow = make([]bool, n)
	)
	f = &iluFactor{n: n, indptr: make([]int, n+1), diag: make([]int, n)}
	for i := 0; i < n; i++ {
		var (
			cols    []int
			rowNorm float64
			dropped float64
		)
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			j := m.ind[k]
			if !inRow[j] {
				inRow[j] = true
				cols = append(cols, j)
				w[j], lev[j] = 0, 0
			}
			w[j] += m.data[k]
			rowNorm += m.data[k] * m.data[k]
		}
		if !inRow[i] {
			inRow[i] = true
			cols = append(cols, i)
			w[i], lev[i] = 0, 0
		}
		rowNorm = math.Sqrt(rowNorm)
		sort.Ints(cols)

		for p := 0; p < len(cols) && cols[p] < i; p++ {
			k := cols[p]
			w[k] /= f.data[f.diag[k]]
			lk := w[k]
			for q := f.diag[k] + 1; q < f.indptr[k+1]; q++ {
				j := f.ind[q]
				newLev := lev[k] + f.level[q] + 1
				if !inRow[j] {
					if newLev > opt.levelOfFill {
						dropped += lk * f.data[q]
						continue
					}
					inRow[j] = true
					w[j], lev[j] = 0, newLev
					at := sort.SearchInts(cols, j)
					cols = append(cols, 0)
					copy(cols[at+1:], cols[at:])
					cols[at] = j
				} else if newLev < lev[j] {
					lev[j] = newLev
				}
				w[j] -= lk * f.data[q]
			}
		}
		w[i] -= opt.relax * dropped

		for _, j := range cols {
			inRow[j] = false
			if j != i && opt.dropTol > 0 && math.Abs(w[j]) < opt.dropTol*rowNorm {
				continue
			}
			if j == i {
				f.diag[i] = len(f.ind)
				if w[i] == 0 || math.IsNaN(w[i]) || math.IsInf(w[i], 0) {
					return nil, fmt.Errorf("pivot %g in row %d: %w", w[i], i, ErrBuild)
				}
			}
			f.ind = append(f.ind, j)
			f.data = append(f.data, w[j])
			f.level = append(f.level, lev[j])
		}
		f.indptr[i+1] = len(f.ind)
	}
	return
}

// solve computes y = (LU)^-1 x. x and y may alias.
func (f *iluFactor) solve(x, y []float64) {
	copy(y, x)
	for i := 0; i < f.n; i++ {
		for k := f.indptr[i]; k < f.diag[i]; k++ {
			y[i] -= f.data[k] * y[f.ind[k]]
		}
	}
	for i := f.n - 1; i >= 0; i-- {
		for k := f.diag[i] + 1; k < f.indptr[i+1]; k++ {
			y[i] -= f.data[k] * y[f.ind[k]]
		}
		y[i] /= f.data[f.diag[i]]
	}
}

// ILU is an incomplete LU factorization with level-of-fill k.
type ILU struct {
	opt    iluOptions
	factor *iluFactor
}

func (p *ILU) Init(pl *plist.ParameterList) (err error) {
	if p.opt.levelOfFill, err = pl.GetInt("fact: level-of-fill", 0); err != nil {
		return
	}
	if p.opt.relax, err = pl.GetFloat("fact: relax value", 0); err != nil {
		return
	}
	if p.opt.levelOfFill < 0 {
		return fmt.Errorf("fact: level-of-fill = %d: %w", p.opt.levelOfFill, plist.ErrBadParameter)
	}
	return
}

func (p *ILU) Update(A *sparse.CSR) (err error) {
	p.factor = nil
	var m csr
	if m, err = view(A); err != nil {
		return fmt.Errorf("ILU.Update: %w", err)
	}
	if p.factor, err = factorILU(m, p.opt); err != nil {
		return fmt.Errorf("ILU.Update: %w", err)
	}
	return
}

func (p *ILU) ApplyInverse(x, y []float64) error {
	if p.factor == nil {
		return fmt.Errorf("ILU.ApplyInverse: not computed: %w", ErrApply)
	}
	if err := checkLengths("ILU.ApplyInverse", p.factor.n, x, y); err != nil {
		return err
	}
	p.factor.solve(x, y)
	return checkFinite("ILU.ApplyInverse", y)
}

// Euclid is a level-scheduled ILU(k) with an optional relative drop
// tolerance.
type Euclid struct {
	ILU
}

func (p *Euclid) Init(pl *plist.ParameterList) (err error) {
	if p.opt.levelOfFill, err = pl.GetInt("level", 1); err != nil {
		return
	}
	if p.opt.dropTol, err = pl.GetFloat("sparseA", 0); err != nil {
		return
	}
	if p.opt.levelOfFill < 0 || p.opt.dropTol < 0 {
		return fmt.Errorf("level = %d, sparseA = %g: %w", p.opt.levelOfFill, p.opt.dropTol, plist.ErrBadParameter)
	}
	return
}

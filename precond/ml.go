package precond

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"

	"github.com/cannsudemir/ats/plist"
)

func init() {
	register("ml", "ML Parameters", func() Preconditioner { return &ML{} })
}

// ML is a smoothed aggregation algebraic multigrid V-cycle with damped
// Jacobi smoothing.
type ML struct {
	maxLevels  int
	threshold  float64
	sweeps     int
	damping    float64
	coarseSize int
	ncycles    int

	n int
	h *hierarchy
}

func (p *ML) Init(pl *plist.ParameterList) (err error) {
	if p.maxLevels, err = pl.GetInt("max levels", 10); err != nil {
		return
	}
	if p.threshold, err = pl.GetFloat("aggregation: threshold", 0); err != nil {
		return
	}
	if p.sweeps, err = pl.GetInt("smoother: sweeps", 2); err != nil {
		return
	}
	if p.damping, err = pl.GetFloat("smoother: damping factor", 0.67); err != nil {
		return
	}
	if p.coarseSize, err = pl.GetInt("coarse: max size", 128); err != nil {
		return
	}
	if p.ncycles, err = pl.GetInt("cycle applications", 1); err != nil {
		return
	}
	if p.maxLevels < 1 || p.sweeps < 0 || p.ncycles < 1 || p.coarseSize < 1 {
		return fmt.Errorf("max levels = %d, smoother: sweeps = %d, cycle applications = %d, coarse: max size = %d: %w",
			p.maxLevels, p.sweeps, p.ncycles, p.coarseSize, plist.ErrBadParameter)
	}
	return
}

func (p *ML) Update(A *sparse.CSR) (err error) {
	// Destroy, then rebuild
	p.h = nil
	p.n, _ = A.Dims()
	if p.n == 0 {
		return
	}
	var h *hierarchy
	if h, err = buildHierarchy(A, p.maxLevels, p.coarseSize, p.aggregate); err != nil {
		return fmt.Errorf("ML.Update: %w", err)
	}
	for _, lv := range h.levels[:len(h.levels)-1] {
		if err = checkDiagonal(lv); err != nil {
			return fmt.Errorf("ML.Update: %w", err)
		}
	}
	h.smooth, h.sweeps = jacobi(p.damping), p.sweeps
	p.h = h
	return
}

func (p *ML) ApplyInverse(x, y []float64) (err error) {
	if err = checkLengths("ML.ApplyInverse", p.n, x, y); err != nil || p.n == 0 {
		return
	}
	if p.h == nil {
		return fmt.Errorf("ML.ApplyInverse: not computed: %w", ErrApply)
	}
	if err = p.h.cycle(p.ncycles, 0, x, y); err != nil {
		return fmt.Errorf("ML.ApplyInverse: %w", err)
	}
	return checkFinite("ML.ApplyInverse", y)
}

// aggregate builds the smoothed prolongator (I - w D^-1 A) P0 from greedy
// aggregates of strongly connected rows.
func (p *ML) aggregate(lv *level) (P *sparse.CSR, err error) {
	var (
		m      = lv.m
		n      = m.n
		agg    = make([]int, n)
		nagg   int
		strong = func(i, k int) bool {
			j := m.ind[k]
			return j != i && math.Abs(m.data[k]) > p.threshold*math.Sqrt(math.Abs(lv.diag[i]*lv.diag[j]))
		}
	)
	for i := range agg {
		agg[i] = -1
	}
	// Phase 1: roots whose whole strong neighbourhood is free
	for i := 0; i < n; i++ {
		if agg[i] >= 0 {
			continue
		}
		free := true
		for k := m.indptr[i]; k < m.indptr[i+1] && free; k++ {
			if strong(i, k) && agg[m.ind[k]] >= 0 {
				free = false
			}
		}
		if !free {
			continue
		}
		agg[i] = nagg
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			if strong(i, k) {
				agg[m.ind[k]] = nagg
			}
		}
		nagg++
	}
	// Phase 2: attach leftovers to a neighbouring aggregate, or make their own
	for i := 0; i < n; i++ {
		if agg[i] >= 0 {
			continue
		}
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			if j := m.ind[k]; strong(i, k) && agg[j] >= 0 {
				agg[i] = agg[j]
				break
			}
		}
		if agg[i] < 0 {
			agg[i] = nagg
			nagg++
		}
	}
	if nagg >= n {
		return nil, nil
	}
	if err = checkDiagonal(lv); err != nil {
		return
	}

	// Spectral radius of D^-1 A bounded by its maximum absolute row sum
	var rho float64
	for i := 0; i < n; i++ {
		var s float64
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			s += math.Abs(m.data[k] / lv.diag[i])
		}
		rho = math.Max(rho, s)
	}
	omega := 4. / (3. * rho)

	size := make([]float64, nagg)
	for _, a := range agg {
		size[a]++
	}
	P0 := func(j int) float64 { return 1 / math.Sqrt(size[agg[j]]) }
	dok := sparse.NewDOK(n, nagg)
	for i := 0; i < n; i++ {
		row := make(map[int]float64)
		row[agg[i]] += P0(i)
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			j := m.ind[k]
			row[agg[j]] -= omega * m.data[k] / lv.diag[i] * P0(j)
		}
		for a, v := range row {
			if v != 0 {
				dok.Set(i, a, v)
			}
		}
	}
	return dok.ToCSR(), nil
}

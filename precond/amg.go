package precond

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/james-bowman/sparse"

	"github.com/cannsudemir/ats/plist"
)

func init() {
	register("boomer amg", "HYPRE AMG Parameters", func() Preconditioner { return &BoomerAMG{} })
}

// BoomerAMG is a classical (Ruge-Stueben) algebraic multigrid V-cycle with
// direct interpolation and symmetric Gauss-Seidel smoothing.
type BoomerAMG struct {
	ncycles         int
	nsmooth         int
	tol             float64
	strongThreshold float64
	maxLevels       int
	coarseSize      int

	n int
	h *hierarchy
}

func (p *BoomerAMG) Init(pl *plist.ParameterList) (err error) {
	if p.ncycles, err = pl.GetInt("number of cycles", 5); err != nil {
		return
	}
	if p.nsmooth, err = pl.GetInt("number of smoothing iterations", 3); err != nil {
		return
	}
	if p.tol, err = pl.GetFloat("tolerance", 0.0); err != nil {
		return
	}
	if p.strongThreshold, err = pl.GetFloat("strong threshold", 0.25); err != nil {
		return
	}
	if p.maxLevels, err = pl.GetInt("max levels", 25); err != nil {
		return
	}
	if p.coarseSize, err = pl.GetInt("coarse: max size", 32); err != nil {
		return
	}
	if p.ncycles < 1 || p.nsmooth < 0 || p.tol < 0 || p.strongThreshold < 0 || p.strongThreshold >= 1 ||
		p.maxLevels < 1 || p.coarseSize < 1 {
		return fmt.Errorf("number of cycles = %d, number of smoothing iterations = %d, strong threshold = %g: %w",
			p.ncycles, p.nsmooth, p.strongThreshold, plist.ErrBadParameter)
	}
	return
}

func (p *BoomerAMG) Update(A *sparse.CSR) (err error) {
	p.h = nil
	p.n, _ = A.Dims()
	if p.n == 0 {
		return
	}
	var h *hierarchy
	if h, err = buildHierarchy(A, p.maxLevels, p.coarseSize, p.interpolation); err != nil {
		return fmt.Errorf("BoomerAMG.Update: %w", err)
	}
	for _, lv := range h.levels[:len(h.levels)-1] {
		if err = checkDiagonal(lv); err != nil {
			return fmt.Errorf("BoomerAMG.Update: %w", err)
		}
	}
	h.smooth, h.sweeps = symmetricGaussSeidel, p.nsmooth
	p.h = h
	return
}

func (p *BoomerAMG) ApplyInverse(x, y []float64) (err error) {
	if err = checkLengths("BoomerAMG.ApplyInverse", p.n, x, y); err != nil || p.n == 0 {
		return
	}
	if p.h == nil {
		return fmt.Errorf("BoomerAMG.ApplyInverse: not computed: %w", ErrApply)
	}
	if err = p.h.cycle(p.ncycles, p.tol, x, y); err != nil {
		return fmt.Errorf("BoomerAMG.ApplyInverse: %w", err)
	}
	return checkFinite("BoomerAMG.ApplyInverse", y)
}

const (
	undecided = iota
	coarsePt
	finePt
)

// interpolation splits the level into C and F points and returns direct
// interpolation from the C points.
func (p *BoomerAMG) interpolation(lv *level) (P *sparse.CSR, err error) {
	var (
		m = lv.m
		n = m.n
		// S[i] holds the points i strongly depends on, ST[j] the points that
		// strongly depend on j
		S  = make([][]int, n)
		ST = make([][]int, n)
	)
	for i := 0; i < n; i++ {
		var maxOff float64
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			if m.ind[k] != i {
				maxOff = math.Max(maxOff, -m.data[k])
			}
		}
		if maxOff <= 0 {
			continue
		}
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			if j := m.ind[k]; j != i && -m.data[k] >= p.strongThreshold*maxOff {
				S[i] = append(S[i], j)
				ST[j] = append(ST[j], i)
			}
		}
	}

	state := make([]int, n)
	q := &measureQueue{}
	measure := make([]int, n)
	for i := 0; i < n; i++ {
		measure[i] = len(ST[i])
		if len(S[i]) == 0 && len(ST[i]) == 0 {
			state[i] = finePt // Isolated, smoothed exactly
			continue
		}
		heap.Push(q, measureItem{i, measure[i]})
	}
	for q.Len() > 0 {
		it := heap.Pop(q).(measureItem)
		if state[it.i] != undecided || it.measure != measure[it.i] {
			continue // Stale entry
		}
		state[it.i] = coarsePt
		for _, j := range ST[it.i] {
			if state[j] != undecided {
				continue
			}
			state[j] = finePt
			for _, k := range S[j] {
				if state[k] == undecided {
					measure[k]++
					heap.Push(q, measureItem{k, measure[k]})
				}
			}
		}
	}
	// Second pass: an F point needs a strong C neighbour to interpolate from
	for i := 0; i < n; i++ {
		if state[i] != finePt || len(S[i]) == 0 {
			continue
		}
		hasC := false
		for _, j := range S[i] {
			if state[j] == coarsePt {
				hasC = true
				break
			}
		}
		if !hasC {
			state[i] = coarsePt
		}
	}

	cidx := make([]int, n)
	nc := 0
	for i := range state {
		if state[i] == coarsePt {
			cidx[i] = nc
			nc++
		} else {
			cidx[i] = -1
		}
	}
	if nc == 0 || nc >= n {
		return nil, nil
	}
	if err = checkDiagonal(lv); err != nil {
		return
	}

	dok := sparse.NewDOK(n, nc)
	for i := 0; i < n; i++ {
		if state[i] == coarsePt {
			dok.Set(i, cidx[i], 1)
			continue
		}
		var (
			sumAll, sumC float64
			strongC      = make(map[int]bool)
		)
		for _, j := range S[i] {
			if state[j] == coarsePt {
				strongC[j] = true
			}
		}
		if len(strongC) == 0 {
			continue
		}
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			j := m.ind[k]
			if j == i {
				continue
			}
			sumAll += m.data[k]
			if strongC[j] {
				sumC += m.data[k]
			}
		}
		alpha := sumAll / sumC
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			if j := m.ind[k]; strongC[j] {
				dok.Set(i, cidx[j], -alpha*m.data[k]/lv.diag[i])
			}
		}
	}
	return dok.ToCSR(), nil
}

type measureItem struct {
	i, measure int
}

// measureQueue is a max-heap on measure, ties broken by the lower index.
type measureQueue []measureItem

func (q measureQueue) Len() int { return len(q) }
func (q measureQueue) Less(a, b int) bool {
	if q[a].measure != q[b].measure {
		return q[a].measure > q[b].measure
	}
	return q[a].i < q[b].i
}
func (q measureQueue) Swap(a, b int)       { q[a], q[b] = q[b], q[a] }
func (q *measureQueue) Push(x interface{}) { *q = append(*q, x.(measureItem)) }
func (q *measureQueue) Pop() interface{} {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

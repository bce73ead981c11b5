package precond

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/cannsudemir/ats/plist"
)

func init() {
	register("parasails", "HYPRE ParaSails Parameters", func() Preconditioner { return &ParaSails{} })
}

// ParaSails is a sparse approximate inverse M ~ A^-1 with the sparsity of
// the filtered pattern of A. Each column minimises |A m_j - e_j| in the least
// squares sense.
type ParaSails struct {
	filter    float64
	symmetric bool

	n int
	M *sparse.CSR
}

func (p *ParaSails) Init(pl *plist.ParameterList) (err error) {
	if p.filter, err = pl.GetFloat("filter", 0.1); err != nil {
		return
	}
	if p.symmetric, err = pl.GetBool("symmetric", true); err != nil {
		return
	}
	if p.filter < 0 {
		return fmt.Errorf("filter = %g: %w", p.filter, plist.ErrBadParameter)
	}
	return
}

func (p *ParaSails) Update(A *sparse.CSR) (err error) {
	p.M = nil
	var m csr
	if m, err = view(A); err != nil {
		return fmt.Errorf("ParaSails.Update: %w", err)
	}
	p.n = m.n
	if p.n == 0 {
		return
	}
	var (
		diag = m.diagonal()
		// Column pattern of A equals the row pattern of its transpose
		cols = make([][]int, m.n)
		At   = transposeView(m)
		dok  = sparse.NewDOK(m.n, m.n)
	)
	for i := 0; i < m.n; i++ {
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			j := m.ind[k]
			if j == i || math.Abs(m.data[k]) >= p.filter*math.Sqrt(math.Abs(diag[i]*diag[j])) {
				cols[j] = append(cols[j], i)
			}
		}
	}
	for j := 0; j < m.n; j++ {
		J := cols[j]
		if at := sort.SearchInts(J, j); at == len(J) || J[at] != j {
			J = append(J, j)
			sort.Ints(J)
		}
		// Rows touched by the columns in J
		rowSet := make(map[int]int)
		var I []int
		for _, c := range J {
			for k := At.indptr[c]; k < At.indptr[c+1]; k++ {
				if _, ok := rowSet[At.ind[k]]; !ok {
					rowSet[At.ind[k]] = 0
					I = append(I, At.ind[k])
				}
			}
		}
		sort.Ints(I)
		for r, row := range I {
			rowSet[row] = r
		}
		sub := mat.NewDense(len(I), len(J), nil)
		for cj, c := range J {
			for k := At.indptr[c]; k < At.indptr[c+1]; k++ {
				sub.Set(rowSet[At.ind[k]], cj, At.data[k])
			}
		}
		e := mat.NewVecDense(len(I), nil)
		e.SetVec(rowSet[j], 1)

		var (
			qr  mat.QR
			sol mat.VecDense
		)
		qr.Factorize(sub)
		if err = qr.SolveVecTo(&sol, false, e); err != nil {
			return fmt.Errorf("ParaSails.Update: column %d: %v: %w", j, err, ErrBuild)
		}
		for cj, c := range J {
			dok.Set(c, j, sol.AtVec(cj))
		}
	}
	M := dok.ToCSR()
	if p.symmetric {
		raw := M.RawMatrix()
		sym := sparse.NewDOK(m.n, m.n)
		for i := 0; i < m.n; i++ {
			for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
				j, v := raw.Ind[k], 0.5*raw.Data[k]
				sym.Set(i, j, sym.At(i, j)+v)
				sym.Set(j, i, sym.At(j, i)+v)
			}
		}
		M = sym.ToCSR()
	}
	p.M = M
	return
}

func (p *ParaSails) ApplyInverse(x, y []float64) error {
	if err := checkLengths("ParaSails.ApplyInverse", p.n, x, y); err != nil || p.n == 0 {
		return err
	}
	if p.M == nil {
		return fmt.Errorf("ParaSails.ApplyInverse: not computed: %w", ErrApply)
	}
	tmp := make([]float64, p.n)
	p.M.MulVecTo(tmp, false, x)
	copy(y, tmp)
	return checkFinite("ParaSails.ApplyInverse", y)
}

func transposeView(m csr) (t csr) {
	nnz := m.indptr[m.n]
	t = csr{n: m.n, indptr: make([]int, m.n+1), ind: make([]int, nnz), data: make([]float64, nnz)}
	for _, j := range m.ind[:nnz] {
		t.indptr[j+1]++
	}
	for i := 0; i < m.n; i++ {
		t.indptr[i+1] += t.indptr[i]
	}
	next := append([]int(nil), t.indptr[:m.n]...)
	for i := 0; i < m.n; i++ {
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			j := m.ind[k]
			t.ind[next[j]] = i
			t.data[next[j]] = m.data[k]
			next[j]++
		}
	}
	return
}

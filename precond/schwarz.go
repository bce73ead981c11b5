package precond

import (
	"fmt"
	"sort"

	"github.com/james-bowman/sparse"

	"github.com/cannsudemir/ats/plist"
	"github.com/cannsudemir/ats/utils"
)

func init() {
	register("block ilu", "Block ILU Parameters", func() Preconditioner { return &BlockILU{} })
}

// BlockILU is an additive overlapping Schwarz preconditioner: the rows are
// split into contiguous blocks, each block is grown by overlap layers of the
// matrix graph, factored by ILU(k), and the subdomain solutions are summed.
type BlockILU struct {
	overlap int
	nblocks int
	opt     iluOptions

	n          int
	subdomains [][]int
	factors    []*iluFactor
	xs, ys     []float64
}

func (p *BlockILU) Init(pl *plist.ParameterList) (err error) {
	if p.overlap, err = pl.GetInt("overlap", 0); err != nil {
		return
	}
	if p.nblocks, err = pl.GetInt("number of blocks", 1); err != nil {
		return
	}
	if p.opt.levelOfFill, err = pl.GetInt("fact: level-of-fill", 0); err != nil {
		return
	}
	if p.opt.relax, err = pl.GetFloat("fact: relax value", 0); err != nil {
		return
	}
	// Only additive combination is supported
	mode, err := pl.GetString("schwarz: combine mode", "Add")
	if err != nil {
		return
	}
	if mode != "Add" {
		return fmt.Errorf("schwarz: combine mode = %q: %w", mode, plist.ErrBadParameter)
	}
	if p.overlap < 0 || p.nblocks < 1 || p.opt.levelOfFill < 0 {
		return fmt.Errorf("overlap = %d, number of blocks = %d: %w", p.overlap, p.nblocks, plist.ErrBadParameter)
	}
	return
}

func (p *BlockILU) Update(A *sparse.CSR) (err error) {
	p.subdomains, p.factors = nil, nil
	var m csr
	if m, err = view(A); err != nil {
		return fmt.Errorf("BlockILU.Update: %w", err)
	}
	p.n = m.n
	nb := p.nblocks
	if nb > m.n {
		nb = m.n
	}
	if nb == 0 {
		return
	}
	pm := utils.NewPartitionMap(nb, m.n)
	for b := 0; b < nb; b++ {
		kMin, kMax := pm.GetBucketRange(b)
		rows := grow(m, kMin, kMax, p.overlap)
		var f *iluFactor
		if f, err = factorILU(extract(m, rows), p.opt); err != nil {
			return fmt.Errorf("BlockILU.Update: block %d: %w", b, err)
		}
		p.subdomains = append(p.subdomains, rows)
		p.factors = append(p.factors, f)
	}
	p.xs, p.ys = make([]float64, m.n), make([]float64, m.n)
	return
}

func (p *BlockILU) ApplyInverse(x, y []float64) error {
	if p.subdomains == nil && p.n > 0 {
		return fmt.Errorf("BlockILU.ApplyInverse: not computed: %w", ErrApply)
	}
	if err := checkLengths("BlockILU.ApplyInverse", p.n, x, y); err != nil {
		return err
	}
	sum := make([]float64, p.n)
	for b, rows := range p.subdomains {
		xs, ys := p.xs[:len(rows)], p.ys[:len(rows)]
		for i, r := range rows {
			xs[i] = x[r]
		}
		p.factors[b].solve(xs, ys)
		for i, r := range rows {
			sum[r] += ys[i]
		}
	}
	copy(y, sum)
	return checkFinite("BlockILU.ApplyInverse", y)
}

// grow returns rows [kMin, kMax) plus overlap layers of graph neighbours,
// sorted.
func grow(m csr, kMin, kMax, overlap int) (rows []int) {
	in := make(map[int]bool, kMax-kMin)
	for r := kMin; r < kMax; r++ {
		in[r] = true
		rows = append(rows, r)
	}
	front := rows
	for l := 0; l < overlap; l++ {
		var next []int
		for _, r := range front {
			for k := m.indptr[r]; k < m.indptr[r+1]; k++ {
				if j := m.ind[k]; !in[j] {
					in[j] = true
					next = append(next, j)
				}
			}
		}
		rows = append(rows, next...)
		front = next
	}
	sort.Ints(rows)
	return
}

// extract returns the principal submatrix on rows (sorted).
func extract(m csr, rows []int) (sub csr) {
	local := make(map[int]int, len(rows))
	for i, r := range rows {
		local[r] = i
	}
	sub = csr{n: len(rows), indptr: make([]int, len(rows)+1)}
	for i, r := range rows {
		for k := m.indptr[r]; k < m.indptr[r+1]; k++ {
			if j, ok := local[m.ind[k]]; ok {
				sub.ind = append(sub.ind, j)
				sub.data = append(sub.data, m.data[k])
			}
		}
		sub.indptr[i+1] = len(sub.ind)
	}
	return
}

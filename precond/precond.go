// Package precond holds the algebraic preconditioners that can be wrapped
// around the reduced cell operator. A strategy is chosen by name once, at
// configuration time, and rebuilt from the current matrix every time its
// coefficients change.
package precond

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/james-bowman/sparse"

	"github.com/cannsudemir/ats/plist"
)

var (
	ErrUnknownMethod = errors.New("unknown preconditioner method")
	ErrBuild         = errors.New("preconditioner build failed")
	ErrApply         = errors.New("preconditioner apply failed")
)

// Preconditioner is an approximate inverse of a square sparse matrix.
type Preconditioner interface {
	// Init reads the strategy's parameters. No numeric work is done.
	Init(pl *plist.ParameterList) error
	// Update discards any previous state and rebuilds from A.
	Update(A *sparse.CSR) error
	// ApplyInverse sets y to the approximate solution of A y = x.
	ApplyInverse(x, y []float64) error
}

type method struct {
	sublist string
	alloc   func() Preconditioner
}

// allocators holds all available preconditioners
var allocators = make(map[string]method)

// aliases maps legacy enumeration names onto method names
var aliases = map[string]string{
	"trilinos_ml":        "ml",
	"trilinos_ilu":       "ilu",
	"trilinos_block_ilu": "block ilu",
	"hypre_amg":          "boomer amg",
	"hypre_euclid":       "euclid",
	"hypre_parasails":    "parasails",
	"hypre amg":          "boomer amg",
	"hypre euclid":       "euclid",
	"hypre parasails":    "parasails",
}

func register(name, sublist string, alloc func() Preconditioner) {
	allocators[name] = method{sublist: sublist, alloc: alloc}
}

func canonical(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		return alias
	}
	return key
}

// Methods returns the registered method names in sorted order.
func Methods() (names []string) {
	for name := range allocators {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// SublistName returns the name of the parameter sublist read by method.
func SublistName(name string) (string, error) {
	m, ok := allocators[canonical(name)]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrUnknownMethod)
	}
	return m.sublist, nil
}

// New allocates the named preconditioner and initializes it from the
// strategy's own sublist of pl.
func New(name string, pl *plist.ParameterList) (p Preconditioner, err error) {
	m, ok := allocators[canonical(name)]
	if !ok {
		return nil, fmt.Errorf("%q (have %s): %w", name, strings.Join(Methods(), ", "), ErrUnknownMethod)
	}
	var sub *plist.ParameterList
	if sub, err = pl.Sublist(m.sublist); err != nil {
		return
	}
	p = m.alloc()
	if err = p.Init(sub); err != nil {
		return nil, fmt.Errorf("%s: %w", canonical(name), err)
	}
	return
}

// csr is a raw view of a square CSR matrix.
type csr struct {
	n      int
	indptr []int
	ind    []int
	data   []float64
}

func view(A *sparse.CSR) (m csr, err error) {
	r, c := A.Dims()
	if r != c {
		return m, fmt.Errorf("matrix is %dx%d, not square: %w", r, c, ErrBuild)
	}
	raw := A.RawMatrix()
	m = csr{n: r, indptr: raw.Indptr, ind: raw.Ind, data: raw.Data}
	for _, v := range m.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return m, fmt.Errorf("matrix has non-finite entries: %w", ErrBuild)
		}
	}
	return
}

func (m csr) diagonal() (d []float64) {
	d = make([]float64, m.n)
	for i := 0; i < m.n; i++ {
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			if m.ind[k] == i {
				d[i] += m.data[k]
			}
		}
	}
	return
}

func checkFinite(op string, y []float64) error {
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: non-finite value at row %d: %w", op, i, ErrApply)
		}
	}
	return nil
}

func checkLengths(op string, n int, x, y []float64) error {
	if len(x) != n || len(y) != n {
		return fmt.Errorf("%s: vectors of length %d and %d for %d rows: %w", op, len(x), len(y), n, ErrApply)
	}
	return nil
}

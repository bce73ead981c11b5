// Package field holds composite cell+face vectors distributed over the ranks
// of a partitioned mesh.
package field

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cannsudemir/ats/comm"
	"github.com/cannsudemir/ats/mesh"
)

const (
	CellComponent = "cell"
	FaceComponent = "face"
)

type component struct {
	kind  mesh.EntityKind
	owned int
	data  []float64 // owned entries first, then ghosts
}

// CompositeVector is a set of named components, each located on one entity
// kind and stored with its ghost layer.
type CompositeVector struct {
	mesh  mesh.Mesh
	comm  *comm.Comm
	names []string
	comps map[string]*component
}

// New allocates a zeroed vector. Each name must be "cell" or "face", or be
// paired with an explicit kind via NewWithKinds.
func New(m mesh.Mesh, c *comm.Comm, names ...string) *CompositeVector {
	kinds := make([]mesh.EntityKind, len(names))
	for i, name := range names {
		switch name {
		case CellComponent:
			kinds[i] = mesh.Cell
		case FaceComponent:
			kinds[i] = mesh.Face
		default:
			panic(fmt.Sprintf("field.New: component %q needs an explicit entity kind", name))
		}
	}
	return NewWithKinds(m, c, names, kinds)
}

func NewWithKinds(m mesh.Mesh, c *comm.Comm, names []string, kinds []mesh.EntityKind) (cv *CompositeVector) {
	cv = &CompositeVector{
		mesh:  m,
		comm:  c,
		names: append([]string(nil), names...),
		comps: make(map[string]*component, len(names)),
	}
	for i, name := range names {
		var owned, used int
		switch kinds[i] {
		case mesh.Cell:
			owned, used = m.NumCells(mesh.Owned), m.NumCells(mesh.Used)
		case mesh.Face:
			owned, used = m.NumFaces(mesh.Owned), m.NumFaces(mesh.Used)
		}
		cv.comps[name] = &component{kind: kinds[i], owned: owned, data: make([]float64, used)}
	}
	return
}

func (cv *CompositeVector) Mesh() mesh.Mesh      { return cv.mesh }
func (cv *CompositeVector) Comm() *comm.Comm     { return cv.comm }
func (cv *CompositeVector) Components() []string { return cv.names }

// HasComponent reports whether the named component exists. A nil vector has
// no components.
func (cv *CompositeVector) HasComponent(name string) bool {
	if cv == nil {
		return false
	}
	_, ok := cv.comps[name]
	return ok
}

// ViewComponent returns the storage of a component, restricted to owned
// entries unless ghosted is set. The slice aliases the vector.
func (cv *CompositeVector) ViewComponent(name string, ghosted bool) []float64 {
	comp, ok := cv.comps[name]
	if !ok {
		panic(fmt.Sprintf("field: no component named %q", name))
	}
	if ghosted {
		return comp.data
	}
	return comp.data[:comp.owned]
}

// At returns the value of component name at local index i.
func (cv *CompositeVector) At(name string, i int) float64 {
	return cv.ViewComponent(name, true)[i]
}

func (cv *CompositeVector) PutScalar(v float64) {
	for _, comp := range cv.comps {
		for i := range comp.data {
			comp.data[i] = v
		}
	}
}

// Clone returns a deep copy.
func (cv *CompositeVector) Clone() *CompositeVector {
	out := &CompositeVector{
		mesh:  cv.mesh,
		comm:  cv.comm,
		names: cv.names,
		comps: make(map[string]*component, len(cv.comps)),
	}
	for name, comp := range cv.comps {
		out.comps[name] = &component{
			kind:  comp.kind,
			owned: comp.owned,
			data:  append([]float64(nil), comp.data...),
		}
	}
	return out
}

// CopyFrom copies every component of other, ghosts included.
func (cv *CompositeVector) CopyFrom(other *CompositeVector) {
	for name, comp := range cv.comps {
		copy(comp.data, other.comps[name].data)
	}
}

// Update sets cv = a*x + b*cv on owned entries.
func (cv *CompositeVector) Update(a float64, x *CompositeVector, b float64) {
	for name, comp := range cv.comps {
		dst := comp.data[:comp.owned]
		src := x.ViewComponent(name, false)
		for i := range dst {
			dst[i] = a*src[i] + b*dst[i]
		}
	}
}

// Scale multiplies owned entries by a.
func (cv *CompositeVector) Scale(a float64) {
	for _, comp := range cv.comps {
		floats.Scale(a, comp.data[:comp.owned])
	}
}

// Dot is the global inner product over owned entries of all components.
func (cv *CompositeVector) Dot(other *CompositeVector) (float64, error) {
	var local float64
	for _, name := range cv.names {
		comp := cv.comps[name]
		local += floats.Dot(comp.data[:comp.owned], other.ViewComponent(name, false))
	}
	return cv.comm.AllReduceSum(local)
}

func (cv *CompositeVector) Norm2() (float64, error) {
	d, err := cv.Dot(cv)
	return math.Sqrt(d), err
}

// NormInf is the global max norm over owned entries of all components.
func (cv *CompositeVector) NormInf() (float64, error) {
	var local float64
	for _, name := range cv.names {
		comp := cv.comps[name]
		if comp.owned > 0 {
			local = math.Max(local, floats.Norm(comp.data[:comp.owned], math.Inf(1)))
		}
	}
	return cv.comm.AllReduceMax(local)
}

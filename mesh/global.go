package mesh

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// ElementType represents different element types
type ElementType int

const (
	Triangle ElementType = iota
	Quad
	Tet
	Hex
	Prism
)

func (e ElementType) String() string {
	return [...]string{"Triangle", "Quad", "Tet", "Hex", "Prism"}[e]
}

// Global is a serial mesh with full connectivity and geometry. It is the
// source from which rank-local views are cut.
type Global struct {
	Dim int

	// Geometry
	Vertices []r3.Vec

	// Element data
	Elements     [][]int       // Element to vertex connectivity
	ElementTypes []ElementType // Element type for each element

	// Connectivity (built by BuildConnectivity)
	CellFaces [][]int // Cell to face, ordered by the element's local faces
	CellDirs  [][]int // +1 if the face normal points out of the cell
	FaceCells [][]int // One or two cells, the first one owns the normal
	FaceVerts [][]int

	// Geometry (built by BuildGeometry)
	CellCentroids []r3.Vec
	CellVolumes   []float64
	FaceCentroids []r3.Vec
	FaceAreas     []float64
	FaceNormals   []r3.Vec

	faceMap map[string]int // Sorted vertex key to face ID
}

func (g *Global) NumCells() int { return len(g.Elements) }
func (g *Global) NumFaces() int { return len(g.FaceCells) }

// NewGlobal builds connectivity and geometry for the given elements.
func NewGlobal(dim int, vertices []r3.Vec, elements [][]int, types []ElementType) (g *Global, err error) {
	if len(elements) != len(types) {
		err = fmt.Errorf("mesh.NewGlobal: %d elements but %d element types", len(elements), len(types))
		return
	}
	g = &Global{
		Dim:          dim,
		Vertices:     vertices,
		Elements:     elements,
		ElementTypes: types,
	}
	if err = g.BuildConnectivity(); err != nil {
		return nil, err
	}
	if err = g.BuildGeometry(); err != nil {
		return nil, err
	}
	return
}

// BuildConnectivity derives the unique faces from sorted vertex keys.
func (g *Global) BuildConnectivity() (err error) {
	var (
		ncells = len(g.Elements)
	)
	g.faceMap = make(map[string]int)
	g.CellFaces = make([][]int, ncells)
	g.CellDirs = make([][]int, ncells)
	g.FaceCells = nil
	g.FaceVerts = nil
	for c := 0; c < ncells; c++ {
		faceVertices := GetElementFaces(g.ElementTypes[c], g.Elements[c])
		if len(faceVertices) == 0 {
			return fmt.Errorf("mesh: element %d has unsupported type %v", c, g.ElementTypes[c])
		}
		g.CellFaces[c] = make([]int, len(faceVertices))
		g.CellDirs[c] = make([]int, len(faceVertices))
		for localFaceID, faceVerts := range faceVertices {
			sorted := make([]int, len(faceVerts))
			copy(sorted, faceVerts)
			sort.Ints(sorted)
			key := fmt.Sprintf("%v", sorted)

			if faceID, exists := g.faceMap[key]; exists {
				if len(g.FaceCells[faceID]) == 2 {
					return fmt.Errorf("mesh: face %v shared by more than two cells", sorted)
				}
				g.FaceCells[faceID] = append(g.FaceCells[faceID], c)
				g.CellFaces[c][localFaceID] = faceID
				g.CellDirs[c][localFaceID] = -1
			} else {
				faceID = len(g.FaceCells)
				g.FaceCells = append(g.FaceCells, []int{c})
				g.FaceVerts = append(g.FaceVerts, faceVerts)
				g.faceMap[key] = faceID
				g.CellFaces[c][localFaceID] = faceID
				g.CellDirs[c][localFaceID] = 1
			}
		}
	}
	return
}

// BuildGeometry computes centroids, areas, unit normals and volumes. Face
// normals point out of the first cell of the face.
func (g *Global) BuildGeometry() (err error) {
	var (
		ncells = len(g.Elements)
		nfaces = len(g.FaceCells)
	)
	g.CellCentroids = make([]r3.Vec, ncells)
	g.CellVolumes = make([]float64, ncells)
	g.FaceCentroids = make([]r3.Vec, nfaces)
	g.FaceAreas = make([]float64, nfaces)
	g.FaceNormals = make([]r3.Vec, nfaces)

	for c := 0; c < ncells; c++ {
		g.CellCentroids[c] = g.mean(g.Elements[c])
	}
	for f := 0; f < nfaces; f++ {
		verts := g.FaceVerts[f]
		g.FaceCentroids[f] = g.mean(verts)
		var areaVec r3.Vec
		if g.Dim == 2 {
			if len(verts) != 2 {
				return fmt.Errorf("mesh: 2D face %d has %d vertices", f, len(verts))
			}
			d := r3.Sub(g.Vertices[verts[1]], g.Vertices[verts[0]])
			areaVec = r3.Vec{X: d.Y, Y: -d.X}
		} else {
			// Newell's method, exact for planar polygons
			for i := range verts {
				a, b := g.Vertices[verts[i]], g.Vertices[verts[(i+1)%len(verts)]]
				areaVec = r3.Add(areaVec, r3.Scale(0.5, r3.Cross(a, b)))
			}
		}
		area := r3.Norm(areaVec)
		if area <= 0 {
			return fmt.Errorf("mesh: face %d has zero area", f)
		}
		normal := r3.Scale(1/area, areaVec)
		c0 := g.FaceCells[f][0]
		if r3.Dot(normal, r3.Sub(g.FaceCentroids[f], g.CellCentroids[c0])) < 0 {
			normal = r3.Scale(-1, normal)
		}
		g.FaceAreas[f] = area
		g.FaceNormals[f] = normal
	}
	// Divergence theorem: |V| = (1/d) sum_f (x_f . n_f) |f| with outward normals
	for c := 0; c < ncells; c++ {
		var vol float64
		xc := g.CellCentroids[c]
		for n, f := range g.CellFaces[c] {
			dir := float64(g.CellDirs[c][n])
			vol += dir * r3.Dot(r3.Sub(g.FaceCentroids[f], xc), g.FaceNormals[f]) * g.FaceAreas[f]
		}
		vol /= float64(g.Dim)
		if vol <= 0 || math.IsNaN(vol) {
			return fmt.Errorf("mesh: cell %d has non-positive volume %g", c, vol)
		}
		g.CellVolumes[c] = vol
	}
	return
}

func (g *Global) mean(verts []int) (x r3.Vec) {
	for _, v := range verts {
		x = r3.Add(x, g.Vertices[v])
	}
	return r3.Scale(1/float64(len(verts)), x)
}

// GetElementFaces returns the face vertices for each element type, with
// vertices ordered counter-clockwise seen from outside the element.
func GetElementFaces(elemType ElementType, vertices []int) [][]int {
	switch elemType {
	case Triangle:
		return [][]int{
			{vertices[0], vertices[1]},
			{vertices[1], vertices[2]},
			{vertices[2], vertices[0]},
		}
	case Quad:
		return [][]int{
			{vertices[0], vertices[1]}, // bottom
			{vertices[1], vertices[2]}, // right
			{vertices[2], vertices[3]}, // top
			{vertices[3], vertices[0]}, // left
		}
	case Tet:
		return [][]int{
			{vertices[0], vertices[2], vertices[1]},
			{vertices[0], vertices[1], vertices[3]},
			{vertices[1], vertices[2], vertices[3]},
			{vertices[0], vertices[3], vertices[2]},
		}
	case Hex:
		return [][]int{
			{vertices[0], vertices[3], vertices[2], vertices[1]}, // bottom
			{vertices[4], vertices[5], vertices[6], vertices[7]}, // top
			{vertices[0], vertices[1], vertices[5], vertices[4]},
			{vertices[1], vertices[2], vertices[6], vertices[5]},
			{vertices[2], vertices[3], vertices[7], vertices[6]},
			{vertices[3], vertices[0], vertices[4], vertices[7]},
		}
	case Prism:
		return [][]int{
			{vertices[0], vertices[2], vertices[1]},
			{vertices[3], vertices[4], vertices[5]},
			{vertices[0], vertices[1], vertices[4], vertices[3]},
			{vertices[1], vertices[2], vertices[5], vertices[4]},
			{vertices[2], vertices[0], vertices[3], vertices[5]},
		}
	default:
		return [][]int{}
	}
}

// NewStructured2D builds an nx by ny quadrilateral mesh of [0,lx]x[0,ly].
// Cells are numbered x-fastest.
func NewStructured2D(nx, ny int, lx, ly float64) (g *Global, err error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("mesh.NewStructured2D: bad resolution %dx%d", nx, ny)
	}
	var (
		dx, dy   = lx / float64(nx), ly / float64(ny)
		vertices = make([]r3.Vec, 0, (nx+1)*(ny+1))
		elements = make([][]int, 0, nx*ny)
		types    = make([]ElementType, 0, nx*ny)
		vid      = func(i, j int) int { return i + (nx+1)*j }
	)
	for j := 0; j <= ny; j++ {
		for i := 0; i <= nx; i++ {
			vertices = append(vertices, r3.Vec{X: float64(i) * dx, Y: float64(j) * dy})
		}
	}
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			elements = append(elements, []int{vid(i, j), vid(i+1, j), vid(i+1, j+1), vid(i, j+1)})
			types = append(types, Quad)
		}
	}
	return NewGlobal(2, vertices, elements, types)
}

// NewStructured3D builds an nx by ny by nz hexahedral mesh of the box
// [0,lx]x[0,ly]x[0,lz]. Cells are numbered x-fastest, then y.
func NewStructured3D(nx, ny, nz int, lx, ly, lz float64) (g *Global, err error) {
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("mesh.NewStructured3D: bad resolution %dx%dx%d", nx, ny, nz)
	}
	var (
		dx, dy, dz = lx / float64(nx), ly / float64(ny), lz / float64(nz)
		vertices   = make([]r3.Vec, 0, (nx+1)*(ny+1)*(nz+1))
		elements   = make([][]int, 0, nx*ny*nz)
		types      = make([]ElementType, 0, nx*ny*nz)
		vid        = func(i, j, k int) int { return i + (nx+1)*(j+(ny+1)*k) }
	)
	for k := 0; k <= nz; k++ {
		for j := 0; j <= ny; j++ {
			for i := 0; i <= nx; i++ {
				vertices = append(vertices, r3.Vec{X: float64(i) * dx, Y: float64(j) * dy, Z: float64(k) * dz})
			}
		}
	}
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				elements = append(elements, []int{
					vid(i, j, k), vid(i+1, j, k), vid(i+1, j+1, k), vid(i, j+1, k),
					vid(i, j, k+1), vid(i+1, j, k+1), vid(i+1, j+1, k+1), vid(i, j+1, k+1),
				})
				types = append(types, Hex)
			}
		}
	}
	return NewGlobal(3, vertices, elements, types)
}

package assets

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/udhos/gwob"
)

type Mesh struct {
	Name      string
	Positions []Vec3
	Normals   []Vec3
	UVs       [][2]float32
	Indices   []uint32
}

func (m *Mesh) NumTriangles() int { return len(m.Indices) / 3 }

type ImportedObject struct {
	Path   string
	Meshes []Mesh
}

// Importer turns a mesh file into render geometry.
type Importer interface {
	Import(path string) (*ImportedObject, error)
}

// OBJImporter reads Wavefront OBJ files. Polygons are triangulated and
// each group becomes a mesh.
type OBJImporter struct{}

var _ Importer = OBJImporter{}

func (OBJImporter) Import(path string) (*ImportedObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAssetMissing, path, err)
	}
	defer f.Close()

	meshes, err := ParseOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &ImportedObject{Path: path, Meshes: meshes}, nil
}

var objOptions = &gwob.ObjParserOptions{Logger: func(string) {}}

// ParseOBJ parses OBJ text into meshes. Every mesh vertex carries a
// position, and a normal and UV whenever the file defines any; vertices
// whose face omitted them get zero values, so the three slices stay
// index-aligned.
func ParseOBJ(r io.Reader) ([]Mesh, error) {
	o, err := gwob.NewObjFromReader("obj", bufio.NewReader(r), objOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMesh, err)
	}
	if len(o.Indices) < 3 {
		return nil, fmt.Errorf("%w: no faces", ErrMalformedMesh)
	}

	l, err := newObjLayout(o)
	if err != nil {
		return nil, err
	}

	var meshes []Mesh
	for _, g := range o.Groups {
		if g.IndexCount <= 0 {
			continue
		}
		m, err := l.mesh(g.Name, o.Indices[g.IndexBegin:g.IndexBegin+g.IndexCount])
		if err != nil {
			return nil, err
		}
		meshes = append(meshes, m)
	}
	if len(meshes) == 0 {
		m, err := l.mesh("", o.Indices)
		if err != nil {
			return nil, err
		}
		meshes = append(meshes, m)
	}
	return meshes, nil
}

// objLayout describes the interleaved vertex array, in floats.
type objLayout struct {
	coord          []float32
	stride         int
	pos, tex, norm int
	hasTex         bool
	hasNorm        bool
	vertices       int
}

func newObjLayout(o *gwob.Obj) (objLayout, error) {
	l := objLayout{
		coord:   o.Coord,
		stride:  o.StrideSize / 4,
		pos:     o.StrideOffsetPosition / 4,
		tex:     o.StrideOffsetTexture / 4,
		norm:    o.StrideOffsetNormal / 4,
		hasTex:  o.TextCoordFound,
		hasNorm: o.NormCoordFound,
	}
	switch {
	case l.hasNorm && l.norm+3 > l.stride, l.hasTex && l.tex+2 > l.stride, l.pos+3 > l.stride:
		return objLayout{}, fmt.Errorf("%w: vertex attributes exceed stride %d", ErrMalformedMesh, l.stride)
	}
	if l.stride < 3 || len(l.coord)%l.stride != 0 {
		return objLayout{}, fmt.Errorf("%w: vertex stride %d over %d floats", ErrMalformedMesh, l.stride, len(l.coord))
	}
	l.vertices = len(l.coord) / l.stride
	return l, nil
}

// mesh copies the vertices referenced by indices into a standalone mesh,
// renumbered from zero in first-use order.
func (l objLayout) mesh(name string, indices []int) (Mesh, error) {
	if len(indices)%3 != 0 {
		return Mesh{}, fmt.Errorf("%w: group %q has %d indices", ErrMalformedMesh, name, len(indices))
	}

	m := Mesh{Name: name, Indices: make([]uint32, len(indices))}
	remap := make(map[int]uint32)
	for i, src := range indices {
		if src < 0 || src >= l.vertices {
			return Mesh{}, fmt.Errorf("%w: index %d out of range (%d vertices)", ErrMalformedMesh, src, l.vertices)
		}
		dst, ok := remap[src]
		if !ok {
			dst = uint32(len(m.Positions))
			remap[src] = dst
			v := l.coord[src*l.stride : (src+1)*l.stride]
			m.Positions = append(m.Positions, Vec3{v[l.pos], v[l.pos+1], v[l.pos+2]})
			if l.hasNorm {
				m.Normals = append(m.Normals, Vec3{v[l.norm], v[l.norm+1], v[l.norm+2]})
			}
			if l.hasTex {
				m.UVs = append(m.UVs, [2]float32{v[l.tex], v[l.tex+1]})
			}
		}
		m.Indices[i] = dst
	}
	return m, nil
}

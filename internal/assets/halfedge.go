package assets

import "fmt"

type HalfEdge struct {
	Next   uint32
	Twin   uint32
	Origin uint32
	Face   uint32
}

type FacePlane struct {
	Normal Vec3
	D      float32
}

// HalfEdgeMesh is the convex hull representation used by hull collision
// primitives. Faces[i] is the first half-edge of face i.
type HalfEdgeMesh struct {
	Vertices  []Vec3
	HalfEdges []HalfEdge
	Faces     []uint32
	Planes    []FacePlane
}

// NewHalfEdgeMesh links polygon faces (counter-clockwise seen from outside)
// into a half-edge structure. Every edge must be shared by exactly two faces
// with opposite winding.
func NewHalfEdgeMesh(vertices []Vec3, faces [][]uint32) (HalfEdgeMesh, error) {
	type edgeKey struct{ from, to uint32 }

	m := HalfEdgeMesh{
		Vertices: append([]Vec3(nil), vertices...),
		Faces:    make([]uint32, 0, len(faces)),
		Planes:   make([]FacePlane, 0, len(faces)),
	}
	byEdge := make(map[edgeKey]uint32)

	for f, face := range faces {
		if len(face) < 3 {
			return HalfEdgeMesh{}, fmt.Errorf("%w: face %d has %d vertices", ErrNotManifold, f, len(face))
		}

		base := uint32(len(m.HalfEdges))
		m.Faces = append(m.Faces, base)

		for i, v := range face {
			if int(v) >= len(vertices) {
				return HalfEdgeMesh{}, fmt.Errorf("%w: face %d references vertex %d", ErrNotManifold, f, v)
			}
			to := face[(i+1)%len(face)]
			key := edgeKey{v, to}
			if _, dup := byEdge[key]; dup {
				return HalfEdgeMesh{}, fmt.Errorf("%w: edge %d->%d used twice", ErrNotManifold, v, to)
			}

			idx := base + uint32(i)
			byEdge[key] = idx
			m.HalfEdges = append(m.HalfEdges, HalfEdge{
				Next:   base + uint32((i+1)%len(face)),
				Origin: v,
				Face:   uint32(f),
			})
		}

		a, b, c := vertices[face[0]], vertices[face[1]], vertices[face[2]]
		n := b.Sub(a).Cross(c.Sub(a)).Normalize()
		m.Planes = append(m.Planes, FacePlane{Normal: n, D: n.Dot(a)})
	}

	for key, idx := range byEdge {
		twin, ok := byEdge[edgeKey{key.to, key.from}]
		if !ok {
			return HalfEdgeMesh{}, fmt.Errorf("%w: edge %d->%d has no twin", ErrNotManifold, key.from, key.to)
		}
		m.HalfEdges[idx].Twin = twin
	}

	return m, nil
}

// ConstructCube returns the hull of the cube [-1, 1]^3.
func ConstructCube() HalfEdgeMesh {
	vertices := []Vec3{
		{-1, -1, -1},
		{1, -1, -1},
		{1, 1, -1},
		{-1, 1, -1},
		{-1, -1, 1},
		{1, -1, 1},
		{1, 1, 1},
		{-1, 1, 1},
	}
	faces := [][]uint32{
		{0, 3, 2, 1}, // -z
		{4, 5, 6, 7}, // +z
		{0, 1, 5, 4}, // -y
		{2, 3, 7, 6}, // +y
		{0, 4, 7, 3}, // -x
		{1, 2, 6, 5}, // +x
	}

	m, err := NewHalfEdgeMesh(vertices, faces)
	if err != nil {
		panic(fmt.Sprintf("assets: cube hull: %v", err))
	}
	return m
}

// NumEdges counts undirected edges.
func (m HalfEdgeMesh) NumEdges() int { return len(m.HalfEdges) / 2 }

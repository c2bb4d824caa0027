package assets

import (
	"fmt"
	"math"
)

type Vec3 struct {
	X, Y, Z float32
}

func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

func (a Vec3) Dot(b Vec3) float32 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

func (a Vec3) Normalize() Vec3 {
	l := float32(math.Sqrt(float64(a.Dot(a))))
	if l == 0 {
		return a
	}
	return Vec3{a.X / l, a.Y / l, a.Z / l}
}

type AABB struct {
	Min, Max Vec3
}

func (b AABB) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// ObjectKind indexes the canonical catalog.
type ObjectKind int

const (
	Sphere ObjectKind = iota
	Plane
	Cube

	NumObjects = 3
)

// Kinds lists the canonical objects in catalog order.
var Kinds = [NumObjects]ObjectKind{Sphere, Plane, Cube}

func (k ObjectKind) String() string {
	switch k {
	case Sphere:
		return "sphere"
	case Plane:
		return "plane"
	case Cube:
		return "cube"
	}
	return fmt.Sprintf("ObjectKind(%d)", int(k))
}

// FileName is the render mesh file for the object inside the data directory.
func (k ObjectKind) FileName() string { return k.String() + ".obj" }

type RigidBodyMetadata struct {
	InvInertia Vec3
}

type PrimitiveType int

const (
	PrimitiveSphere PrimitiveType = iota
	PrimitivePlane
	PrimitiveHull
)

func (p PrimitiveType) String() string {
	switch p {
	case PrimitiveSphere:
		return "sphere"
	case PrimitivePlane:
		return "plane"
	case PrimitiveHull:
		return "hull"
	}
	return fmt.Sprintf("PrimitiveType(%d)", int(p))
}

// CollisionPrimitive is a tagged union; only the field matching Type is set.
type CollisionPrimitive struct {
	Type   PrimitiveType
	Radius float32
	Hull   *HalfEdgeMesh
}

type PhysicsObject struct {
	Kind      ObjectKind
	Metadata  RigidBodyMetadata
	AABB      AABB
	Primitive CollisionPrimitive
}

type PhysicsCatalog [NumObjects]PhysicsObject

var (
	unitInvInertia = Vec3{1, 1, 1}
	unitBox        = AABB{Min: Vec3{-1, -1, -1}, Max: Vec3{1, 1, 1}}
	infiniteBox    = AABB{
		Min: Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
		Max: Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
	}
)

// BuildPhysicsCatalog returns the canonical physics objects.
func BuildPhysicsCatalog() PhysicsCatalog {
	hull := ConstructCube()

	return PhysicsCatalog{
		Sphere: {
			Kind:      Sphere,
			Metadata:  RigidBodyMetadata{InvInertia: unitInvInertia},
			AABB:      unitBox,
			Primitive: CollisionPrimitive{Type: PrimitiveSphere, Radius: 1},
		},
		Plane: {
			Kind:      Plane,
			Metadata:  RigidBodyMetadata{InvInertia: unitInvInertia},
			AABB:      infiniteBox,
			Primitive: CollisionPrimitive{Type: PrimitivePlane},
		},
		Cube: {
			Kind:      Cube,
			Metadata:  RigidBodyMetadata{InvInertia: unitInvInertia},
			AABB:      unitBox,
			Primitive: CollisionPrimitive{Type: PrimitiveHull, Hull: &hull},
		},
	}
}

// Split returns the catalog as the parallel slices a PhysicsLoader takes.
func (c PhysicsCatalog) Split() ([]RigidBodyMetadata, []AABB, []CollisionPrimitive) {
	metas := make([]RigidBodyMetadata, 0, len(c))
	aabbs := make([]AABB, 0, len(c))
	prims := make([]CollisionPrimitive, 0, len(c))
	for _, obj := range c {
		metas = append(metas, obj.Metadata)
		aabbs = append(aabbs, obj.AABB)
		prims = append(prims, obj.Primitive)
	}
	return metas, aabbs, prims
}

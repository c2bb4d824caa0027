package assets

import "fmt"

type StorageType int

const (
	StorageHost StorageType = iota
	StorageDevice
)

func (s StorageType) String() string {
	if s == StorageDevice {
		return "device"
	}
	return "host"
}

// DefaultLoaderCapacity is the number of physics objects a loader holds.
const DefaultLoaderCapacity = 10

// ObjectManager is the read side of loaded physics objects.
type ObjectManager struct {
	Metadata   []RigidBodyMetadata
	AABBs      []AABB
	Primitives []CollisionPrimitive
}

func (m *ObjectManager) Len() int { return len(m.Metadata) }

// PhysicsLoader accumulates rigid body descriptions for one storage target.
type PhysicsLoader struct {
	storage  StorageType
	capacity int
	objects  ObjectManager
}

func NewPhysicsLoader(storage StorageType, capacity int) *PhysicsLoader {
	return &PhysicsLoader{
		storage:  storage,
		capacity: capacity,
		objects: ObjectManager{
			Metadata:   make([]RigidBodyMetadata, 0, capacity),
			AABBs:      make([]AABB, 0, capacity),
			Primitives: make([]CollisionPrimitive, 0, capacity),
		},
	}
}

func (l *PhysicsLoader) Storage() StorageType { return l.storage }

// LoadObjects appends parallel object descriptions and returns the index of
// the first one.
func (l *PhysicsLoader) LoadObjects(metas []RigidBodyMetadata, aabbs []AABB, prims []CollisionPrimitive) (int, error) {
	if len(metas) != len(aabbs) || len(metas) != len(prims) {
		return 0, fmt.Errorf("%w: %d metadata, %d aabbs, %d primitives", ErrMismatchedInput, len(metas), len(aabbs), len(prims))
	}
	if l.objects.Len()+len(metas) > l.capacity {
		return 0, fmt.Errorf("%w: %d loaded, %d more exceeds capacity %d", ErrLoaderFull, l.objects.Len(), len(metas), l.capacity)
	}

	for _, p := range prims {
		if p.Type == PrimitiveHull && p.Hull == nil {
			return 0, fmt.Errorf("%w: hull primitive without mesh", ErrMismatchedInput)
		}
	}

	first := l.objects.Len()
	l.objects.Metadata = append(l.objects.Metadata, metas...)
	l.objects.AABBs = append(l.objects.AABBs, aabbs...)
	l.objects.Primitives = append(l.objects.Primitives, prims...)
	return first, nil
}

// LoadCatalog loads the canonical catalog in order.
func (l *PhysicsLoader) LoadCatalog(c PhysicsCatalog) (int, error) {
	metas, aabbs, prims := c.Split()
	return l.LoadObjects(metas, aabbs, prims)
}

func (l *PhysicsLoader) ObjectManager() *ObjectManager { return &l.objects }

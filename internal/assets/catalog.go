package assets

import (
	"errors"
	"fmt"
	"path/filepath"
)

// RenderCatalog holds the imported render meshes, indexed like PhysicsCatalog.
type RenderCatalog [NumObjects]*ImportedObject

// LoadRenderCatalog imports the canonical meshes from dataDir in catalog
// order. It stops at the first object that cannot be imported.
func LoadRenderCatalog(imp Importer, dataDir string) (RenderCatalog, error) {
	var rc RenderCatalog
	for _, kind := range Kinds {
		path := filepath.Join(dataDir, kind.FileName())
		obj, err := imp.Import(path)
		if err != nil {
			if !errors.Is(err, ErrAssetMissing) {
				err = fmt.Errorf("%w: %w", ErrAssetMissing, err)
			}
			return RenderCatalog{}, fmt.Errorf("failed to load %s: %w", kind, err)
		}
		if obj == nil || len(obj.Meshes) == 0 {
			return RenderCatalog{}, fmt.Errorf("failed to load %s: %w: %s has no meshes", kind, ErrAssetMissing, path)
		}
		rc[kind] = obj
	}
	return rc, nil
}

type Catalog struct {
	Physics PhysicsCatalog
	Render  RenderCatalog
}

// Load builds the physics catalog and imports the render catalog.
func Load(imp Importer, dataDir string) (Catalog, error) {
	render, err := LoadRenderCatalog(imp, dataDir)
	if err != nil {
		return Catalog{}, err
	}
	return Catalog{
		Physics: BuildPhysicsCatalog(),
		Render:  render,
	}, nil
}

// Objects lists catalog entries in order for display.
func (c Catalog) Objects() []ObjectSummary {
	out := make([]ObjectSummary, 0, NumObjects)
	for _, kind := range Kinds {
		s := ObjectSummary{
			Index:     int(kind),
			Kind:      kind,
			Primitive: c.Physics[kind].Primitive.Type,
			AABB:      c.Physics[kind].AABB,
		}
		if obj := c.Render[kind]; obj != nil {
			s.File = obj.Path
			s.Meshes = len(obj.Meshes)
			for i := range obj.Meshes {
				s.Vertices += len(obj.Meshes[i].Positions)
				s.Triangles += obj.Meshes[i].NumTriangles()
			}
		}
		out = append(out, s)
	}
	return out
}

type ObjectSummary struct {
	Index     int
	Kind      ObjectKind
	Primitive PrimitiveType
	AABB      AABB
	File      string
	Meshes    int
	Vertices  int
	Triangles int
}

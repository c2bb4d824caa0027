// Package assets builds the fixed scene catalog every world shares.
//
// The catalog has exactly three canonical objects, always in this order:
//
//   - [Sphere] (index 0): unit sphere primitive
//   - [Plane] (index 1): infinite ground plane
//   - [Cube] (index 2): convex hull built from a half-edge cube
//
// Physics descriptions come from [BuildPhysicsCatalog]. Render meshes are
// imported from <dataDir>/sphere.obj, plane.obj and cube.obj by
// [LoadRenderCatalog]; the two lists share the same indexing.
//
// A missing or unreadable mesh file is reported as [ErrAssetMissing]. The
// catalog is a deployment invariant, so callers are expected to treat it as
// fatal.
package assets

package assets

import "errors"

var (
	// ErrAssetMissing indicates a mesh file that is absent or unreadable.
	ErrAssetMissing = errors.New("assets: asset missing")

	// ErrMalformedMesh indicates a mesh file that could be read but not parsed.
	ErrMalformedMesh = errors.New("assets: malformed mesh")

	// ErrMismatchedInput indicates parallel physics slices of different lengths.
	ErrMismatchedInput = errors.New("assets: mismatched physics input")

	// ErrLoaderFull indicates the physics loader capacity is exhausted.
	ErrLoaderFull = errors.New("assets: physics loader full")

	// ErrNotManifold indicates polygon input that does not form a closed surface.
	ErrNotManifold = errors.New("assets: mesh is not a closed manifold")
)

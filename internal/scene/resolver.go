package scene

import (
	"context"
	"errors"
	"fmt"
)

// Resolver turns scene references into Scenes via a Catalog.
type Resolver struct {
	catalog Catalog
	roles   BandRoles
}

// NewResolver builds a resolver. Scenes missing any required band role are
// treated as unresolvable.
func NewResolver(catalog Catalog, roles BandRoles) (*Resolver, error) {
	if catalog == nil {
		return nil, fmt.Errorf("scene: catalog is required")
	}
	if err := roles.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{catalog: catalog, roles: roles}, nil
}

// Resolve looks up a single reference.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (*Scene, error) {
	data, meta, err := r.catalog.Lookup(ctx, ref.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &SceneNotFoundError{ID: ref.ID, Err: err}
	}
	if data == nil {
		return nil, &SceneNotFoundError{ID: ref.ID, Err: ErrNotFound}
	}
	if err := data.HasBands(r.roles.Required()...); err != nil {
		return nil, &SceneNotFoundError{ID: ref.ID, Err: err}
	}
	if meta.ID == "" {
		meta.ID = ref.ID
	}
	if meta.Tile == "" || meta.Acquired.IsZero() {
		parsed := ParseID(ref.ID)
		if meta.Tile == "" {
			meta.Tile = parsed.Tile
		}
		if meta.Acquired.IsZero() {
			meta.Acquired = parsed.Acquired
		}
	}
	return &Scene{Ref: ref, Metadata: meta, Raster: data}, nil
}

// ResolveAll resolves refs in the order supplied. Unresolvable scenes are
// excluded and reported; only context cancellation aborts the call. Resolved
// scenes keep their original list position in Scene.Order.
func (r *Resolver) ResolveAll(ctx context.Context, refs []Ref) ([]*Scene, []*SceneNotFoundError, error) {
	scenes := make([]*Scene, 0, len(refs))
	var missing []*SceneNotFoundError
	for idx, ref := range refs {
		sc, err := r.Resolve(ctx, ref)
		if err != nil {
			var notFound *SceneNotFoundError
			if errors.As(err, &notFound) {
				missing = append(missing, notFound)
				continue
			}
			return nil, missing, err
		}
		sc.Order = idx
		scenes = append(scenes, sc)
	}
	return scenes, missing, nil
}

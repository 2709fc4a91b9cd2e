package scene

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/reefcomp/internal/raster"
)

// ErrNotFound is returned by catalogs for identifiers they do not hold.
var ErrNotFound = errors.New("scene: not found")

// SceneNotFoundError records an identifier that could not be resolved.
type SceneNotFoundError struct {
	ID  string
	Err error
}

func (e *SceneNotFoundError) Error() string {
	if e.Err == nil || errors.Is(e.Err, ErrNotFound) {
		return fmt.Sprintf("scene: %s not found", e.ID)
	}
	return fmt.Sprintf("scene: %s not resolved: %v", e.ID, e.Err)
}

func (e *SceneNotFoundError) Unwrap() error {
	return e.Err
}

// Catalog is the imagery provider consulted by the resolver.
type Catalog interface {
	Lookup(ctx context.Context, id string) (*raster.Raster, Metadata, error)
}

// MemoryCatalog serves scenes held in memory. It backs tests and plan runs
// that synthesise imagery.
type MemoryCatalog struct {
	mu     sync.RWMutex
	scenes map[string]memoryEntry
}

type memoryEntry struct {
	raster *raster.Raster
	meta   Metadata
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{scenes: make(map[string]memoryEntry)}
}

// Add stores a copy of r under id. Missing metadata fields are derived from
// the identifier.
func (c *MemoryCatalog) Add(id string, r *raster.Raster, meta Metadata) error {
	if id == "" {
		return fmt.Errorf("scene: id is required")
	}
	if r == nil {
		return fmt.Errorf("scene: raster is required for %s", id)
	}
	parsed := ParseID(id)
	if meta.ID == "" {
		meta.ID = id
	}
	if meta.Tile == "" {
		meta.Tile = parsed.Tile
	}
	if meta.Acquired.IsZero() {
		meta.Acquired = parsed.Acquired
	}
	if meta.Source == "" {
		meta.Source = parsed.Source
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scenes[id] = memoryEntry{raster: r.Clone(), meta: meta}
	return nil
}

// Lookup implements Catalog. The returned raster is a private copy.
func (c *MemoryCatalog) Lookup(ctx context.Context, id string) (*raster.Raster, Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, Metadata{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.scenes[id]
	if !ok {
		return nil, Metadata{}, ErrNotFound
	}
	return entry.raster.Clone(), entry.meta, nil
}

// IDs returns the stored identifiers sorted.
func (c *MemoryCatalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.scenes))
	for id := range c.scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package zones

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
)

// Source supplies the current zone configuration.
type Source interface {
	LoadZones(ctx context.Context) ([]model.Zone, error)
}

// Resolver holds the live zone snapshot. Readers grab the current *Index and
// resolve against it; Reload publishes a new one without blocking them.
type Resolver struct {
	current  atomic.Pointer[Index]
	cellSize float64
	logger   *zap.Logger
}

// NewResolver creates a resolver with an empty snapshot.
func NewResolver(cellSize float64, logger *zap.Logger) *Resolver {
	r := &Resolver{cellSize: cellSize, logger: logger}
	r.current.Store(&Index{byID: map[string]int{}})
	return r
}

// Snapshot returns the index in effect right now.
func (r *Resolver) Snapshot() *Index {
	return r.current.Load()
}

// Swap publishes ix and returns the previous snapshot.
func (r *Resolver) Swap(ix *Index) *Index {
	return r.current.Swap(ix)
}

// Resolve resolves (x, y) against the current snapshot.
func (r *Resolver) Resolve(x, y float64) (string, bool) {
	return r.current.Load().Resolve(x, y)
}

// Reload builds a new index from src and swaps it in. On error the previous
// snapshot stays in effect.
func (r *Resolver) Reload(ctx context.Context, src Source) error {
	zs, err := src.LoadZones(ctx)
	if err != nil {
		return fmt.Errorf("failed to load zones: %w", err)
	}
	ix, err := NewIndex(zs, r.cellSize)
	if err != nil {
		return fmt.Errorf("failed to build zone index: %w", err)
	}
	for _, pair := range ix.Overlaps() {
		r.logger.Warn("Overlapping zones, resolving by priority",
			zap.String("zone_a", pair[0]),
			zap.String("zone_b", pair[1]),
		)
	}
	r.Swap(ix)
	r.logger.Info("Zone snapshot loaded", zap.Int("active_zones", ix.Len()))
	return nil
}

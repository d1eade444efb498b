// Package partition owns the fixed set of per-mode storage
// partitions. Partitions never share rows; cross-partition reads are
// composed by callers iterating All().
package partition

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"stopboard.dev/board/model"
	"stopboard.dev/board/snapshot"
	"stopboard.dev/board/storage"
)

var ErrNotFound = errors.New("partition not registered")

// A Partition is the isolated storage unit for one route type. It
// owns its store (schedule tables plus live tables) and its current
// schedule snapshot. The snapshot reference is swapped atomically on
// re-import; in-flight reads against the old snapshot complete
// unaffected.
type Partition struct {
	RouteType model.RouteType

	store storage.Store
	snap  atomic.Pointer[snapshot.Snapshot]
}

func (p *Partition) Store() storage.Store {
	return p.store
}

func (p *Partition) Snapshot() *snapshot.Snapshot {
	return p.snap.Load()
}

func (p *Partition) SetSnapshot(snap *snapshot.Snapshot) {
	p.snap.Store(snap)
}

type Registry struct {
	mu    sync.RWMutex
	order []model.RouteType
	parts map[model.RouteType]*Partition
}

func NewRegistry() *Registry {
	return &Registry{
		parts: map[model.RouteType]*Partition{},
	}
}

// Register creates the partition for routeType, or replaces its
// schedule snapshot if it already exists. When replacing, a non-nil
// store also replaces (and closes) the partition's previous store.
func (r *Registry) Register(routeType model.RouteType, store storage.Store, snap *snapshot.Snapshot) *Partition {
	r.mu.Lock()
	defer r.mu.Unlock()

	part, found := r.parts[routeType]
	if !found {
		part = &Partition{
			RouteType: routeType,
			store:     store,
		}
		r.parts[routeType] = part
		r.order = append(r.order, routeType)
	} else if store != nil && store != part.store {
		if part.store != nil {
			part.store.Close()
		}
		part.store = store
	}

	part.SetSnapshot(snap)

	return part
}

func (r *Registry) Get(routeType model.RouteType) (*Partition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	part, found := r.parts[routeType]
	if !found {
		return nil, errors.Wrapf(ErrNotFound, "route type %d", routeType)
	}
	return part, nil
}

// All returns the partitions in registration order.
func (r *Registry) All() []*Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parts := make([]*Partition, 0, len(r.order))
	for _, routeType := range r.order {
		parts = append(parts, r.parts[routeType])
	}
	return parts
}

// Close closes every partition's store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, part := range r.parts {
		if part.store == nil {
			continue
		}
		if err := part.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Package pending implements the id -> completion handle map the RSM
// driver uses to hand results back to submitters.
//
// Entries are weakly retained from the map's side, mirroring the
// original implementation's Guava LoadingCache with weakValues(): once
// no submitter still holds a handle, the map may evict it before or
// after application. The apply loop tolerates a missing entry.
package pending

import (
	"context"
	"runtime"
	"sync"
	"weak"

	"github.com/parliament/rsm-core/api"
)

// cell is a one-shot completion handle. The zero value is not usable;
// construct with newCell.
type cell struct {
	once sync.Once
	done chan struct{}
	out  api.Output
	err  error
}

func newCell() *cell {
	return &cell{done: make(chan struct{})}
}

func (c *cell) Wait(ctx context.Context) (api.Output, error) {
	select {
	case <-c.done:
		return c.out, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *cell) complete(out api.Output, err error) {
	c.once.Do(func() {
		c.out = out
		c.err = err
		close(c.done)
	})
}

// Map is a thread-safe id -> completion handle mapping. The zero value
// is not usable; construct with New.
type Map struct {
	mu sync.Mutex
	m  map[int64]weak.Pointer[cell]
}

// New returns an empty Map.
func New() *Map {
	return &Map{m: make(map[int64]weak.Pointer[cell])}
}

// GetOrCreate returns the handle for id, creating one if absent or if
// the previous one has been collected. Idempotent while a strong
// reference to the previous handle is still reachable.
func (m *Map) GetOrCreate(id int64) api.PendingResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(id)
}

func (m *Map) getOrCreateLocked(id int64) *cell {
	if wp, ok := m.m[id]; ok {
		if c := wp.Value(); c != nil {
			return c
		}
	}

	c := newCell()
	m.m[id] = weak.Make(c)
	runtime.AddCleanup(c, m.evictIfCollected, id)
	return c
}

// evictIfCollected drops the map entry for id once its cell has been
// garbage collected. Must not close over the cell itself, or the
// cleanup would keep it alive forever.
func (m *Map) evictIfCollected(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wp, ok := m.m[id]; ok && wp.Value() == nil {
		delete(m.m, id)
	}
}

// Complete delivers output/err to the handle under id, and so to any
// current waiter and to later GetOrCreate callers for as long as that
// handle has not been collected. If no submitter is listening, a fresh
// handle is created, completed and left eligible for collection; a
// GetOrCreate after its collection gets a new handle that is never
// completed.
func (m *Map) Complete(id int64, output api.Output, err error) {
	m.mu.Lock()
	c := m.getOrCreateLocked(id)
	m.mu.Unlock()
	c.complete(output, err)
}

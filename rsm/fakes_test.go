package rsm

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/parliament/rsm-core/api"
)

// syncPersistence is a thread-safe in-memory api.Persistence, since it
// is shared between the apply loop goroutine and the test goroutine.
type syncPersistence struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newSyncPersistence() *syncPersistence {
	return &syncPersistence{m: make(map[string][]byte)}
}

func (p *syncPersistence) Put(_ context.Context, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[string(key)] = append([]byte(nil), value...)
	return nil
}

func (p *syncPersistence) Get(_ context.Context, key []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m[string(key)], nil
}

func (p *syncPersistence) Remove(_ context.Context, key []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, string(key))
	return nil
}

func encodeInt32(v int64) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

// fakeCoordinator is a single-process stand-in for api.Coordinator
// with controllable decide timing: a test decides a slot whenever it
// wants by calling Decide, and Instance blocks until that happens or
// its context expires.
type fakeCoordinator struct {
	mu      sync.Mutex
	decided map[int64][]byte
	max     int64
	waiters map[int64][]chan struct{}

	learned   []int64
	forgotten []int64
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		decided: make(map[int64][]byte),
		max:     -1,
		waiters: make(map[int64][]chan struct{}),
	}
}

// Decide records id as decided and wakes any Instance callers waiting
// on it. It is the test-side equivalent of a Paxos instance reaching
// consensus.
func (c *fakeCoordinator) Decide(id int64, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decided[id] = value
	if id > c.max {
		c.max = id
	}
	for _, ch := range c.waiters[id] {
		close(ch)
	}
	delete(c.waiters, id)
}

func (c *fakeCoordinator) Coordinate(_ context.Context, id int64, value []byte) error {
	c.Decide(id, value)
	return nil
}

func (c *fakeCoordinator) Instance(ctx context.Context, id int64) ([]byte, error) {
	c.mu.Lock()
	if v, ok := c.decided[id]; ok {
		c.mu.Unlock()
		return v, nil
	}
	ch := make(chan struct{})
	c.waiters[id] = append(c.waiters[id], ch)
	c.mu.Unlock()

	select {
	case <-ch:
		c.mu.Lock()
		v := c.decided[id]
		c.mu.Unlock()
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeCoordinator) Learn(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.learned = append(c.learned, id)
}

func (c *fakeCoordinator) Max() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

func (c *fakeCoordinator) Forget(_ context.Context, before int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgotten = append(c.forgotten, before)
	for id := range c.decided {
		if id < before {
			delete(c.decided, id)
		}
	}
	return nil
}

func (c *fakeCoordinator) learnedIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.learned...)
}

func (c *fakeCoordinator) forgottenCalls() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.forgotten...)
}

// countingTransfer records every applied id, in the order Transform
// was invoked, including redundant re-applies after a simulated crash.
type countingTransfer struct {
	mu      sync.Mutex
	applied []int64
	fail    map[int64]int // id -> number of remaining forced failures
}

func newCountingTransfer() *countingTransfer {
	return &countingTransfer{fail: make(map[int64]int)}
}

func (t *countingTransfer) Transform(in *api.Input) (api.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.fail[in.ID]; n > 0 {
		t.fail[in.ID] = n - 1
		return nil, errors.New("injected transform failure")
	}
	t.applied = append(t.applied, in.ID)
	return append([]byte(nil), in.Content...), nil
}

func (t *countingTransfer) failNextFor(id int64, times int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail[id] = times
}

func (t *countingTransfer) appliedIDs() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.applied...)
}

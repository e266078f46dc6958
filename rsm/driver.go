// Package rsm implements the replicated state machine driver: it
// assigns instance ids to client submissions, drives each through
// consensus, and applies decided values strictly in order, exactly
// once, durably.
package rsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/parliament/rsm-core/api"
	"github.com/parliament/rsm-core/internal/codec"
	"github.com/parliament/rsm-core/internal/pending"
	"github.com/parliament/rsm-core/internal/redolog"
)

var doneKey = []byte("rsm_done")

var _ api.Driver = (*Driver)(nil)

// Driver is the RSM facade: NewState/Submit/Done/Max/Forget/Start/Stop.
type Driver struct {
	logger *slog.Logger
	cfg    *api.RSMConfig

	persistence api.Persistence
	sequence    api.Sequence
	coordinator api.Coordinator
	transfer    api.StateTransfer

	pending *pending.Map
	redo    *redolog.Log

	// seqMu serializes sequence.Next (from NewState) against the
	// compound read-then-set in syncMaxAndSequence, so a submitter can
	// never allocate an id already decided remotely.
	seqMu sync.Mutex

	done atomic.Int64
	max  atomic.Int64

	// forgetCounter is only ever touched by the apply loop goroutine.
	forgetCounter int

	stopping  chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
}

func newDriver(
	persistence api.Persistence,
	sequence api.Sequence,
	coordinator api.Coordinator,
	cfg *api.RSMConfig,
	log *slog.Logger,
) *Driver {
	return &Driver{
		logger:      log,
		cfg:         cfg,
		persistence: persistence,
		sequence:    sequence,
		coordinator: coordinator,
		pending:     pending.New(),
		redo:        redolog.New(persistence, log),
		stopping:    make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// NewState allocates id = sequence.Next() and a fresh uuid.
func (d *Driver) NewState(content []byte) (*api.Input, error) {
	d.seqMu.Lock()
	id := d.sequence.Next()
	d.seqMu.Unlock()

	u, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("rsm: generate uuid: %w", err)
	}

	return &api.Input{
		ID:      id,
		UUID:    []byte(u.String()),
		Content: content,
	}, nil
}

// Submit persists input via the coordinator and returns a handle
// resolved once input.ID has been applied.
func (d *Driver) Submit(input *api.Input) (api.PendingResult, error) {
	if input.ID > d.sequence.Current() {
		return nil, fmt.Errorf("%w: input id %d > sequence current value %d", api.ErrPrecondition, input.ID, d.sequence.Current())
	}

	b, err := codec.Serialize(input)
	if err != nil {
		return nil, fmt.Errorf("rsm: submit id %d: %w", input.ID, err)
	}

	// Take the handle before coordinating, so it is strongly held by the
	// time the apply loop can complete it.
	pr := d.pending.GetOrCreate(input.ID)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistenceTimeout)
	defer cancel()
	if err := d.coordinator.Coordinate(ctx, input.ID, b); err != nil {
		return nil, fmt.Errorf("rsm: coordinate id %d: %w", input.ID, err)
	}

	return pr, nil
}

// Done returns the highest durably applied id, -1 if none.
func (d *Driver) Done() int64 {
	return d.done.Load()
}

// Max returns the highest id the coordinator has observed cluster wide.
func (d *Driver) Max() int64 {
	return d.max.Load()
}

// Forget delegates to Coordinator.Forget(before).
func (d *Driver) Forget(before int64) error {
	if before > d.Done() {
		return fmt.Errorf("%w: forget before %d > done %d", api.ErrPrecondition, before, d.Done())
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistenceTimeout)
	defer cancel()
	return d.coordinator.Forget(ctx, before)
}

// Start recovers progress and dispatches the apply loop.
func (d *Driver) Start(transfer api.StateTransfer) error {
	var startErr error
	d.startOnce.Do(func() {
		d.transfer = transfer
		startErr = d.recover()
		if startErr != nil {
			return
		}
		go d.runApplyLoop()
	})
	return startErr
}

// Stop requests cooperative shutdown and blocks until the apply loop
// has exited.
func (d *Driver) Stop() error {
	close(d.stopping)
	<-d.stopped
	return nil
}

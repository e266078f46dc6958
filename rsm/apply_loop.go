package rsm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/parliament/rsm-core/api"
	"github.com/parliament/rsm-core/internal/codec"
	"github.com/parliament/rsm-core/pkg/logger"
)

// exitFunc is called on a fatal codec error. A package variable so
// tests can observe the fatal path without killing the test binary.
var exitFunc = os.Exit

// runApplyLoop is the single-threaded engine that advances done
// strictly by one, per successful apply. No other goroutine writes
// done, writes the redo log, calls StateTransfer.Transform, or
// advances sequence via syncMaxAndSequence.
func (d *Driver) runApplyLoop() {
	defer close(d.stopped)
	for {
		select {
		case <-d.stopping:
			return
		default:
		}
		d.applyOne()
	}
}

// applyOne attempts to apply exactly one id: target = Done()+1.
func (d *Driver) applyOne() {
	target := d.Done() + 1

	fetchCtx, cancel := context.WithTimeout(context.Background(), d.cfg.InstanceFetchTimeout)
	value, err := d.coordinator.Instance(fetchCtx, target)
	cancel()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.catchUp(target)
			return
		}
		d.logger.Warn("rsm: transient error fetching decided instance", slog.Int64("id", target), logger.ErrAttr(err))
		return
	}

	input, err := codec.Deserialize(value)
	if err != nil {
		d.logger.Error("rsm: fatal: cannot deserialize decided instance, exiting", slog.Int64("id", target), logger.ErrAttr(err))
		exitFunc(1)
		return
	}

	d.applyDecided(input)
}

// catchUp is triggered whenever the coordinator has not decided target
// within the fetch timeout. It is not an error: done is left
// untouched, and the loop asks peers to resend every slot from target
// up to the coordinator's Max (none when Max is below target).
func (d *Driver) catchUp(target int64) {
	max := d.coordinator.Max()
	d.max.Store(max)
	for i := target; i <= max; i++ {
		d.coordinator.Learn(i)
	}
}

// applyDecided runs steps 2-8 of the apply algorithm: WAL pre-write,
// transform, publish, durable advance, resync, periodic trim, and a
// WAL clear that always runs regardless of which step above returned
// early.
func (d *Driver) applyDecided(input *api.Input) {
	writeCtx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistenceTimeout)
	writeErr := d.redo.Write(writeCtx, d.Done())
	cancel()

	defer func() {
		clearCtx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistenceTimeout)
		defer cancel()
		if err := d.redo.Clear(clearCtx); err != nil {
			d.logger.Warn("rsm: failed to clear redo log", logger.ErrAttr(err))
		}
	}()

	if writeErr != nil {
		d.logger.Warn("rsm: transient error writing redo log", slog.Int64("id", input.ID), logger.ErrAttr(writeErr))
		return
	}

	output, err := d.transfer.Transform(input)
	if err != nil {
		d.logger.Warn("rsm: transient error in state transfer, will retry", slog.Int64("id", input.ID), logger.ErrAttr(err))
		return
	}

	d.pending.Complete(input.ID, output, nil)

	advanceCtx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistenceTimeout)
	err = d.advanceDone(advanceCtx, input.ID)
	cancel()
	if err != nil {
		d.logger.Error("rsm: failed to durably advance done pointer, will retry", slog.Int64("id", input.ID), logger.ErrAttr(err))
		return
	}

	d.syncMaxAndSequence()
	d.maybeForget()
}

// advanceDone durably records target as done and then updates the
// in-memory pointer.
func (d *Driver) advanceDone(ctx context.Context, target int64) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(target))
	if err := d.persistence.Put(ctx, doneKey, buf); err != nil {
		return fmt.Errorf("rsm: put %s: %w", doneKey, err)
	}
	d.done.Store(target)
	return nil
}

// syncMaxAndSequence prevents reallocating ids that another node has
// already decided: if the cluster has progressed past the local
// sequence, the local allocator is fast-forwarded.
func (d *Driver) syncMaxAndSequence() {
	max := d.coordinator.Max()
	d.max.Store(max)

	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	if max >= d.sequence.Current() {
		d.sequence.Set(max + 1)
	}
}

// maybeForget trims the coordinator's records every ForgetEvery
// successful applies. The counter lives only in memory and resets on
// restart; this mirrors the original design's behavior exactly.
func (d *Driver) maybeForget() {
	d.forgetCounter++
	if d.forgetCounter < d.cfg.ForgetEvery {
		return
	}
	d.forgetCounter = 0

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistenceTimeout)
	defer cancel()
	if err := d.coordinator.Forget(ctx, d.Done()); err != nil {
		d.logger.Warn("rsm: periodic forget failed", logger.ErrAttr(err))
	}
}

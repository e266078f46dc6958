package rsm

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
)

// recover restores done and sequence from durable state before the
// apply loop begins.
//
// If a redo record is present, done is restored to its value: the
// redo record holds the value of done from before the in-flight apply
// began, so re-driving from there is always safe under
// StateTransfer's idempotence contract, whether the crash happened
// before or after RSM_DONE was updated.
func (d *Driver) recover() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistenceTimeout)
	defer cancel()

	if redoID, ok := d.redo.Read(ctx); ok {
		d.done.Store(redoID)
	} else {
		b, err := d.persistence.Get(ctx, doneKey)
		if err != nil {
			return fmt.Errorf("rsm: recover: read %s: %w", doneKey, err)
		}
		if b == nil {
			d.done.Store(-1)
		} else if len(b) != 4 {
			return fmt.Errorf("rsm: recover: %s has unexpected length %d", doneKey, len(b))
		} else {
			d.done.Store(int64(int32(binary.BigEndian.Uint32(b))))
		}
	}

	d.sequence.Set(d.done.Load() + 1)
	d.logger.Info("rsm: recovered", slog.Int64("done", d.done.Load()), slog.Int64("sequence", d.sequence.Current()))
	return nil
}

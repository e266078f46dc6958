// Package redolog implements the single-key hazard marker that makes
// crash recovery of the apply loop deterministic. It is not a
// classical undo/redo record of a state transition; it records the
// pre-apply value of done so that "apply in progress" is detectable
// after a crash.
package redolog

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/parliament/rsm-core/api"
	"github.com/parliament/rsm-core/pkg/logger"
)

// Key is the persistence key under which the redo record is stored.
var Key = []byte("rsm_done_redo")

// Log wraps api.Persistence to write, clear, and read the redo record.
type Log struct {
	persistence api.Persistence
	logger      *slog.Logger
}

func New(persistence api.Persistence, log *slog.Logger) *Log {
	return &Log{persistence: persistence, logger: log}
}

// Write atomically records id as the pre-apply value of done.
func (l *Log) Write(ctx context.Context, id int64) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(id))
	return l.persistence.Put(ctx, Key, buf)
}

// Clear removes the redo record.
func (l *Log) Clear(ctx context.Context) error {
	return l.persistence.Remove(ctx, Key)
}

// Read returns (id, true) if a well-formed redo record is present,
// or (0, false) if absent or malformed. A malformed record is logged
// at Warn and treated as absent.
func (l *Log) Read(ctx context.Context) (int64, bool) {
	b, err := l.persistence.Get(ctx, Key)
	if err != nil {
		l.logger.Warn("failed to read redo log", logger.ErrAttr(err))
		return 0, false
	}
	if b == nil {
		return 0, false
	}
	if len(b) != 4 {
		l.logger.Warn("invalid redo log: unexpected length", slog.Int("length", len(b)))
		return 0, false
	}
	return int64(int32(binary.BigEndian.Uint32(b))), true
}

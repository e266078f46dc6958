package api

import "context"

// Coordinator is the RSM driver's view of the consensus layer: propose
// a value for a slot, retrieve the decided value for a slot, learn a
// slot from peers, and report cluster-wide progress. Coordinator
// correctness (leader election, replication, safety under partition)
// is outside the scope of this module; only this contract is relied
// upon.
type Coordinator interface {
	// Coordinate submits value for slot id. It is idempotent for the
	// same (id, value) pair: proposing the same slot twice is safe.
	Coordinate(ctx context.Context, id int64, value []byte) error

	// Instance blocks until slot id is decided and returns its value,
	// or returns ctx.Err() if ctx is done first. Callers use a bounded
	// context to turn "not yet decided" into a catch-up trigger rather
	// than an indefinite block.
	Instance(ctx context.Context, id int64) ([]byte, error)

	// Learn hints that slot id is missing locally and should be pulled
	// from peers. Fire-and-forget: no completion is observed here.
	Learn(id int64)

	// Max returns the highest id the coordinator believes the cluster
	// has reached.
	Max() int64

	// Forget permits the coordinator to drop records strictly less
	// than before.
	Forget(ctx context.Context, before int64) error
}

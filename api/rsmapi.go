/*
Package api defines the contracts of the replicated state machine (RSM)
driver: the component that assigns instance ids to client submissions,
drives each submission through consensus, and applies decided values
strictly in order, exactly once, durably.

# Mandatory user implementations

To use this driver you must provide:

  - StateTransfer: your application's deterministic, per-id idempotent
    fold from a decided Input to an Output.

  - Coordinator: the consensus client that proposes a value for a slot,
    resolves the decided value for a slot, and reports cluster progress.
    A NATS-based implementation is provided in
    github.com/parliament/rsm-core/coordinator.

  - Persistence: durable key/value storage for the two keys the driver
    owns. A BadgerDB-backed implementation is provided in
    github.com/parliament/rsm-core/pkg/storage.

  - Sequence: a monotonic id allocator. A default in-process
    implementation is provided in github.com/parliament/rsm-core/pkg/sequence.
*/
package api

import "errors"

var (
	// ErrPrecondition marks caller misuse: submitting an id beyond the
	// current sequence value, or forgetting past the applied pointer.
	ErrPrecondition = errors.New("rsm: precondition violated")

	// ErrCodec marks a framing failure while serializing or
	// deserializing an Input.
	ErrCodec = errors.New("rsm: codec error")
)

// Driver is the public facade of the replicated state machine.
type Driver interface {
	// NewState allocates a fresh Input: a strictly increasing id and a
	// fresh uuid, carrying content. Ids returned by NewState are never
	// reused within a run.
	NewState(content []byte) (*Input, error)

	// Submit persists input through the Coordinator and returns a
	// handle resolved once the id has been applied. It is safe to call
	// concurrently for distinct ids.
	//
	// Returns ErrPrecondition if input.ID is beyond the sequence's
	// current value, and ErrCodec if input cannot be framed.
	Submit(input *Input) (PendingResult, error)

	// Done returns the highest id that has been durably applied.
	// -1 if nothing has ever been applied.
	Done() int64

	// Max returns the highest id the coordinator has observed cluster
	// wide. Advisory.
	Max() int64

	// Forget delegates to Coordinator.Forget(before). Returns
	// ErrPrecondition if before > Done().
	Forget(before int64) error

	// Start recovers progress from persistence and dispatches the
	// apply loop, driving it with transfer. It must be called exactly
	// once before Submit.
	Start(transfer StateTransfer) error

	// Stop requests cooperative shutdown of the apply loop and blocks
	// until it has exited.
	Stop() error
}

package rsm

import (
	"context"
	"testing"
	"time"

	"github.com/parliament/rsm-core/api"
	"github.com/parliament/rsm-core/internal/codec"
	"github.com/parliament/rsm-core/internal/redolog"
	"github.com/parliament/rsm-core/pkg/logger"
	"github.com/parliament/rsm-core/pkg/sequence"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T, persistence api.Persistence, coord *fakeCoordinator) (*Driver, *countingTransfer) {
	t.Helper()
	_, log := logger.NewTestLogger()
	d := newDriver(persistence, sequence.New(0), coord, api.TestConfig(), log)
	transfer := newCountingTransfer()
	require.NoError(t, d.Start(transfer))
	t.Cleanup(func() { _ = d.Stop() })
	return d, transfer
}

func encodedInput(t *testing.T, id int64, content []byte) []byte {
	t.Helper()
	b, err := codec.Serialize(&api.Input{ID: id, UUID: []byte("uuid"), Content: content})
	require.NoError(t, err)
	return b
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		if cond() {
			return
		}
		select {
		case <-tick.C:
		case <-deadline:
			t.Fatalf("condition not met within %s", timeout)
		}
	}
}

// S1: a single decided value is applied exactly once and done advances.
func TestSingleApply(t *testing.T) {
	coord := newFakeCoordinator()
	persistence := newSyncPersistence()
	d, transfer := newTestDriver(t, persistence, coord)

	input, err := d.NewState([]byte("hello"))
	require.NoError(t, err)
	require.EqualValues(t, 0, input.ID)

	pr, err := d.Submit(input)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := pr.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), out)

	require.EqualValues(t, 0, d.Done())
	require.Equal(t, []int64{0}, transfer.appliedIDs())
}

// S2: instances decided out of order are applied strictly in order.
func TestOrderedApplyOfOutOfOrderDecisions(t *testing.T) {
	coord := newFakeCoordinator()
	persistence := newSyncPersistence()
	d, transfer := newTestDriver(t, persistence, coord)

	coord.Decide(1, encodedInput(t, 1, []byte("b")))
	coord.Decide(0, encodedInput(t, 0, []byte("a")))
	coord.Decide(2, encodedInput(t, 2, []byte("c")))

	waitFor(t, time.Second, func() bool { return d.Done() == 2 })
	require.Equal(t, []int64{0, 1, 2}, transfer.appliedIDs())
}

// S3: when a slot is undecided past the fetch bound, the loop asks the
// coordinator to relearn every slot up to Max without advancing done.
func TestCatchUp(t *testing.T) {
	coord := newFakeCoordinator()
	persistence := newSyncPersistence()
	d, transfer := newTestDriver(t, persistence, coord)

	coord.Decide(1, encodedInput(t, 1, []byte("b")))

	waitFor(t, time.Second, func() bool {
		for _, id := range coord.learnedIDs() {
			if id == 0 {
				return true
			}
		}
		return false
	})
	require.EqualValues(t, -1, d.Done())

	coord.Decide(0, encodedInput(t, 0, []byte("a")))
	waitFor(t, time.Second, func() bool { return d.Done() == 1 })
	require.Equal(t, []int64{0, 1}, transfer.appliedIDs())
}

// S4: crash simulated between the WAL pre-write and the apply that
// follows it. Recovery must restore done from the redo record and
// redrive the interrupted id.
func TestRecoveryAfterCrashBeforeApply(t *testing.T) {
	persistence := newSyncPersistence()
	ctx := context.Background()
	require.NoError(t, persistence.Put(ctx, doneKey, encodeInt32(3)))
	require.NoError(t, persistence.Put(ctx, redolog.Key, encodeInt32(3)))

	coord := newFakeCoordinator()
	coord.Decide(4, encodedInput(t, 4, []byte("d")))

	d, transfer := newTestDriver(t, persistence, coord)
	require.EqualValues(t, 4, d.sequence.Current())

	waitFor(t, time.Second, func() bool { return d.Done() == 4 })
	require.Equal(t, []int64{4}, transfer.appliedIDs())
}

// S5: crash simulated after RSM_DONE was advanced but before the WAL
// was cleared. Recovery must trust the redo record over RSM_DONE and
// redrive the id it names, relying on StateTransfer's idempotence.
func TestRecoveryAfterCrashBeforeRedoClear(t *testing.T) {
	persistence := newSyncPersistence()
	ctx := context.Background()
	require.NoError(t, persistence.Put(ctx, doneKey, encodeInt32(5)))
	require.NoError(t, persistence.Put(ctx, redolog.Key, encodeInt32(4)))

	coord := newFakeCoordinator()
	coord.Decide(5, encodedInput(t, 5, []byte("e")))

	d, transfer := newTestDriver(t, persistence, coord)
	require.EqualValues(t, 5, d.sequence.Current())

	waitFor(t, time.Second, func() bool { return d.Done() == 5 })
	require.Equal(t, []int64{5}, transfer.appliedIDs())
}

// S6: the coordinator is asked to forget on every ForgetEvery-th
// successful apply, exactly once per period.
func TestPeriodicForget(t *testing.T) {
	coord := newFakeCoordinator()
	persistence := newSyncPersistence()
	d, _ := newTestDriver(t, persistence, coord)

	for i := int64(0); i < 101; i++ {
		coord.Decide(i, encodedInput(t, i, []byte("x")))
	}

	waitFor(t, 5*time.Second, func() bool { return d.Done() == 100 })
	require.Equal(t, []int64{100}, coord.forgottenCalls())
}

// A transient state-transfer failure must not advance done; the loop
// retries the same id until it succeeds.
func TestTransformFailureDoesNotAdvanceDone(t *testing.T) {
	coord := newFakeCoordinator()
	persistence := newSyncPersistence()
	d, transfer := newTestDriver(t, persistence, coord)
	transfer.failNextFor(0, 2)

	coord.Decide(0, encodedInput(t, 0, []byte("a")))

	waitFor(t, time.Second, func() bool { return d.Done() == 0 })
	require.Equal(t, []int64{0}, transfer.appliedIDs())
}

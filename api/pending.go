package api

import "context"

// PendingResult is a one-shot handle to the Output of an applied
// Input, returned by Driver.Submit. It resolves in apply order, not
// submission or decision order.
type PendingResult interface {
	// Wait blocks until the id has been applied or ctx is done,
	// whichever comes first.
	Wait(ctx context.Context) (Output, error)
}

package bemitter

import "fmt"

// LaggedError is returned from [*Subscription.Next]
// when the subscription fell so far behind
// that the ring overwrote values it had not yet read.
//
// The subscription has already been moved to the oldest retained value,
// so the next call to Next succeeds normally.
type LaggedError struct {
	// Number of values that were irrecoverably skipped.
	// Always positive.
	Skipped uint64
}

func (e LaggedError) Error() string {
	return fmt.Sprintf("subscription lagged and skipped %d event(s)", e.Skipped)
}

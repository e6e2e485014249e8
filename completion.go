package beacon

import (
	"context"
	"runtime/debug"
)

// Completion resolves when a producer body returns.
//
// Create one with [Start].
type Completion struct {
	done chan struct{}
	err  error
}

// Start runs fn in a new goroutine and returns a Completion
// tracking its result.
// A panic in fn is recovered and reported as a [ProducerPanicError].
func Start(ctx context.Context, fn func(context.Context) error) *Completion {
	c := &Completion{done: make(chan struct{})}
	go c.run(ctx, fn)
	return c
}

func (c *Completion) run(ctx context.Context, fn func(context.Context) error) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			c.err = ProducerPanicError{
				Value: r,
				Stack: debug.Stack(),
			}
		}
	}()

	c.err = fn(ctx)
}

// Done returns a channel that is closed once the producer body has returned.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the producer body's result.
// It is only meaningful after Done has been closed,
// and it returns nil before then.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the producer body returns or ctx is done.
// It returns the producer's error, or the context's cause.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-c.done:
		return c.err
	}
}

package beacon

import (
	"errors"
	"fmt"
)

// ErrProducerExited is returned from subscribe and receive calls
// once the producer of a broadcast instance has returned.
// It is terminal: no later activation is possible for that instance.
var ErrProducerExited = errors.New("producer exited")

// ProducerPanicError is the [Completion] error
// for a producer body that panicked instead of returning.
type ProducerPanicError struct {
	Value any
	Stack []byte
}

func (e ProducerPanicError) Error() string {
	return fmt.Sprintf("producer panicked: %v", e.Value)
}

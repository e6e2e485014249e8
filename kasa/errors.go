package kasa

import (
	"errors"
	"fmt"
)

// ErrHandleClosed is returned from [*Handle] methods
// after the handle's goroutine has stopped.
var ErrHandleClosed = errors.New("kasa handle closed")

// Op identifies the stage of a request that failed.
type Op uint8

const (
	OpSerialize Op = iota + 1
	OpConnect
	OpWrite
	OpRead
	OpDeserialize
	OpWrongDevice
	OpDevice
)

func (o Op) String() string {
	switch o {
	case OpSerialize:
		return "serialize"
	case OpConnect:
		return "connect"
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpDeserialize:
		return "deserialize"
	case OpWrongDevice:
		return "wrong device"
	case OpDevice:
		return "device"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// CommunicationError is returned when a request to a bulb fails.
type CommunicationError struct {
	Op  Op
	Err error
}

func (e CommunicationError) Error() string {
	return fmt.Sprintf("kasa %s failed: %v", e.Op, e.Err)
}

func (e CommunicationError) Unwrap() error {
	return e.Err
}

// dropsConnection reports whether the connection
// is no longer trustworthy after this error.
func (e CommunicationError) dropsConnection() bool {
	return e.Op == OpWrite || e.Op == OpRead
}

// Package light contains device-independent types for controlling lights.
//
// Drivers such as package kasa implement the interfaces here,
// so that callers can turn lights on and off without knowing the device.
package light

import (
	"context"
	"fmt"
)

// State is whether a light is on.
type State uint8

const (
	Off State = iota
	On
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case On:
		return "on"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Toggled returns the opposite state.
func (s State) Toggled() State {
	if s == On {
		return Off
	}
	return On
}

// Reader reports a light's current state.
type Reader interface {
	State(ctx context.Context) (State, error)
}

// Setter changes a light's state.
type Setter interface {
	SetState(ctx context.Context, s State) error
}

// ReadSetter is a light that can be both read and switched.
type ReadSetter interface {
	Reader
	Setter
}

// IsOn reports whether the light is on.
func IsOn(ctx context.Context, r Reader) (bool, error) {
	s, err := r.State(ctx)
	if err != nil {
		return false, err
	}
	return s == On, nil
}

// IsOff reports whether the light is off.
func IsOff(ctx context.Context, r Reader) (bool, error) {
	s, err := r.State(ctx)
	if err != nil {
		return false, err
	}
	return s == Off, nil
}

// TurnOn switches the light on.
func TurnOn(ctx context.Context, s Setter) error {
	return s.SetState(ctx, On)
}

// TurnOff switches the light off.
func TurnOff(ctx context.Context, s Setter) error {
	return s.SetState(ctx, Off)
}

// Toggle reads the light's state and switches it to the opposite one.
// It returns the new state.
func Toggle(ctx context.Context, rs ReadSetter) (State, error) {
	cur, err := rs.State(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read state before toggling: %w", err)
	}

	next := cur.Toggled()
	if err := rs.SetState(ctx, next); err != nil {
		return cur, fmt.Errorf("failed to toggle light %s: %w", next, err)
	}
	return next, nil
}

package hass

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gordian-engine/beacon/light"
)

// ContextID identifies the cause of a state change.
type ContextID string

// NewContextID returns a new time-ordered ID.
func NewContextID() ContextID {
	return ContextID(uuid.Must(uuid.NewV7()).String())
}

// Context links a state change to whatever caused it.
type Context struct {
	ID       ContextID  `json:"id"`
	ParentID *ContextID `json:"parent_id,omitempty"`
	UserID   string     `json:"user_id,omitempty"`
}

// StateObject is one entity's state at a point in time.
// StateObjects are shared between subscribers and must not be modified.
type StateObject struct {
	EntityID   EntityID       `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`

	// When State last changed.
	LastChanged time.Time `json:"last_changed"`

	// When the state was last written, whether or not it changed.
	LastReported time.Time `json:"last_reported"`

	// When State or Attributes last changed.
	LastUpdated time.Time `json:"last_updated"`

	Context Context `json:"context"`
}

// StateChangedEvent is delivered to [EventSource] callbacks.
// OldState is nil for a new entity; NewState is nil for a removed one.
type StateChangedEvent struct {
	EntityID EntityID     `json:"entity_id"`
	OldState *StateObject `json:"old_state"`
	NewState *StateObject `json:"new_state"`
}

// EventSource delivers state changes for individual entities.
type EventSource interface {
	// TrackStateChange calls cb for each change to entity
	// until the returned untrack function is called.
	TrackStateChange(entity EntityID, cb func(StateChangedEvent)) (untrack func(), err error)
}

// StateMachine reports the current state of entities.
type StateMachine interface {
	Get(entity EntityID) (*StateObject, bool)
}

// Light state strings.
const (
	StateOn  = "on"
	StateOff = "off"

	// The entity exists but its device cannot be reached.
	StateUnavailable = "unavailable"
)

// LightState converts the state of a light entity.
func LightState(so *StateObject) (light.State, error) {
	if so == nil {
		return light.Off, errors.New("no state")
	}
	if so.EntityID.Domain != DomainLight {
		return light.Off, fmt.Errorf("%s is not a light", so.EntityID)
	}
	switch so.State {
	case StateOn:
		return light.On, nil
	case StateOff:
		return light.Off, nil
	default:
		return light.Off, fmt.Errorf("unexpected light state %q", so.State)
	}
}

// LightReader is a [light.Reader] backed by a light entity's current state.
type LightReader struct {
	States StateMachine
	Entity EntityID
}

var _ light.Reader = LightReader{}

func (r LightReader) State(context.Context) (light.State, error) {
	so, ok := r.States.Get(r.Entity)
	if !ok {
		return light.Off, fmt.Errorf("%s has no state", r.Entity)
	}
	return LightState(so)
}

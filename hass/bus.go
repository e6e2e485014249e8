package hass

import (
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is an in-memory [StateMachine] and [EventSource].
// It is safe for concurrent use.
type Bus struct {
	log *slog.Logger

	// Held across a write and its callbacks,
	// so that callbacks observe writes in order.
	dispatchMu sync.Mutex

	mu     sync.Mutex
	states map[EntityID]*StateObject
	subs   map[EntityID]map[uuid.UUID]func(StateChangedEvent)

	now func() time.Time
}

var (
	_ StateMachine = (*Bus)(nil)
	_ EventSource  = (*Bus)(nil)
)

// NewBus returns an empty Bus.
// Registrations and untracking are logged to log at debug level.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log: log,

		states: make(map[EntityID]*StateObject),
		subs:   make(map[EntityID]map[uuid.UUID]func(StateChangedEvent)),

		now: time.Now,
	}
}

// Get implements [StateMachine].
func (b *Bus) Get(entity EntityID) (*StateObject, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	so, ok := b.states[entity]
	return so, ok
}

// SetState writes entity's state and attributes.
//
// If neither state nor attributes differ from the current ones,
// only LastReported is updated and no callbacks run.
// Otherwise every callback tracking entity is called
// before SetState returns.
// Callbacks must not call SetState or Remove.
func (b *Bus) SetState(entity EntityID, state string, attrs map[string]any) *StateObject {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.mu.Lock()

	now := b.now()
	old := b.states[entity]

	next := &StateObject{
		EntityID:   entity,
		State:      state,
		Attributes: attrs,

		LastChanged:  now,
		LastReported: now,
		LastUpdated:  now,

		Context: Context{ID: NewContextID()},
	}

	if old != nil {
		stateSame := old.State == state
		attrsSame := reflect.DeepEqual(old.Attributes, attrs)

		if stateSame {
			next.LastChanged = old.LastChanged
		}

		if stateSame && attrsSame {
			next.LastUpdated = old.LastUpdated
			next.Context = old.Context
			b.states[entity] = next
			b.mu.Unlock()
			return next
		}
	}

	b.states[entity] = next
	cbs := b.callbacksLocked(entity)
	b.mu.Unlock()

	b.dispatch(cbs, StateChangedEvent{
		EntityID: entity,
		OldState: old,
		NewState: next,
	})

	return next
}

// Remove deletes entity's state, notifying trackers with a nil NewState.
// It reports whether the entity existed.
func (b *Bus) Remove(entity EntityID) bool {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.mu.Lock()
	old, ok := b.states[entity]
	if !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.states, entity)
	cbs := b.callbacksLocked(entity)
	b.mu.Unlock()

	b.dispatch(cbs, StateChangedEvent{
		EntityID: entity,
		OldState: old,
	})

	return true
}

func (b *Bus) callbacksLocked(entity EntityID) []func(StateChangedEvent) {
	subs := b.subs[entity]
	if len(subs) == 0 {
		return nil
	}

	cbs := make([]func(StateChangedEvent), 0, len(subs))
	for _, cb := range subs {
		cbs = append(cbs, cb)
	}
	return cbs
}

func (b *Bus) dispatch(cbs []func(StateChangedEvent), ev StateChangedEvent) {
	for _, cb := range cbs {
		cb(ev)
	}
}

// TrackStateChange implements [EventSource].
//
// The returned untrack function is idempotent.
// It waits for any in-progress callbacks to finish,
// so it must not be called from within a callback.
func (b *Bus) TrackStateChange(entity EntityID, cb func(StateChangedEvent)) (func(), error) {
	if cb == nil {
		return nil, errors.New("callback must not be nil")
	}

	token := uuid.New()

	b.mu.Lock()
	subs, ok := b.subs[entity]
	if !ok {
		subs = make(map[uuid.UUID]func(StateChangedEvent))
		b.subs[entity] = subs
	}
	subs[token] = cb
	b.mu.Unlock()

	b.log.Debug("Tracking entity", "entity_id", entity.String(), "token", token)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.dispatchMu.Lock()
			defer b.dispatchMu.Unlock()

			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.subs[entity], token)
			if len(b.subs[entity]) == 0 {
				delete(b.subs, entity)
			}

			b.log.Debug("Untracked entity", "entity_id", entity.String(), "token", token)
		})
	}, nil
}

// Trackers returns the number of callbacks registered for entity.
func (b *Bus) Trackers(entity EntityID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[entity])
}

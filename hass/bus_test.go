package hass_test

import (
	"testing"

	"github.com/gordian-engine/beacon/hass"
	"github.com/gordian-engine/beacon/internal/btest"
	"github.com/gordian-engine/beacon/light"
	"github.com/stretchr/testify/require"
)

var kitchen = hass.MustParseEntityID("light.kitchen")

func TestBus_SetState(t *testing.T) {
	t.Parallel()

	b := hass.NewBus(btest.NewLogger(t))

	_, ok := b.Get(kitchen)
	require.False(t, ok)

	var events []hass.StateChangedEvent
	untrack, err := b.TrackStateChange(kitchen, func(ev hass.StateChangedEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Equal(t, 1, b.Trackers(kitchen))

	first := b.SetState(kitchen, hass.StateOff, map[string]any{"brightness": 0})
	require.Len(t, events, 1)
	require.Nil(t, events[0].OldState)
	require.Same(t, first, events[0].NewState)

	got, ok := b.Get(kitchen)
	require.True(t, ok)
	require.Same(t, first, got)

	// Unchanged writes only refresh LastReported.
	again := b.SetState(kitchen, hass.StateOff, map[string]any{"brightness": 0})
	require.Len(t, events, 1)
	require.Equal(t, first.LastChanged, again.LastChanged)
	require.Equal(t, first.LastUpdated, again.LastUpdated)
	require.Equal(t, first.Context.ID, again.Context.ID)

	// Attribute-only changes keep LastChanged.
	dimmed := b.SetState(kitchen, hass.StateOff, map[string]any{"brightness": 10})
	require.Len(t, events, 2)
	require.Equal(t, first.LastChanged, dimmed.LastChanged)
	require.NotEqual(t, first.Context.ID, dimmed.Context.ID)

	on := b.SetState(kitchen, hass.StateOn, nil)
	require.Len(t, events, 3)
	require.Same(t, dimmed, events[2].OldState)
	require.Same(t, on, events[2].NewState)

	untrack()
	untrack()
	require.Zero(t, b.Trackers(kitchen))

	b.SetState(kitchen, hass.StateOff, nil)
	require.Len(t, events, 3)
}

func TestBus_Remove(t *testing.T) {
	t.Parallel()

	b := hass.NewBus(btest.NewLogger(t))
	require.False(t, b.Remove(kitchen))

	b.SetState(kitchen, hass.StateOn, nil)

	var last hass.StateChangedEvent
	untrack, err := b.TrackStateChange(kitchen, func(ev hass.StateChangedEvent) {
		last = ev
	})
	require.NoError(t, err)
	defer untrack()

	require.True(t, b.Remove(kitchen))
	require.NotNil(t, last.OldState)
	require.Nil(t, last.NewState)

	_, ok := b.Get(kitchen)
	require.False(t, ok)
}

func TestBus_TrackStateChange_nilCallback(t *testing.T) {
	t.Parallel()

	b := hass.NewBus(btest.NewLogger(t))
	_, err := b.TrackStateChange(kitchen, nil)
	require.Error(t, err)
}

func TestLightReader(t *testing.T) {
	t.Parallel()

	b := hass.NewBus(btest.NewLogger(t))
	r := hass.LightReader{States: b, Entity: kitchen}

	_, err := r.State(t.Context())
	require.Error(t, err)

	b.SetState(kitchen, hass.StateOn, nil)
	on, err := light.IsOn(t.Context(), r)
	require.NoError(t, err)
	require.True(t, on)

	b.SetState(kitchen, "unavailable", nil)
	_, err = r.State(t.Context())
	require.Error(t, err)

	porch := hass.MustParseEntityID("switch.porch")
	b.SetState(porch, hass.StateOn, nil)
	_, err = hass.LightReader{States: b, Entity: porch}.State(t.Context())
	require.Error(t, err)
}

package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnounceRunsListenersInRegistrationOrder(t *testing.T) {
	h := New[string, int]()
	var got []string

	h.Subscribe("tick", func(n int) { got = append(got, "first") })
	h.Subscribe("tick", func(n int) { got = append(got, "second") })
	h.Subscribe("other", func(n int) { got = append(got, "other") })
	h.Subscribe("tick", func(n int) { got = append(got, "third") })

	n := h.Announce("tick", 1)

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestAnnounceWithoutListenersIsNoop(t *testing.T) {
	h := New[string, int]()
	assert.Equal(t, 0, h.Announce("nobody", 42))
}

func TestSubscribeDoesNotDeduplicate(t *testing.T) {
	h := New[string, int]()
	calls := 0
	fn := func(int) { calls++ }

	h.Subscribe("x", fn)
	h.Subscribe("x", fn)
	h.Announce("x", 0)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, h.Listeners("x"))
}

func TestPayloadIsDelivered(t *testing.T) {
	h := New[string, map[string]any]()
	var got map[string]any
	h.Subscribe("data", func(m map[string]any) { got = m })

	h.Announce("data", map[string]any{"id": "1"})

	assert.Equal(t, map[string]any{"id": "1"}, got)
}

func TestUnsubscribe(t *testing.T) {
	h := New[string, int]()
	var got []string

	a := h.Subscribe("x", func(int) { got = append(got, "a") })
	h.Subscribe("x", func(int) { got = append(got, "b") })

	a.Unsubscribe()
	a.Unsubscribe()
	h.Announce("x", 0)

	assert.Equal(t, []string{"b"}, got)
	assert.Equal(t, 1, h.Listeners("x"))
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	var faults []error
	h := New[string, int](WithFaultHandler[string](func(category string, err error) {
		assert.Equal(t, "x", category)
		faults = append(faults, err)
	}))
	boom := errors.New("boom")
	ran := false

	h.Subscribe("x", func(int) { panic(boom) })
	h.Subscribe("x", func(int) { panic("plain string") })
	h.Subscribe("x", func(int) { ran = true })

	require.NotPanics(t, func() { h.Announce("x", 0) })
	assert.True(t, ran)
	require.Len(t, faults, 2)
	assert.ErrorIs(t, faults[0], boom)
	assert.Contains(t, faults[1].Error(), "plain string")
}

func TestSubscribeDuringAnnounceAppliesToNextAnnouncement(t *testing.T) {
	h := New[string, int]()
	late := 0

	h.Subscribe("x", func(int) {
		h.Subscribe("x", func(int) { late++ })
	})

	h.Announce("x", 0)
	assert.Equal(t, 0, late)

	h.Announce("x", 0)
	assert.Equal(t, 1, late)
}

func TestSubscribeNilPanics(t *testing.T) {
	h := New[string, int]()
	assert.Panics(t, func() { h.Subscribe("x", nil) })
}

package activity

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignal(t *testing.T) {
	for _, sig := range Signals() {
		got, err := ParseSignal(string(sig))
		require.NoError(t, err)
		assert.Equal(t, sig, got)
	}

	got, err := ParseSignal(" Keyboard ")
	require.NoError(t, err)
	assert.Equal(t, SignalKeyboard, got)

	_, err = ParseSignal("wheel")
	assert.Error(t, err)
}

func TestTrackerIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(WithClock(clock), WithIdleTimeout(time.Minute))

	assert.False(t, tr.Check())

	clock.Advance(59 * time.Second)
	assert.False(t, tr.Check())

	clock.Advance(time.Second)
	assert.False(t, tr.IsIdle(), "idle flag changes only on Check")
	assert.True(t, tr.Check())
	assert.True(t, tr.IsIdle())

	tr.Touch(SignalPointer)
	assert.False(t, tr.IsIdle())
	assert.Equal(t, clock.Now(), tr.LastActivity())
}

func TestTrackerLastActivityMonotonic(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(WithClock(clock))

	clock.Advance(time.Minute)
	tr.Touch(SignalScroll)
	later := tr.LastActivity()

	tr.SetLastActivity(later.Add(time.Hour))
	tr.Touch(SignalScroll)
	assert.Equal(t, later.Add(time.Hour), tr.LastActivity())

	tr.SetLastActivity(later.Add(-time.Hour))
	assert.Equal(t, later.Add(-time.Hour), tr.LastActivity())
}

func TestTrackerAttach(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bus := NewBus()
	tr := NewTracker(WithClock(clock), WithIdleTimeout(time.Minute))
	tr.Attach(bus)

	for _, sig := range Signals() {
		assert.Equal(t, 1, bus.Subscribers(sig))
	}

	clock.Advance(2 * time.Minute)
	require.True(t, tr.Check())

	bus.Publish(SignalKeyboard)
	assert.False(t, tr.IsIdle())
	assert.Equal(t, clock.Now(), tr.LastActivity())

	tr.Close()
	tr.Close()
	for _, sig := range Signals() {
		assert.Zero(t, bus.Subscribers(sig))
	}

	clock.Advance(2 * time.Minute)
	bus.Publish(SignalKeyboard)
	assert.True(t, tr.Check(), "a closed tracker no longer hears the bus")

	tr.Attach(bus)
	assert.Zero(t, bus.Subscribers(SignalPointer))
}

func TestBusUnsubscribeTwice(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsub := bus.Subscribe(SignalFocus, func() { calls++ })
	other := bus.Subscribe(SignalFocus, func() { calls += 10 })

	bus.Publish(SignalFocus)
	assert.Equal(t, 11, calls)

	unsub()
	unsub()
	bus.Publish(SignalFocus)
	assert.Equal(t, 21, calls)

	other()
	assert.Zero(t, bus.Subscribers(SignalFocus))
}

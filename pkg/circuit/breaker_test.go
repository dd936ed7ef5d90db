package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_ClosedAdmitsByDefault(t *testing.T) {
	e := NewEngine(Config{}, 1, 8)
	defer e.Close()

	assert.True(t, e.Allow("rpc", "svc-a"))
	snap := e.GetState("rpc", "svc-a")
	assert.Equal(t, Closed, snap.Phase)
}

func TestEngine_TripOnPercentageScenario(t *testing.T) {
	t.Run("scenario 1 from spec.md §8", func(t *testing.T) {
		e := NewEngine(Config{
			WindowSize:         10,
			ErrorThreshold:     0.5,
			MinimumRequests:    4,
			UseErrorPercentage: true,
			ResetTimeout:       100 * time.Millisecond,
		}, 1, 8)
		defer e.Close()

		e.RecordSuccess("rpc", "svc-b")
		e.RecordSuccess("rpc", "svc-b")
		e.RecordFailure("rpc", "svc-b")
		e.RecordFailure("rpc", "svc-b")
		e.RecordFailure("rpc", "svc-b")

		snap := e.GetState("rpc", "svc-b")
		require.Equal(t, 5, snap.SampleCount)
		require.Equal(t, 3, snap.FailureCount)
		require.InDelta(t, 0.6, snap.FailureRate, 1e-9)
		assert.Equal(t, Open, snap.Phase)
		assert.False(t, e.Allow("rpc", "svc-b"))
	})
}

func TestEngine_MonotonicTripWithoutPercentage(t *testing.T) {
	e := NewEngine(Config{
		WindowSize:         10,
		MinimumRequests:    3,
		UseErrorPercentage: false,
		ResetTimeout:       time.Second,
	}, 1, 8)
	defer e.Close()

	e.RecordFailure("rpc", "svc-c")
	e.RecordFailure("rpc", "svc-c")
	assert.Equal(t, Closed, e.GetState("rpc", "svc-c").Phase)
	e.RecordFailure("rpc", "svc-c")
	assert.Equal(t, Open, e.GetState("rpc", "svc-c").Phase)
}

func TestEngine_HalfOpenProbeAndRecover(t *testing.T) {
	t.Run("scenario 2 from spec.md §8", func(t *testing.T) {
		e := NewEngine(Config{
			WindowSize:               10,
			MinimumRequests:          1,
			UseErrorPercentage:       false,
			ResetTimeout:             50 * time.Millisecond,
			HalfOpenSuccessThreshold: 2,
			HalfOpenMaxCalls:         2,
		}, 1, 8)
		defer e.Close()

		e.RecordFailure("rpc", "svc-d")
		require.Equal(t, Open, e.GetState("rpc", "svc-d").Phase)

		time.Sleep(80 * time.Millisecond)

		assert.True(t, e.Allow("rpc", "svc-d"))
		assert.Equal(t, HalfOpen, e.GetState("rpc", "svc-d").Phase)
		assert.True(t, e.Allow("rpc", "svc-d"))
		assert.False(t, e.Allow("rpc", "svc-d"))

		e.RecordSuccess("rpc", "svc-d")
		e.RecordSuccess("rpc", "svc-d")

		snap := e.GetState("rpc", "svc-d")
		assert.Equal(t, Closed, snap.Phase)
		assert.Equal(t, 0, snap.SampleCount)
	})
}

func TestEngine_BackoffBound(t *testing.T) {
	e := NewEngine(Config{
		MinimumRequests:    1,
		UseErrorPercentage: false,
		ResetTimeout:       10 * time.Millisecond,
		MaxBackoff:         30 * time.Millisecond,
		HalfOpenMaxCalls:   1,
	}, 1, 8)
	defer e.Close()

	e.RecordFailure("rpc", "svc-e")
	time.Sleep(15 * time.Millisecond)
	require.True(t, e.Allow("rpc", "svc-e")) // Open -> HalfOpen
	e.RecordFailure("rpc", "svc-e")          // HalfOpen failure doubles backoff

	snap := e.GetState("rpc", "svc-e")
	require.Equal(t, Open, snap.Phase)
	timeout := time.Duration(float64(10*time.Millisecond) * snap.BackoffMultiplier)
	assert.GreaterOrEqual(t, timeout, 10*time.Millisecond)
	assert.LessOrEqual(t, timeout, 30*time.Millisecond)
}

func TestEngine_ResetAndResetAll(t *testing.T) {
	e := NewEngine(Config{MinimumRequests: 1, UseErrorPercentage: false}, 1, 8)
	defer e.Close()

	e.RecordFailure("rpc", "svc-f")
	require.Equal(t, Open, e.GetState("rpc", "svc-f").Phase)
	e.Reset("rpc", "svc-f")
	assert.Equal(t, Closed, e.GetState("rpc", "svc-f").Phase)

	e.RecordFailure("rpc", "svc-g")
	e.ResetAll()
	assert.Equal(t, Closed, e.GetState("rpc", "svc-g").Phase)
}

func TestEngine_ObserverDispatchIsAsync(t *testing.T) {
	e := NewEngine(Config{MinimumRequests: 1, UseErrorPercentage: false}, 1, 8)
	defer e.Close()

	received := make(chan TransitionEvent, 1)
	e.Observe(func(ev TransitionEvent) { received <- ev })

	e.RecordFailure("rpc", "svc-h")

	select {
	case ev := <-received:
		assert.Equal(t, Open, ev.To)
	case <-time.After(time.Second):
		t.Fatal("observer was not invoked")
	}
}

func TestEngine_PanicObserverIsSwallowed(t *testing.T) {
	e := NewEngine(Config{MinimumRequests: 1, UseErrorPercentage: false}, 1, 8)
	defer e.Close()

	e.Observe(func(TransitionEvent) { panic("boom") })
	assert.NotPanics(t, func() {
		e.RecordFailure("rpc", "svc-i")
		time.Sleep(20 * time.Millisecond)
	})
}

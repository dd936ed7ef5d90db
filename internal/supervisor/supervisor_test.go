package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_ComputeDelay_MatchesScenario5(t *testing.T) {
	// spec.md §8 scenario 5, pre-jitter delays: 100ms, 150ms, 225ms.
	s := New("proc", Config{
		MaxRestarts:     3,
		RestartPeriod:   10 * time.Second,
		RestartDelay:    100 * time.Millisecond,
		MaxRestartDelay: time.Second,
	}, nil, nil, nil, nil)

	assert.Equal(t, 100*time.Millisecond, s.computeDelay(0))
	assert.Equal(t, 150*time.Millisecond, s.computeDelay(1))
	assert.Equal(t, 225*time.Millisecond, s.computeDelay(2))
}

func TestSupervisor_DelayNeverExceedsMax(t *testing.T) {
	s := New("proc", Config{RestartDelay: 100 * time.Millisecond, MaxRestartDelay: 300 * time.Millisecond}, nil, nil, nil, nil)
	assert.Equal(t, 300*time.Millisecond, s.computeDelay(10))
}

func TestSupervisor_RestartsUntilSuccess(t *testing.T) {
	var attempts int32
	factory := func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errors.New("boom")
		}
		return nil
	}

	var events []Event
	s := New("proc", Config{
		MaxRestarts:     5,
		RestartPeriod:   time.Minute,
		RestartDelay:    time.Millisecond,
		MaxRestartDelay: 5 * time.Millisecond,
	}, factory, nil, func(e Event) { events = append(events, e) }, nil)

	s.Run(context.Background())
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	require.NotEmpty(t, events)
	assert.Equal(t, EventTerminated, events[len(events)-1].Kind)
}

func TestSupervisor_ExhaustsRestartBudget(t *testing.T) {
	factory := func(ctx context.Context) error { return errors.New("always fails") }

	var events []Event
	s := New("proc", Config{
		MaxRestarts:     2,
		RestartPeriod:   time.Minute,
		RestartDelay:    time.Millisecond,
		MaxRestartDelay: 2 * time.Millisecond,
	}, factory, nil, func(e Event) { events = append(events, e) }, nil)

	s.Run(context.Background())
	require.Len(t, events, 2)
	assert.Equal(t, EventFailed, events[0].Kind)
	assert.Equal(t, EventEmergency, events[1].Kind)
}

func TestSupervisor_ShutdownHonoredBetweenRestarts(t *testing.T) {
	shutdown := make(chan struct{})
	var attempts int32
	factory := func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}

	s := New("proc", Config{
		MaxRestarts:     100,
		RestartPeriod:   time.Minute,
		RestartDelay:    50 * time.Millisecond,
		MaxRestartDelay: 50 * time.Millisecond,
	}, factory, nil, nil, shutdown)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	close(shutdown)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not honor shutdown")
	}
	assert.Less(t, int(atomic.LoadInt32(&attempts)), 5)
}

package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/rrsc/internal/health"
)

func TestHandle_BroadcastsAndRunsHooksInOrder(t *testing.T) {
	h := New(nil, nil, 200*time.Millisecond)
	var order []int
	h.RegisterHook(func() { order = append(order, 1) })
	h.RegisterHook(func() { order = append(order, 2) })

	h.Shutdown()

	select {
	case <-h.Broadcast():
	default:
		t.Fatal("broadcast channel was not closed")
	}
	assert.Equal(t, []int{1, 2}, order)

	select {
	case <-h.Done():
	default:
		t.Fatal("done channel was not closed")
	}
}

func TestHandle_JoinsTasksBeforeDone(t *testing.T) {
	h := New(nil, nil, time.Second)
	taskDone := make(chan struct{})
	h.RegisterTask(Task{Name: "worker", Done: taskDone})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(taskDone)
	}()

	start := time.Now()
	h.Shutdown()
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestHandle_AbandonsTasksPastTimeout(t *testing.T) {
	h := New(nil, nil, 20*time.Millisecond)
	stuck := make(chan struct{}) // never closes
	h.RegisterTask(Task{Name: "stuck", Done: stuck})

	done := make(chan struct{})
	go func() {
		h.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not abandon the stuck task")
	}
}

func TestHandle_IdempotentShutdown(t *testing.T) {
	h := New(nil, nil, time.Second)
	calls := 0
	h.RegisterHook(func() { calls++ })

	h.Shutdown()
	h.Shutdown()
	assert.Equal(t, 1, calls)
}

func TestHandle_FlipsHealthToShuttingDown(t *testing.T) {
	agg := health.New(health.Config{}, nil, nil, "")
	h := New(nil, agg, time.Second)
	h.Shutdown()

	// MarkShuttingDown was called; a subsequent sample reports ShuttingDown.
	require.NotPanics(t, func() { agg.MarkShuttingDown() })

	sub := agg.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx)
	select {
	case info := <-sub:
		assert.Equal(t, health.ShuttingDown, info.OverallStatus)
	case <-time.After(time.Second):
		t.Fatal("no health snapshot after Run")
	}
}

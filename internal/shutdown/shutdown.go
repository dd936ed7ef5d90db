// Package shutdown implements the shutdown handle of spec.md §4.10: a
// broadcast channel, joinable tasks, and run-once hooks, torn down in a
// fixed order with bounded task join. Grounded on the teacher's
// cmd/gateway/main.go signal-handling idiom (signal channel + bounded
// context.WithTimeout drain) generalized into a reusable owned type.
package shutdown

import (
	"sync"
	"time"

	"github.com/agentfabric/rrsc/internal/health"
	"github.com/agentfabric/rrsc/internal/obslog"
)

// Task is a joinable unit of work. Done must close when the task has
// fully wound down in response to the broadcast signal.
type Task struct {
	Name string
	Done <-chan struct{}
}

// Hook runs synchronously, in registration order, during shutdown.
type Hook func()

// Handle owns the broadcast channel, task list, and hooks for one
// process (spec.md §4.10).
type Handle struct {
	log     *obslog.Logger
	health  *health.Aggregator // optional
	timeout time.Duration

	mu       sync.Mutex
	broadcast chan struct{}
	hooks    []Hook
	tasks    []Task
	done     chan struct{}
	fired    bool
}

// New constructs a Handle. health may be nil if no aggregator is wired.
func New(log *obslog.Logger, h *health.Aggregator, joinTimeout time.Duration) *Handle {
	if log == nil {
		log = obslog.NewNop()
	}
	if joinTimeout <= 0 {
		joinTimeout = 10 * time.Second
	}
	return &Handle{
		log:       log,
		health:    h,
		timeout:   joinTimeout,
		broadcast: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Broadcast returns the channel that closes when Shutdown is invoked.
// Long-running loops select on it to stop at their next suspension point.
func (hdl *Handle) Broadcast() <-chan struct{} { return hdl.broadcast }

// Done returns a channel that closes once Shutdown has fully completed.
func (hdl *Handle) Done() <-chan struct{} { return hdl.done }

// RegisterHook appends a run-once shutdown hook.
func (hdl *Handle) RegisterHook(h Hook) {
	hdl.mu.Lock()
	defer hdl.mu.Unlock()
	hdl.hooks = append(hdl.hooks, h)
}

// RegisterTask adds a joinable task to wait for during shutdown.
func (hdl *Handle) RegisterTask(t Task) {
	hdl.mu.Lock()
	defer hdl.mu.Unlock()
	hdl.tasks = append(hdl.tasks, t)
}

// Shutdown runs the teardown sequence exactly once (spec.md §4.10):
// flip health to ShuttingDown, broadcast, run hooks in order, join tasks
// with a bounded timeout (abandoning stragglers), then signal done.
func (hdl *Handle) Shutdown() {
	hdl.mu.Lock()
	if hdl.fired {
		hdl.mu.Unlock()
		return
	}
	hdl.fired = true
	hooks := append([]Hook(nil), hdl.hooks...)
	tasks := append([]Task(nil), hdl.tasks...)
	hdl.mu.Unlock()

	if hdl.health != nil {
		hdl.health.MarkShuttingDown()
	}

	close(hdl.broadcast)

	for _, h := range hooks {
		h()
	}

	hdl.joinTasks(tasks)

	close(hdl.done)
}

func (hdl *Handle) joinTasks(tasks []Task) {
	deadline := time.NewTimer(hdl.timeout)
	defer deadline.Stop()

	remaining := make(map[string]<-chan struct{}, len(tasks))
	for _, t := range tasks {
		remaining[t.Name] = t.Done
	}

	for len(remaining) > 0 {
		select {
		case <-deadline.C:
			for name := range remaining {
				hdl.log.Warn("task abandoned at shutdown", obslog.Str("task", name))
			}
			return
		default:
		}

		progressed := false
		for name, done := range remaining {
			select {
			case <-done:
				delete(remaining, name)
				progressed = true
			default:
			}
		}
		if !progressed {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

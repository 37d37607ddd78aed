// Package runner drives one engine on its rebalance interval and exposes
// pause/resume/stop lifecycle control.
package runner

import (
	"context"
	"sync"
	"time"

	"portfolio_trader/internal/core"
)

// State is the runner lifecycle state.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// sleepSlice bounds how long a sleeping runner takes to notice a lifecycle
// change.
const sleepSlice = 100 * time.Millisecond

// Runner owns the rebalance loop of one engine. Pause and Resume are
// idempotent; Stop is terminal and a stopped runner ignores Resume. A cycle
// that is already executing always runs to completion.
type Runner struct {
	engine core.IEngine
	logger core.ILogger

	mu    sync.Mutex
	state State

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a runner in the running state. The loop starts on Start.
func New(engine core.IEngine, logger core.ILogger) *Runner {
	return &Runner{
		engine: engine,
		logger: logger.WithField("component", "runner"),
		state:  StateRunning,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the rebalance loop. Calling Start twice is a bug; the second
// call is ignored.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	go r.loop()
}

func (r *Runner) loop() {
	defer close(r.doneCh)

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		if r.State() == StateRunning {
			// The loop's stop signal never cancels a cycle in flight; orders
			// already dispatched must settle into the ledger.
			if err := r.engine.RunOnce(context.Background()); err != nil {
				r.logger.Error("Rebalance cycle failed", "error", err)
			}
		}

		if !r.sleep(r.engine.State().RebalanceInterval) {
			return
		}
	}
}

// sleep waits for the interval in small slices so pause and stop take effect
// promptly. It returns false when the runner was stopped.
func (r *Runner) sleep(interval time.Duration) bool {
	deadline := time.Now().Add(interval)
	for {
		select {
		case <-r.stopCh:
			return false
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > sleepSlice {
			remaining = sleepSlice
		}

		select {
		case <-r.stopCh:
			return false
		case <-time.After(remaining):
		}

		// A paused runner keeps waiting past the deadline until resumed.
		if time.Until(deadline) <= 0 && r.State() == StatePaused {
			deadline = time.Now().Add(sleepSlice)
		}
	}
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pause suspends future cycles. Pausing a paused runner is a no-op; pausing a
// stopped runner has no effect.
func (r *Runner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped {
		return
	}
	if r.state != StatePaused {
		r.state = StatePaused
		r.logger.Info("Runner paused")
	}
}

// Resume restarts cycles after a pause. Resuming a running runner is a no-op
// and a stopped runner stays stopped.
func (r *Runner) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped {
		return
	}
	if r.state != StateRunning {
		r.state = StateRunning
		r.logger.Info("Runner resumed")
	}
}

// Stop terminates the loop and waits for any in-flight cycle to finish.
// Subsequent calls return immediately.
func (r *Runner) Stop() {
	r.mu.Lock()
	alreadyStopped := r.state == StateStopped
	r.state = StateStopped
	started := r.started
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stopCh) })
	if started {
		<-r.doneCh
	}

	if !alreadyStopped {
		r.logger.Info("Runner stopped")
	}
}

// Engine exposes the driven engine for state queries.
func (r *Runner) Engine() core.IEngine {
	return r.engine
}

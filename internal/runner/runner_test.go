package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"portfolio_trader/internal/core"
	"portfolio_trader/internal/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine counts cycles and can hold a cycle open to simulate slow
// execution.
type fakeEngine struct {
	cycles   atomic.Int64
	interval time.Duration
	block    chan struct{} // when set, RunOnce waits for it once
	inCycle  chan struct{} // signalled when a blocking cycle starts
}

func (f *fakeEngine) RunOnce(ctx context.Context) error {
	f.cycles.Add(1)
	if f.block != nil {
		f.inCycle <- struct{}{}
		<-f.block
		f.block = nil
	}
	return nil
}

func (f *fakeEngine) State() *core.RunState {
	return &core.RunState{RebalanceInterval: f.interval}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met within timeout")
}

func TestRunnerCyclesOnInterval(t *testing.T) {
	eng := &fakeEngine{interval: 20 * time.Millisecond}
	r := New(eng, mock.NewNopLogger())
	r.Start()
	defer r.Stop()

	waitFor(t, 2*time.Second, func() bool { return eng.cycles.Load() >= 3 })
	assert.Equal(t, StateRunning, r.State())
}

func TestPauseSuspendsCycles(t *testing.T) {
	eng := &fakeEngine{interval: 10 * time.Millisecond}
	r := New(eng, mock.NewNopLogger())
	r.Start()
	defer r.Stop()

	waitFor(t, 2*time.Second, func() bool { return eng.cycles.Load() >= 1 })

	r.Pause()
	r.Pause() // idempotent
	assert.Equal(t, StatePaused, r.State())

	// Let any cycle that raced the pause finish, then verify quiescence.
	time.Sleep(150 * time.Millisecond)
	count := eng.cycles.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, count, eng.cycles.Load(), "paused runner must not cycle")

	r.Resume()
	r.Resume() // idempotent
	assert.Equal(t, StateRunning, r.State())
	waitFor(t, 2*time.Second, func() bool { return eng.cycles.Load() > count })
}

func TestStopIsTerminal(t *testing.T) {
	eng := &fakeEngine{interval: 10 * time.Millisecond}
	r := New(eng, mock.NewNopLogger())
	r.Start()

	r.Stop()
	assert.Equal(t, StateStopped, r.State())

	count := eng.cycles.Load()
	r.Resume() // resume after stop is a no-op
	assert.Equal(t, StateStopped, r.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, count, eng.cycles.Load(), "stopped runner must not cycle")

	r.Stop() // second stop returns immediately
	r.Pause() // pause after stop is a no-op
	assert.Equal(t, StateStopped, r.State())
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	eng := &fakeEngine{
		interval: time.Hour,
		block:    make(chan struct{}),
		inCycle:  make(chan struct{}),
	}
	r := New(eng, mock.NewNopLogger())
	r.Start()

	<-eng.inCycle // a cycle is now executing

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(eng.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}
}

func TestStopBeforeStart(t *testing.T) {
	eng := &fakeEngine{interval: time.Hour}
	r := New(eng, mock.NewNopLogger())
	r.Stop()
	assert.Equal(t, StateStopped, r.State())
}

/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	logutil "github.com/zetxqx/requestflow/pkg/common/observability/logging"
	"github.com/zetxqx/requestflow/pkg/lifecycle/contracts"
	schedmocks "github.com/zetxqx/requestflow/pkg/lifecycle/contracts/mocks"
	"github.com/zetxqx/requestflow/pkg/lifecycle/types"
	typesmocks "github.com/zetxqx/requestflow/pkg/lifecycle/types/mocks"
)

// eventRecorder captures observer events as compact strings so tests can assert exact
// delivery order.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count(ev string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == ev {
			n++
		}
	}
	return n
}

func (r *eventRecorder) OnRequestBegin() { r.record("begin") }
func (r *eventRecorder) OnDispatchStart(from types.State) {
	r.record("dispatchStart:" + from.String())
}
func (r *eventRecorder) OnDispatchEnd(time.Duration)   { r.record("dispatchEnd") }
func (r *eventRecorder) OnAsyncStart()                 { r.record("asyncStart") }
func (r *eventRecorder) OnSuspend()                    { r.record("suspend") }
func (r *eventRecorder) OnSuspendEnd()                 { r.record("suspendEnd") }
func (r *eventRecorder) OnExpire()                     { r.record("expire") }
func (r *eventRecorder) OnThrown()                     { r.record("thrown") }
func (r *eventRecorder) OnResponseStatus(code int)     { r.record(fmt.Sprintf("status:%d", code)) }
func (r *eventRecorder) OnComplete(_, _ time.Duration) { r.record("complete") }

var _ contracts.LifecycleObserver = &eventRecorder{}

type cellHarness struct {
	cell     *Cell
	recorder *eventRecorder
	sched    *schedmocks.MockTimeoutScheduler
	clk      *testclock.FakePassiveClock

	mu      sync.Mutex
	results []types.Result
}

func newCellHarness(t *testing.T) *cellHarness {
	t.Helper()
	h := &cellHarness{
		recorder: &eventRecorder{},
		sched:    &schedmocks.MockTimeoutScheduler{},
		clk:      testclock.NewFakePassiveClock(time.Now()),
	}
	req := typesmocks.NewMockRequestHandle("conn-1", 1, context.Background())
	h.cell = NewCell(req, h.clk, h.sched, []contracts.LifecycleObserver{h.recorder},
		logutil.NewTestLogger(), func(res types.Result) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.results = append(h.results, res)
		})
	return h
}

func (h *cellHarness) resultCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}

func (h *cellHarness) lastResult(t *testing.T) types.Result {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.results, "exchange must have finished")
	return h.results[len(h.results)-1]
}

func TestCell_SyncRequestEventOrder(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	h.cell.SetStatus(204)
	h.cell.EndDispatch(nil)

	assert.Equal(t, types.StateCompleted, h.cell.State(), "cell must reach the terminal state")
	assert.Equal(t, []string{"begin", "dispatchStart:Idle", "dispatchEnd", "status:204", "complete"},
		h.recorder.snapshot(), "events must arrive in transition order")
	assert.Equal(t, 204, h.lastResult(t).Status, "result must carry the recorded status")
}

func TestCell_DefaultStatusIsOK(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	h.cell.EndDispatch(nil)

	assert.Equal(t, 200, h.lastResult(t).Status, "an unset status must settle as 200")
}

func TestCell_ThrownSegmentForcesServerError(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)
	boom := errors.New("boom")

	var gotErr []error
	require.NoError(t, h.cell.AddListener(types.AsyncListener{
		OnError:    func(ev types.AsyncEvent) { gotErr = append(gotErr, ev.Thrown) },
		OnComplete: func(types.AsyncEvent) { t.Error("OnComplete must not fire for a thrown exchange") },
	}))

	require.NoError(t, h.cell.Dispatch())
	h.cell.EndDispatch(boom)

	res := h.lastResult(t)
	assert.Equal(t, 500, res.Status, "a thrown segment must settle as a server error")
	assert.ErrorIs(t, res.Thrown, boom, "result must carry the thrown error")
	assert.Equal(t, []error{boom}, gotErr, "OnError listeners must receive the thrown error")
	assert.Equal(t, 1, h.recorder.count("thrown"), "thrown must be observed exactly once")
	assert.Equal(t, types.DispatchError, h.cell.DispatchType())
}

func TestCell_DispatchWhileDispatchedFails(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	err := h.cell.Dispatch()
	require.ErrorIs(t, err, types.ErrNotSuspended, "re-dispatching a running segment must fail")
}

func TestCell_StartAsyncRequiresDispatch(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	err := h.cell.StartAsync(time.Minute)
	require.ErrorIs(t, err, types.ErrNotDispatched)
}

func TestCell_StartAsyncTwicePerSegmentFails(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	err := h.cell.StartAsync(time.Minute)
	require.ErrorIs(t, err, types.ErrAlreadySuspended)
}

func TestCell_SuspendSchedulesTimeoutAtPark(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	require.Empty(t, h.sched.Entries(), "the deadline must not be armed before the segment parks")

	h.cell.EndDispatch(nil)

	assert.Equal(t, types.StateSuspended, h.cell.State())
	entries := h.sched.Entries()
	require.Len(t, entries, 1, "parking must arm exactly one deadline")
	assert.Equal(t, time.Minute, entries[0].DelayV)
}

func TestCell_NonPositiveTimeoutSuspendsWithoutDeadline(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(-1))
	h.cell.EndDispatch(nil)

	assert.Equal(t, types.StateSuspended, h.cell.State())
	assert.Empty(t, h.sched.Entries(), "a negative timeout must not arm a deadline")
}

func TestCell_ResumeCancelsTimeout(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	h.cell.EndDispatch(nil)

	require.NoError(t, h.cell.Dispatch())
	assert.Equal(t, types.StateDispatched, h.cell.State())
	assert.True(t, h.sched.Entries()[0].Cancelled(), "resuming must withdraw the pending deadline")
	assert.Equal(t, 0, h.recorder.count("expire"))

	h.cell.EndDispatch(nil)
	assert.Equal(t, types.StateCompleted, h.cell.State())
	assert.Equal(t, 1, h.resultCount())
}

func TestCell_CompleteFromSuspendedCancelsTimeout(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	h.cell.EndDispatch(nil)

	h.cell.Complete()

	assert.Equal(t, types.StateCompleted, h.cell.State())
	assert.True(t, h.sched.Entries()[0].Cancelled())
	assert.Equal(t, 1, h.resultCount())
}

func TestCell_CompleteMidSegmentDefersFinish(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	h.cell.Complete()

	assert.Equal(t, types.StateCompleting, h.cell.State(), "the running segment must finish the exchange")
	assert.Equal(t, 0, h.resultCount(), "finish must wait for the segment to return")
	require.ErrorIs(t, h.cell.StartAsync(time.Minute), types.ErrCompleted)

	h.cell.EndDispatch(nil)
	assert.Equal(t, types.StateCompleted, h.cell.State())
	assert.Equal(t, 1, h.resultCount())
}

func TestCell_CompleteIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	h.cell.EndDispatch(nil)

	h.cell.Complete()
	h.cell.Complete()

	assert.Equal(t, 1, h.resultCount(), "repeated completion must settle exactly once")
	assert.Equal(t, 1, h.recorder.count("complete"))
}

func TestCell_StaleExpireAfterCompleteIsDropped(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	h.cell.EndDispatch(nil)
	h.cell.Complete()

	// Simulate a fire that was already popped off the scheduler heap when Complete raced it.
	h.cell.expire(h.cell.timeoutGen)

	assert.Equal(t, types.StateCompleted, h.cell.State())
	assert.Equal(t, 1, h.resultCount(), "a stale fire must not settle the exchange again")
	assert.Equal(t, 0, h.recorder.count("expire"))
}

func TestCell_ExpireWithoutListenersCompletesServerError(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	h.cell.EndDispatch(nil)

	require.Equal(t, 1, h.sched.FirePending())

	assert.Equal(t, types.StateCompleted, h.cell.State())
	assert.Equal(t, 500, h.lastResult(t).Status, "an unhandled expiry must settle as a server error")
	assert.Nil(t, h.lastResult(t).Thrown, "an expiry is not a thrown completion")
	assert.Equal(t, 1, h.recorder.count("expire"))
}

func TestCell_ExpireListenerCompletes(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)
	require.NoError(t, h.cell.AddListener(types.AsyncListener{
		OnTimeout: func(types.AsyncEvent) {
			h.cell.SetStatus(200)
			h.cell.Complete()
		},
	}))

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	h.cell.EndDispatch(nil)
	require.Equal(t, 1, h.sched.FirePending())

	assert.Equal(t, 200, h.lastResult(t).Status, "a timeout listener that completes controls the status")
	assert.Equal(t, 1, h.resultCount())
}

func TestCell_ExpireListenerOrderAndShortCircuit(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	var order []string
	require.NoError(t, h.cell.AddListener(types.AsyncListener{
		OnTimeout: func(types.AsyncEvent) {
			order = append(order, "first")
			h.cell.Complete()
		},
	}))
	require.NoError(t, h.cell.AddListener(types.AsyncListener{
		OnTimeout: func(types.AsyncEvent) { order = append(order, "second") },
	}))

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	h.cell.EndDispatch(nil)
	require.Equal(t, 1, h.sched.FirePending())

	// Both listeners run even though the first already acted; registration order holds.
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, h.resultCount())
}

func TestCell_ExpireDefersToRedispatchedSegment(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	// The listener resumes the exchange and the resumed segment requests completion while
	// still running; by the time the fire routine re-examines the cell, the segment owns it.
	require.NoError(t, h.cell.AddListener(types.AsyncListener{
		OnTimeout: func(types.AsyncEvent) {
			require.NoError(t, h.cell.Dispatch())
			h.cell.Complete()
		},
	}))

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	h.cell.EndDispatch(nil)

	require.Equal(t, 1, h.sched.FirePending())

	assert.Equal(t, types.StateCompleting, h.cell.State())
	assert.Equal(t, 0, h.resultCount(), "the finish must wait for the running segment")
	assert.Equal(t, 0, h.recorder.count("complete"))

	h.cell.EndDispatch(nil)
	assert.Equal(t, types.StateCompleted, h.cell.State())
	assert.Equal(t, 1, h.resultCount())
	events := h.recorder.snapshot()
	assert.Equal(t, "complete", events[len(events)-1], "the segment end must be observed before completion")
	assert.Equal(t, 2, h.recorder.count("dispatchEnd"))
}

func TestCell_SetTimeoutReArmsWhileSuspended(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	h.cell.EndDispatch(nil)

	require.NoError(t, h.cell.SetTimeout(2*time.Minute))
	entry := h.sched.Entries()[0]
	assert.Equal(t, 1, entry.Resets(), "an armed deadline must be re-armed in place")
	assert.Equal(t, 2*time.Minute, entry.DelayV)

	require.NoError(t, h.cell.SetTimeout(-1))
	assert.True(t, entry.Cancelled(), "a non-positive timeout must withdraw the deadline")
	require.Len(t, h.sched.Entries(), 1, "no replacement entry must be armed")
}

func TestCell_ReArmSurvivesInFlightFire(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(time.Minute))
	h.cell.EndDispatch(nil)

	// The scheduler pops the entry just before the timeout is re-armed: Reset and Cancel on
	// the old entry fail, so a replacement is scheduled while the old fire is still in flight.
	stale := h.sched.Entries()[0].BeginFire()
	require.NotNil(t, stale)
	require.NoError(t, h.cell.SetTimeout(2*time.Minute))
	entries := h.sched.Entries()
	require.Len(t, entries, 2, "a re-arm past an unstoppable entry must schedule a replacement")
	assert.Equal(t, 2*time.Minute, entries[1].DelayV)

	stale()
	assert.Equal(t, types.StateSuspended, h.cell.State(), "a superseded fire must not expire the cell")
	assert.Equal(t, 0, h.recorder.count("expire"))
	assert.Equal(t, 0, h.resultCount())

	require.True(t, entries[1].Fire())
	assert.Equal(t, types.StateCompleted, h.cell.State())
	assert.Equal(t, 1, h.recorder.count("expire"))
	assert.Equal(t, 500, h.lastResult(t).Status)
}

func TestCell_SetTimeoutArmsAfterDeadlineRemoved(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(-1))
	h.cell.EndDispatch(nil)
	require.Empty(t, h.sched.Entries())

	require.NoError(t, h.cell.SetTimeout(time.Second))
	entries := h.sched.Entries()
	require.Len(t, entries, 1, "setting a timeout on an undated suspend must arm a deadline")
	assert.Equal(t, time.Second, entries[0].DelayV)
}

func TestCell_AddListenerAfterCompletionFails(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	h.cell.EndDispatch(nil)

	err := h.cell.AddListener(types.AsyncListener{})
	require.ErrorIs(t, err, types.ErrCompleted)
}

func TestCell_AsyncStartObservedOncePerRequest(t *testing.T) {
	t.Parallel()
	h := newCellHarness(t)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(-1))
	h.cell.EndDispatch(nil)

	require.NoError(t, h.cell.Dispatch())
	require.NoError(t, h.cell.StartAsync(-1))
	h.cell.EndDispatch(nil)

	h.cell.Complete()
	assert.Equal(t, 1, h.recorder.count("asyncStart"), "asyncStart counts requests, not suspend cycles")
	assert.Equal(t, 2, h.recorder.count("suspend"))
}

func TestCell_DispatchedTimeExcludesSuspendGap(t *testing.T) {
	t.Parallel()
	clk := testclock.NewFakePassiveClock(time.Now())
	sched := &schedmocks.MockTimeoutScheduler{}
	obs := &timingObserver{}
	req := typesmocks.NewMockRequestHandle("conn-2", 2, context.Background())
	cell := NewCell(req, clk, sched, []contracts.LifecycleObserver{obs},
		logutil.NewTestLogger(), nil)

	require.NoError(t, cell.Dispatch())
	clk.SetTime(clk.Now().Add(100 * time.Millisecond))
	require.NoError(t, cell.StartAsync(-1))
	cell.EndDispatch(nil)

	clk.SetTime(clk.Now().Add(1 * time.Second))

	require.NoError(t, cell.Dispatch())
	clk.SetTime(clk.Now().Add(50 * time.Millisecond))
	cell.EndDispatch(nil)

	assert.Equal(t, 1150*time.Millisecond, obs.requestTime, "request time spans the suspend gap")
	assert.Equal(t, 150*time.Millisecond, obs.dispatchedTime, "dispatched time sums handler segments only")
}

// timingObserver keeps only the completion durations.
type timingObserver struct {
	eventRecorder
	requestTime    time.Duration
	dispatchedTime time.Duration
}

func (o *timingObserver) OnComplete(requestTime, dispatchedTime time.Duration) {
	o.requestTime = requestTime
	o.dispatchedTime = dispatchedTime
}

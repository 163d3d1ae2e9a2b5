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

// Package internal contains the per-request state cell of the lifecycle controller: the
// mutable record that carries an exchange through dispatch, suspend, resume, expiry and
// completion under strict ordering and exactly-once completion guarantees.
package internal

import (
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	logutil "github.com/zetxqx/requestflow/pkg/common/observability/logging"
	"github.com/zetxqx/requestflow/pkg/lifecycle/contracts"
	"github.com/zetxqx/requestflow/pkg/lifecycle/types"
)

// Cell is the per-request state record. It is exclusively owned by the goroutine currently
// dispatched on it; ownership transfers to the timeout scheduler while suspended and to
// whichever goroutine performs the resuming dispatch.
//
// # Concurrency
//
// All transitions are serialized by the cell mutex. The `completed` flag is the one piece of
// state designed for concurrent access: `finish` performs a single atomic test-and-set on it,
// which is the sole arbiter of the complete-vs-timeout race. The loser of that race becomes a
// no-op, so counters are never double-settled and listener sets never fire twice.
//
// Observer events are emitted while the mutex is held: a goroutine that observes a transition
// having returned is therefore guaranteed the corresponding counter updates are already
// visible. Listener callbacks, which may re-enter the cell, always run outside the mutex.
type Cell struct {
	req       types.RequestHandle
	clock     clock.PassiveClock
	scheduler contracts.TimeoutScheduler
	observers []contracts.LifecycleObserver
	logger    logr.Logger
	onFinish  func(types.Result)

	mu           sync.Mutex
	state        types.State
	dispatchType types.DispatchType
	// dispatching is true while a handler segment owns the cell, from Dispatch to
	// EndDispatch. The expiry path consults it to tell a deferred completion it must not
	// settle (the segment end does) from one it owns.
	dispatching bool
	// asyncStarted records a StartAsync call within the current dispatch segment; it guards
	// against a second StartAsync before the cycle is resumed or completed.
	asyncStarted bool
	// everAsync is set by the first StartAsync of the request only, so asyncRequests counts
	// requests rather than suspend cycles.
	everAsync      bool
	suspendTimeout time.Duration
	entry          contracts.TimeoutEntry
	// timeoutGen stamps each armed timeout entry. A fire carrying a stale stamp lost a race
	// against a re-arm whose Reset/Cancel could no longer stop it, and is dropped.
	timeoutGen uint64
	listeners      []types.AsyncListener
	status         int
	thrown         error
	startTime      time.Time
	dispatchStart  time.Time
	// dispatchedTotal accumulates handler segment durations, excluding suspend gaps.
	dispatchedTotal time.Duration

	// completed is monotonic: once true it never resets.
	completed atomic.Bool
}

// NewCell creates the state cell for one admitted request and notifies observers of its
// arrival. onFinish, if non-nil, is invoked exactly once after the terminal state is reached.
func NewCell(
	req types.RequestHandle,
	clk clock.PassiveClock,
	scheduler contracts.TimeoutScheduler,
	observers []contracts.LifecycleObserver,
	logger logr.Logger,
	onFinish func(types.Result),
) *Cell {
	c := &Cell{
		req:       req,
		clock:     clk,
		scheduler: scheduler,
		observers: observers,
		logger:    logger.WithValues("reqID", req.ID()),
		onFinish:  onFinish,
		state:     types.StateIdle,
		startTime: clk.Now(),
	}
	c.emit(func(o contracts.LifecycleObserver) { o.OnRequestBegin() })
	return c
}

// emit delivers an event to every observer in registration order. Callers hold the cell
// mutex except during construction, when no other goroutine can reach the cell yet.
func (c *Cell) emit(f func(contracts.LifecycleObserver)) {
	for _, o := range c.observers {
		f(o)
	}
}

// State returns the current lifecycle state.
func (c *Cell) State() types.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DispatchType returns the classification of the current or most recent dispatch segment.
func (c *Cell) DispatchType() types.DispatchType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatchType
}

// SetStatus records the response status code to report at completion. After completion it is
// a no-op.
func (c *Cell) SetStatus(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.StateCompleted {
		return
	}
	c.status = code
}

// AddListener registers an async listener. Listeners fire in registration order.
func (c *Cell) AddListener(l types.AsyncListener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.StateCompleting || c.state == types.StateCompleted {
		return types.ErrCompleted
	}
	c.listeners = append(c.listeners, l)
	return nil
}

// Dispatch transitions the cell into the dispatched state, claiming ownership for the
// segment about to run. It is invoked by the connector's processing goroutine for the
// initial dispatch and by the resume path (possibly from a timeout listener, while the cell
// is expired) for re-dispatches. A pending timeout entry is cancelled on resume.
func (c *Cell) Dispatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	switch from {
	case types.StateIdle:
		c.dispatchType = types.DispatchRequest
	case types.StateSuspended:
		c.dispatchType = types.DispatchAsync
		if c.entry != nil {
			// The entry may have been popped by the scheduler already; the state check in
			// expire discards that fire once we leave the suspended state here.
			c.entry.Cancel()
			c.entry = nil
		}
		c.emit(func(o contracts.LifecycleObserver) { o.OnSuspendEnd() })
	case types.StateExpired:
		c.dispatchType = types.DispatchAsync
	case types.StateCompleting, types.StateCompleted:
		return types.ErrCompleted
	default:
		return fmt.Errorf("%w: dispatch requested in state %s", types.ErrNotSuspended, from)
	}

	c.state = types.StateDispatched
	c.dispatching = true
	c.asyncStarted = false
	c.dispatchStart = c.clock.Now()
	c.emit(func(o contracts.LifecycleObserver) { o.OnDispatchStart(from) })
	return nil
}

// StartAsync marks the current dispatch segment as suspending: when the segment returns, the
// cell parks instead of completing. timeout > 0 arms the timeout scheduler at park time;
// timeout <= 0 parks without a deadline.
func (c *Cell) StartAsync(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case types.StateDispatched:
	case types.StateCompleting, types.StateCompleted:
		return types.ErrCompleted
	default:
		return fmt.Errorf("%w: StartAsync in state %s", types.ErrNotDispatched, c.state)
	}
	if c.asyncStarted {
		return types.ErrAlreadySuspended
	}

	c.asyncStarted = true
	c.suspendTimeout = timeout
	if !c.everAsync {
		c.everAsync = true
		c.emit(func(o contracts.LifecycleObserver) { o.OnAsyncStart() })
	}
	return nil
}

// SetTimeout changes the suspend timeout. While dispatched (after StartAsync) it adjusts the
// deadline armed at park time; while suspended it re-arms the pending entry from now.
func (c *Cell) SetTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case types.StateDispatched:
		if !c.asyncStarted {
			return fmt.Errorf("%w: SetTimeout before StartAsync", types.ErrNotSuspended)
		}
		c.suspendTimeout = d
		return nil
	case types.StateSuspended:
		c.suspendTimeout = d
		if c.entry != nil {
			if d > 0 && c.entry.Reset(d) {
				return nil
			}
			c.entry.Cancel()
			c.entry = nil
		}
		if d > 0 {
			c.armTimeoutLocked(d)
		}
		return nil
	default:
		return fmt.Errorf("%w: SetTimeout in state %s", types.ErrNotSuspended, c.state)
	}
}

// EndDispatch closes the current handler segment. thrown carries a handler error or
// recovered panic; a thrown segment forces completion regardless of any suspend intent.
// Otherwise the cell parks if StartAsync was called, completes if it was not, and performs a
// deferred completion if Complete was requested mid-segment.
func (c *Cell) EndDispatch(thrown error) {
	c.mu.Lock()
	c.dispatching = false
	elapsed := c.clock.Now().Sub(c.dispatchStart)
	c.dispatchedTotal += elapsed
	c.emit(func(o contracts.LifecycleObserver) { o.OnDispatchEnd(elapsed) })

	if thrown != nil {
		c.thrown = thrown
		if c.status == 0 {
			c.status = http.StatusInternalServerError
		}
		c.dispatchType = types.DispatchError
		c.mu.Unlock()
		c.finish()
		return
	}

	switch c.state {
	case types.StateDispatched:
		if !c.asyncStarted {
			c.mu.Unlock()
			c.finish()
			return
		}
		c.state = types.StateSuspended
		c.emit(func(o contracts.LifecycleObserver) { o.OnSuspend() })
		if c.suspendTimeout > 0 {
			c.armTimeoutLocked(c.suspendTimeout)
		}
		listeners := slices.Clone(c.listeners)
		c.mu.Unlock()

		ev := types.AsyncEvent{Request: c.req}
		for _, l := range listeners {
			if l.OnStartAsync != nil {
				l.OnStartAsync(ev)
			}
		}
	case types.StateCompleting:
		c.mu.Unlock()
		c.finish()
	default:
		// Unreachable while a segment owns the cell; log and leave state untouched.
		state := c.state
		c.mu.Unlock()
		c.logger.Error(nil, "Logic error: dispatch segment ended in unexpected state", "state", state)
	}
}

// Complete requests completion from any non-terminal state. It is idempotent: a second call,
// or a call racing a timeout fire, is a no-op. When a dispatch segment or timeout callback
// still owns the cell the finish is deferred to that owner; otherwise it runs here.
func (c *Cell) Complete() {
	c.mu.Lock()
	switch c.state {
	case types.StateDispatched, types.StateExpired:
		// A segment or the expiry routine owns the cell; it finishes on our behalf.
		c.state = types.StateCompleting
		c.mu.Unlock()
	case types.StateSuspended:
		if c.entry != nil {
			c.entry.Cancel()
			c.entry = nil
		}
		c.emit(func(o contracts.LifecycleObserver) { o.OnSuspendEnd() })
		c.state = types.StateCompleting
		c.mu.Unlock()
		c.finish()
	case types.StateIdle:
		c.state = types.StateCompleting
		c.mu.Unlock()
		c.finish()
	default:
		// Completing or Completed: idempotent no-op.
		c.mu.Unlock()
	}
}

// armTimeoutLocked schedules the suspend deadline. Callers hold the cell mutex. Each armed
// entry carries a fresh generation stamp so a fire from a superseded entry, already past the
// point where Reset or Cancel could stop it, is recognized as stale.
func (c *Cell) armTimeoutLocked(d time.Duration) {
	c.timeoutGen++
	gen := c.timeoutGen
	c.entry = c.scheduler.Schedule(d, func() { c.expire(gen) })
}

// expire is the timeout scheduler's fire function. It runs on the scheduler goroutine,
// transitions a suspended cell to expired, runs OnTimeout listeners in registration order
// (which may dispatch or complete, leaving the expired state before the set finishes), and
// if nobody acted completes the exchange with a server error.
func (c *Cell) expire(gen uint64) {
	c.mu.Lock()
	if c.state != types.StateSuspended || gen != c.timeoutGen {
		// Complete, a resume dispatch, or a re-armed deadline won the race; this fire is
		// silently dropped.
		c.mu.Unlock()
		return
	}
	c.state = types.StateExpired
	c.entry = nil
	c.emit(func(o contracts.LifecycleObserver) { o.OnSuspendEnd() })
	c.emit(func(o contracts.LifecycleObserver) { o.OnExpire() })
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	c.logger.V(logutil.DEBUG).Info("Suspend timeout expired")
	ev := types.AsyncEvent{Request: c.req}
	for _, l := range listeners {
		if l.OnTimeout != nil {
			l.OnTimeout(ev)
		}
	}

	c.mu.Lock()
	switch c.state {
	case types.StateExpired:
		// No listener resumed or completed; the engine answers with a server error.
		if c.status == 0 {
			c.status = http.StatusInternalServerError
		}
		c.state = types.StateCompleting
		c.mu.Unlock()
		c.finish()
	case types.StateCompleting:
		if c.dispatching {
			// A listener redispatched and the running segment already requested completion;
			// the finish belongs to its EndDispatch, not to us.
			c.mu.Unlock()
			return
		}
		// A listener completed while we were expired; the deferred finish is ours.
		c.mu.Unlock()
		c.finish()
	default:
		// A listener dispatched; the resume segment owns the cell now.
		c.mu.Unlock()
	}
}

// finish settles the exchange exactly once: terminal state, async listeners, observer
// notification, connector callback, in that order. The compare-and-swap on the completion
// flag makes every later (or racing) call a no-op.
func (c *Cell) finish() {
	if !c.completed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	c.state = types.StateCompleted
	if c.status == 0 {
		c.status = http.StatusOK
	}
	status := c.status
	thrown := c.thrown
	requestTime := c.clock.Now().Sub(c.startTime)
	dispatchedTime := c.dispatchedTotal
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	ev := types.AsyncEvent{Request: c.req, Status: status, Thrown: thrown}
	for _, l := range listeners {
		switch {
		case thrown != nil && l.OnError != nil:
			l.OnError(ev)
		case thrown == nil && l.OnComplete != nil:
			l.OnComplete(ev)
		}
	}

	c.mu.Lock()
	if thrown != nil {
		c.emit(func(o contracts.LifecycleObserver) { o.OnThrown() })
	}
	c.emit(func(o contracts.LifecycleObserver) { o.OnResponseStatus(status) })
	c.emit(func(o contracts.LifecycleObserver) { o.OnComplete(requestTime, dispatchedTime) })
	c.mu.Unlock()

	c.logger.V(logutil.TRACE).Info("Exchange completed",
		"status", status, "thrown", thrown != nil, "requestTime", requestTime)
	if c.onFinish != nil {
		c.onFinish(types.Result{Status: status, Thrown: thrown})
	}
}

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

// Package contracts defines the service interfaces that decouple the lifecycle engine's
// components: the controller consumes a TimeoutScheduler and publishes transition events to
// LifecycleObservers. Concrete implementations live in the sibling `scheduler`, `stats`, and
// `graceful` packages; tests substitute mocks.
package contracts

import (
	"time"

	"github.com/zetxqx/requestflow/pkg/lifecycle/types"
)

// TimeoutScheduler is a deadline-ordered timer service. It is a side-effect-free trigger: it
// invokes the registered fire function on its own goroutine and never touches lifecycle state
// or counters directly.
type TimeoutScheduler interface {
	// Schedule registers fire to run once d elapses. The returned entry supports race-free
	// cancellation and re-arming. Schedule never blocks.
	Schedule(d time.Duration, fire func()) TimeoutEntry
}

// TimeoutEntry is a handle to a single scheduled deadline.
type TimeoutEntry interface {
	// Cancel withdraws the entry. It returns true if the entry was withdrawn before its fire
	// function started, false if the entry already fired or is firing concurrently. Cancel is
	// idempotent.
	//
	// A false return does NOT mean the lifecycle transition the fire function attempts has
	// won: the completion flag on the exchange is the sole arbiter of that race.
	Cancel() bool

	// Reset re-arms the entry with a new delay measured from now. It returns false if the
	// entry already fired or was cancelled.
	Reset(d time.Duration) bool
}

// LifecycleObserver receives per-exchange transition events. The controller guarantees that
// events for a single exchange are delivered in transition order and that an event's side
// effects are applied before the transition returns to its caller.
//
// Implementations must be safe for concurrent delivery from multiple exchanges.
type LifecycleObserver interface {
	// OnRequestBegin fires once per inbound request, when its exchange is admitted.
	OnRequestBegin()

	// OnDispatchStart fires when a handler segment begins. from is the state the exchange
	// left: StateIdle for the initial dispatch, StateSuspended or StateExpired for a resume.
	OnDispatchStart(from types.State)

	// OnDispatchEnd fires when a handler segment returns, with the wall-clock time the
	// segment spent executing.
	OnDispatchEnd(elapsed time.Duration)

	// OnAsyncStart fires on the first StartAsync call of an exchange only.
	OnAsyncStart()

	// OnSuspend fires when the exchange parks in the suspended state.
	OnSuspend()

	// OnSuspendEnd fires when the exchange leaves the suspended state for any reason: a
	// resuming dispatch, a timeout expiry, or a direct completion. Every OnSuspend is paired
	// with exactly one OnSuspendEnd.
	OnSuspendEnd()

	// OnExpire fires when the suspend timeout elapses, after OnSuspendEnd and before timeout
	// listeners run.
	OnExpire()

	// OnThrown fires when a handler segment ends with an error or panic.
	OnThrown()

	// OnResponseStatus fires once per exchange at completion with the recorded status code.
	OnResponseStatus(code int)

	// OnComplete fires exactly once per exchange, last. requestTime spans admission to
	// completion including suspend gaps; dispatchedTime is the sum of handler segment
	// durations only, so dispatchedTime <= requestTime always holds.
	OnComplete(requestTime, dispatchedTime time.Duration)
}

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

// Package stats provides the statistics aggregator for the request lifecycle engine: a pure
// event sink that turns lifecycle transition events into atomically maintained counters.
//
// The aggregator is an explicit shared value handed to every exchange at construction rather
// than process-global state; `Reset` and `Snapshot` make it usable both for operational
// metrics and for per-test assertions.
package stats

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zetxqx/requestflow/pkg/lifecycle/contracts"
	"github.com/zetxqx/requestflow/pkg/lifecycle/types"
)

// Aggregator accumulates lifecycle statistics. All methods are safe for concurrent delivery
// from multiple exchange goroutines; counter updates use atomic add and max tracking uses a
// compare-and-swap loop so historical peaks are never lost to races.
//
// There is no mutex: each counter is independently atomic. A Snapshot is therefore not a
// single linearizable cut across all counters, matching the observable behavior of the
// counters it models.
type Aggregator struct {
	requests            atomic.Int64
	requestsActive      atomic.Int64
	requestsActiveMax   atomic.Int64
	dispatched          atomic.Int64
	dispatchedActive    atomic.Int64
	dispatchedActiveMax atomic.Int64
	asyncRequests       atomic.Int64
	asyncDispatches     atomic.Int64
	expires             atomic.Int64

	// responses counts completed exchanges by status class; index 1..5 for 1xx..5xx.
	responses       [6]atomic.Int64
	responsesThrown atomic.Int64

	// Durations are accumulated in nanoseconds. completedRequests and completedDispatches
	// are the sample counts backing the mean values.
	requestTimeTotal    atomic.Int64
	requestTimeMax      atomic.Int64
	completedRequests   atomic.Int64
	dispatchedTimeTotal atomic.Int64
	dispatchedTimeMax   atomic.Int64
	completedDispatches atomic.Int64
}

var _ contracts.LifecycleObserver = &Aggregator{}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// storeMax raises m to v unless a concurrent writer already recorded a higher value.
func storeMax(m *atomic.Int64, v int64) {
	for {
		cur := m.Load()
		if v <= cur || m.CompareAndSwap(cur, v) {
			return
		}
	}
}

// OnRequestBegin implements contracts.LifecycleObserver.
func (a *Aggregator) OnRequestBegin() {
	a.requests.Add(1)
	storeMax(&a.requestsActiveMax, a.requestsActive.Add(1))
}

// OnDispatchStart implements contracts.LifecycleObserver. A dispatch leaving the suspended or
// expired state is a resume and counts toward asyncDispatches; the initial dispatch does not.
func (a *Aggregator) OnDispatchStart(from types.State) {
	a.dispatched.Add(1)
	storeMax(&a.dispatchedActiveMax, a.dispatchedActive.Add(1))
	if from == types.StateSuspended || from == types.StateExpired {
		a.asyncDispatches.Add(1)
	}
}

// OnDispatchEnd implements contracts.LifecycleObserver.
func (a *Aggregator) OnDispatchEnd(elapsed time.Duration) {
	a.dispatchedActive.Add(-1)
	a.dispatchedTimeTotal.Add(int64(elapsed))
	storeMax(&a.dispatchedTimeMax, int64(elapsed))
	a.completedDispatches.Add(1)
}

// OnAsyncStart implements contracts.LifecycleObserver.
func (a *Aggregator) OnAsyncStart() {
	a.asyncRequests.Add(1)
}

// OnSuspend implements contracts.LifecycleObserver. Suspension itself moves no counters; the
// suspended exchange simply remains in requestsActive until it completes.
func (a *Aggregator) OnSuspend() {}

// OnSuspendEnd implements contracts.LifecycleObserver.
func (a *Aggregator) OnSuspendEnd() {}

// OnExpire implements contracts.LifecycleObserver.
func (a *Aggregator) OnExpire() {
	a.expires.Add(1)
}

// OnThrown implements contracts.LifecycleObserver. Thrown and status-class counting are
// independent classifications: a dispatch that throws increments responsesThrown here, and
// the forced 500 response still lands in responses5xx via OnResponseStatus.
func (a *Aggregator) OnThrown() {
	a.responsesThrown.Add(1)
}

// OnResponseStatus implements contracts.LifecycleObserver.
func (a *Aggregator) OnResponseStatus(code int) {
	if class := code / 100; class >= 1 && class <= 5 {
		a.responses[class].Add(1)
	}
}

// OnComplete implements contracts.LifecycleObserver. This is the single point where
// requestsActive is decremented, so it returns to zero exactly once per request regardless of
// how many dispatch/suspend cycles occurred. Dispatched time is already accumulated per
// segment via OnDispatchEnd, so only the request duration is recorded here.
func (a *Aggregator) OnComplete(requestTime, _ time.Duration) {
	a.requestsActive.Add(-1)
	a.requestTimeTotal.Add(int64(requestTime))
	storeMax(&a.requestTimeMax, int64(requestTime))
	a.completedRequests.Add(1)
}

// --- Accessors ---

func (a *Aggregator) Requests() int64            { return a.requests.Load() }
func (a *Aggregator) RequestsActive() int64      { return a.requestsActive.Load() }
func (a *Aggregator) RequestsActiveMax() int64   { return a.requestsActiveMax.Load() }
func (a *Aggregator) Dispatched() int64          { return a.dispatched.Load() }
func (a *Aggregator) DispatchedActive() int64    { return a.dispatchedActive.Load() }
func (a *Aggregator) DispatchedActiveMax() int64 { return a.dispatchedActiveMax.Load() }
func (a *Aggregator) AsyncRequests() int64       { return a.asyncRequests.Load() }
func (a *Aggregator) AsyncDispatches() int64     { return a.asyncDispatches.Load() }
func (a *Aggregator) Expires() int64             { return a.expires.Load() }
func (a *Aggregator) ResponsesThrown() int64     { return a.responsesThrown.Load() }

// Responses returns the number of completed exchanges whose status fell in the given class
// (1 for 1xx through 5 for 5xx).
func (a *Aggregator) Responses(class int) int64 {
	if class < 1 || class > 5 {
		return 0
	}
	return a.responses[class].Load()
}

func (a *Aggregator) RequestTimeTotal() time.Duration {
	return time.Duration(a.requestTimeTotal.Load())
}

func (a *Aggregator) RequestTimeMax() time.Duration {
	return time.Duration(a.requestTimeMax.Load())
}

// RequestTimeMean returns the mean wall-clock request duration over completed exchanges.
func (a *Aggregator) RequestTimeMean() time.Duration {
	n := a.completedRequests.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(a.requestTimeTotal.Load() / n)
}

func (a *Aggregator) DispatchedTimeTotal() time.Duration {
	return time.Duration(a.dispatchedTimeTotal.Load())
}

func (a *Aggregator) DispatchedTimeMax() time.Duration {
	return time.Duration(a.dispatchedTimeMax.Load())
}

// DispatchedTimeMean returns the mean handler segment duration over finished segments.
func (a *Aggregator) DispatchedTimeMean() time.Duration {
	n := a.completedDispatches.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(a.dispatchedTimeTotal.Load() / n)
}

// Reset zeroes all accumulated counters. The live gauges (requestsActive, dispatchedActive)
// are preserved, and their max trackers restart from the current gauge values, so in-flight
// exchanges keep decrementing into consistent state.
func (a *Aggregator) Reset() {
	a.requests.Store(0)
	a.requestsActiveMax.Store(a.requestsActive.Load())
	a.dispatched.Store(0)
	a.dispatchedActiveMax.Store(a.dispatchedActive.Load())
	a.asyncRequests.Store(0)
	a.asyncDispatches.Store(0)
	a.expires.Store(0)
	for i := range a.responses {
		a.responses[i].Store(0)
	}
	a.responsesThrown.Store(0)
	a.requestTimeTotal.Store(0)
	a.requestTimeMax.Store(0)
	a.completedRequests.Store(0)
	a.dispatchedTimeTotal.Store(0)
	a.dispatchedTimeMax.Store(0)
	a.completedDispatches.Store(0)
}

// Snapshot is a point-in-time copy of all counters, suitable for metrics export and test
// assertions.
type Snapshot struct {
	Requests            int64
	RequestsActive      int64
	RequestsActiveMax   int64
	Dispatched          int64
	DispatchedActive    int64
	DispatchedActiveMax int64
	AsyncRequests       int64
	AsyncDispatches     int64
	Expires             int64
	Responses1xx        int64
	Responses2xx        int64
	Responses3xx        int64
	Responses4xx        int64
	Responses5xx        int64
	ResponsesThrown     int64
	RequestTimeTotal    time.Duration
	RequestTimeMax      time.Duration
	RequestTimeMean     time.Duration
	DispatchedTimeTotal time.Duration
	DispatchedTimeMax   time.Duration
	DispatchedTimeMean  time.Duration
}

// Snapshot returns a copy of the current counter values.
func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		Requests:            a.Requests(),
		RequestsActive:      a.RequestsActive(),
		RequestsActiveMax:   a.RequestsActiveMax(),
		Dispatched:          a.Dispatched(),
		DispatchedActive:    a.DispatchedActive(),
		DispatchedActiveMax: a.DispatchedActiveMax(),
		AsyncRequests:       a.AsyncRequests(),
		AsyncDispatches:     a.AsyncDispatches(),
		Expires:             a.Expires(),
		Responses1xx:        a.Responses(1),
		Responses2xx:        a.Responses(2),
		Responses3xx:        a.Responses(3),
		Responses4xx:        a.Responses(4),
		Responses5xx:        a.Responses(5),
		ResponsesThrown:     a.ResponsesThrown(),
		RequestTimeTotal:    a.RequestTimeTotal(),
		RequestTimeMax:      a.RequestTimeMax(),
		RequestTimeMean:     a.RequestTimeMean(),
		DispatchedTimeTotal: a.DispatchedTimeTotal(),
		DispatchedTimeMax:   a.DispatchedTimeMax(),
		DispatchedTimeMean:  a.DispatchedTimeMean(),
	}
}

// String renders the snapshot as a plain-text report.
func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "requests: %d (active: %d, max: %d)\n", s.Requests, s.RequestsActive, s.RequestsActiveMax)
	fmt.Fprintf(&b, "dispatched: %d (active: %d, max: %d)\n", s.Dispatched, s.DispatchedActive, s.DispatchedActiveMax)
	fmt.Fprintf(&b, "async: requests %d, dispatches %d, expires %d\n", s.AsyncRequests, s.AsyncDispatches, s.Expires)
	fmt.Fprintf(&b, "responses: 1xx %d, 2xx %d, 3xx %d, 4xx %d, 5xx %d, thrown %d\n",
		s.Responses1xx, s.Responses2xx, s.Responses3xx, s.Responses4xx, s.Responses5xx, s.ResponsesThrown)
	fmt.Fprintf(&b, "request time: total %s, max %s, mean %s\n", s.RequestTimeTotal, s.RequestTimeMax, s.RequestTimeMean)
	fmt.Fprintf(&b, "dispatched time: total %s, max %s, mean %s\n",
		s.DispatchedTimeTotal, s.DispatchedTimeMax, s.DispatchedTimeMean)
	return b.String()
}

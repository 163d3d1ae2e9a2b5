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

package types

import "errors"

// --- Illegal-state errors ---

// The following errors signal programming mistakes in the calling handler code: a lifecycle
// operation was invoked from a state that does not permit it. They are returned to the caller
// and never corrupt counters or listener bookkeeping.
var (
	// ErrNotDispatched indicates an operation that requires an executing dispatch segment
	// (such as `StartAsync`) was invoked while no segment owns the exchange.
	ErrNotDispatched = errors.New("exchange is not dispatched")

	// ErrAlreadySuspended indicates `StartAsync` was called a second time within the same
	// suspend cycle, before the prior cycle was resumed or completed.
	ErrAlreadySuspended = errors.New("exchange already suspended in this cycle")

	// ErrNotSuspended indicates a resume or timeout re-arm was attempted while the exchange
	// was not parked in the suspended state.
	ErrNotSuspended = errors.New("exchange is not suspended")

	// ErrCompleted indicates an operation was attempted after the exchange reached its
	// terminal state.
	//
	// Note that `AsyncContext.Complete` itself is exempt: a second call is an idempotent
	// no-op, not an error.
	ErrCompleted = errors.New("exchange already completed")
)

// --- Admission errors ---

var (
	// ErrShuttingDown indicates a new exchange was refused because the engine is draining.
	//
	// Callers should use `errors.Is(err, ErrShuttingDown)` and convert it to the wire
	// protocol's overload signal (e.g. a 503 response).
	ErrShuttingDown = errors.New("engine is shutting down")
)

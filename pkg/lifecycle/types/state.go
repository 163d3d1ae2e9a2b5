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

import "strconv"

// State represents the position of an exchange in the asynchronous request lifecycle.
//
// The legal transition graph is:
//
//	Idle → Dispatched → Suspended → Dispatched (resume)
//	                              → Expired    (timeout fire)
//	any non-terminal → Completing → Completed
//
// `StateCompleting` is an internal waypoint: completion has been requested while a dispatch
// segment still owns the exchange, so the finish work is deferred to the end of that segment.
type State int

const (
	// StateIdle is the initial state, before the first dispatch segment has started.
	StateIdle State = iota

	// StateDispatched indicates a handler segment is currently executing on a worker goroutine,
	// which exclusively owns the exchange.
	StateDispatched

	// StateSuspended indicates `StartAsync` was called and the dispatching goroutine has
	// returned; the exchange is parked waiting for a resume, a completion, or a timeout.
	StateSuspended

	// StateExpired indicates the timeout scheduler fired for a suspended exchange. Timeout
	// listeners run in this state and may transition out of it by dispatching or completing.
	StateExpired

	// StateCompleting indicates completion has been requested but a dispatch segment is still
	// running; the segment end performs the actual finish.
	StateCompleting

	// StateCompleted is the terminal state. Counters have been settled and completion
	// listeners have fired exactly once.
	StateCompleted
)

// String returns a human-readable string representation of the State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateDispatched:
		return "Dispatched"
	case StateSuspended:
		return "Suspended"
	case StateExpired:
		return "Expired"
	case StateCompleting:
		return "Completing"
	case StateCompleted:
		return "Completed"
	default:
		// Return the integer value for unknown states to aid in debugging.
		return "UnknownState(" + strconv.Itoa(int(s)) + ")"
	}
}

// DispatchType classifies a single dispatch segment.
type DispatchType int

const (
	// DispatchRequest is the initial dispatch of an inbound request.
	DispatchRequest DispatchType = iota

	// DispatchAsync is a re-dispatch of a previously suspended exchange.
	DispatchAsync

	// DispatchError is a dispatch performed to generate an error response after a handler
	// failure.
	DispatchError
)

// String returns a human-readable string representation of the DispatchType.
func (d DispatchType) String() string {
	switch d {
	case DispatchRequest:
		return "Request"
	case DispatchAsync:
		return "Async"
	case DispatchError:
		return "Error"
	default:
		return "UnknownDispatchType(" + strconv.Itoa(int(d)) + ")"
	}
}

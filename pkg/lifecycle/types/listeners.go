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

// AsyncEvent is the payload delivered to async listener callbacks.
type AsyncEvent struct {
	// Request is the handle of the exchange the event belongs to.
	Request RequestHandle

	// Status is the response status recorded at the time of the event. It is only meaningful
	// for `OnComplete` and `OnError`.
	Status int

	// Thrown carries the handler error for `OnError` events; nil otherwise.
	Thrown error
}

// AsyncListener is a dispatch table over the fixed set of async lifecycle callbacks. Any
// subset of the fields may be set; nil entries are skipped. Listeners registered on the same
// AsyncContext fire in registration order, and a given listener set fires at most once per
// event kind.
//
// `OnTimeout` runs synchronously on the timeout scheduler's goroutine and may legally call
// `Dispatch` or `Complete` on the AsyncContext, transitioning the exchange out of the expired
// state before the remaining listeners run.
type AsyncListener struct {
	// OnStartAsync fires when the exchange suspends, after the dispatching goroutine has
	// released ownership.
	OnStartAsync func(AsyncEvent)

	// OnTimeout fires when the suspend timeout elapses before a resume or completion.
	OnTimeout func(AsyncEvent)

	// OnError fires instead of OnComplete when the exchange completes because a handler
	// returned an error or panicked.
	OnError func(AsyncEvent)

	// OnComplete fires when the exchange reaches its terminal state normally.
	OnComplete func(AsyncEvent)
}

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

// Package types defines the vocabulary shared by the request lifecycle engine: the lifecycle
// state enum, the request handle abstraction presented by the connector layer, the listener
// dispatch table, and the sentinel errors surfaced to callers.
package types

import "context"

// RequestHandle is the engine's view of one inbound request. It is implemented by the
// connector layer (the component that parses the wire protocol and owns the socket); the
// lifecycle engine never inspects request content, it only needs a stable identity and a
// context for cancellation propagation.
//
// A handle's identity is the (connection, stream) pair: a keep-alive connection carries many
// sequential streams, each of which is a distinct request with its own lifecycle.
type RequestHandle interface {
	// ID returns a unique identifier for this request, used for logging and error messages.
	ID() string

	// ConnectionID identifies the transport connection the request arrived on.
	ConnectionID() string

	// StreamID identifies the request within its connection.
	StreamID() uint64

	// Context returns the request-scoped context. The engine observes it for cancellation but
	// never stores values in it.
	Context() context.Context
}

// Result is the settled outcome of an exchange, delivered to the connector's finish callback
// exactly once, after the terminal state has been reached.
type Result struct {
	// Status is the response status code recorded for the exchange (0 is never reported; an
	// exchange that sets no status completes with 200).
	Status int

	// Thrown is the handler error or recovered panic that forced completion, or nil for a
	// normal completion.
	Thrown error
}

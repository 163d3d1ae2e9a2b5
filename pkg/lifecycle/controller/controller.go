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

// Package controller implements the asynchronous request lifecycle engine.
//
// The `Controller` admits requests into `Exchange`s and drives each one through the
// dispatch / suspend / resume / expire / complete state machine. Connectors call `Begin`
// once per request and then `Exchange.Dispatch` for the initial handler segment; handlers
// suspend via `Exchange.StartAsync` and later resume or complete through the returned
// `AsyncContext`. Lifecycle observers (the statistics aggregator and the graceful shutdown
// coordinator) receive every transition in order.
package controller

import (
	"slices"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/zetxqx/requestflow/pkg/lifecycle/contracts"
	"github.com/zetxqx/requestflow/pkg/lifecycle/controller/internal"
	"github.com/zetxqx/requestflow/pkg/lifecycle/graceful"
	"github.com/zetxqx/requestflow/pkg/lifecycle/types"
)

// controllerOption allows changing the controller's internal dependencies, primarily for
// testing.
type controllerOption func(*Controller)

// withClock replaces the controller's clock. Test-only.
func withClock(clk clock.PassiveClock) controllerOption {
	return func(c *Controller) {
		c.clock = clk
	}
}

// Controller is the entry point of the lifecycle engine. It is safe for concurrent use; each
// admitted request gets its own `Exchange` and state cell.
type Controller struct {
	config      Config
	scheduler   contracts.TimeoutScheduler
	coordinator *graceful.Coordinator
	// observers receive transition events in slice order; the coordinator is always last so
	// statistics are settled before a drain future can resolve.
	observers []contracts.LifecycleObserver
	clock     clock.PassiveClock
	logger    logr.Logger
}

// New creates a lifecycle controller. scheduler must already be running (or be started
// before the first suspend with a deadline). observers are notified of every transition in
// the given order, followed by the coordinator.
func New(
	config *Config,
	scheduler contracts.TimeoutScheduler,
	coordinator *graceful.Coordinator,
	observers []contracts.LifecycleObserver,
	logger logr.Logger,
	opts ...controllerOption,
) *Controller {
	c := &Controller{
		config:      *config,
		scheduler:   scheduler,
		coordinator: coordinator,
		observers:   append(slices.Clone(observers), coordinator),
		clock:       clock.RealClock{},
		logger:      logger.WithName("lifecycle-controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin admits a request into the lifecycle and returns its `Exchange`. While the controller
// is draining, new requests are rejected with `ErrShuttingDown` unless configured otherwise.
// onFinish, if non-nil, is invoked exactly once with the settled result; connectors use it
// to flush and release the underlying stream.
func (c *Controller) Begin(req types.RequestHandle, handler Handler, onFinish func(types.Result)) (*Exchange, error) {
	if !c.config.AcceptWhileDraining && c.coordinator.IsDraining() {
		return nil, types.ErrShuttingDown
	}
	ex := &Exchange{
		controller: c,
		req:        req,
		handler:    handler,
	}
	ex.cell = internal.NewCell(req, c.clock, c.scheduler, c.observers, c.logger, onFinish)
	return ex, nil
}

// Shutdown begins draining and returns the future that resolves when all blocking requests
// have completed. See `graceful.Coordinator.Shutdown`.
func (c *Controller) Shutdown() <-chan struct{} {
	return c.coordinator.Shutdown()
}

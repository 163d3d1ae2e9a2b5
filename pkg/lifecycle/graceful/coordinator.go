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

// Package graceful provides the shutdown coordinator: it tracks in-flight exchanges from
// lifecycle events and resolves a drain future once the configured notion of "in flight"
// reaches zero.
package graceful

import (
	"sync"
	"time"

	"github.com/go-logr/logr"

	logutil "github.com/zetxqx/requestflow/pkg/common/observability/logging"
	"github.com/zetxqx/requestflow/pkg/lifecycle/contracts"
	"github.com/zetxqx/requestflow/pkg/lifecycle/types"
)

// Coordinator tracks in-flight and suspended exchange counts and exposes a drain future.
//
// With waitForSuspended=true the future resolves only when every admitted exchange has
// completed, including ones parked in the suspended state. With waitForSuspended=false a
// suspended exchange does not block the drain: the future resolves once all actively
// dispatched work has finished, even if suspended exchanges remain outstanding.
type Coordinator struct {
	logger           logr.Logger
	waitForSuspended bool

	mu        sync.Mutex
	active    int64 // admitted and not yet completed, including suspended
	suspended int64 // currently parked in the suspended state
	draining  bool
	resolved  bool
	done      chan struct{}
}

var _ contracts.LifecycleObserver = &Coordinator{}

// NewCoordinator creates a Coordinator. waitForSuspended selects whether suspended exchanges
// count toward the drain wait.
func NewCoordinator(logger logr.Logger, waitForSuspended bool) *Coordinator {
	return &Coordinator{
		logger:           logger.WithName("graceful-coordinator"),
		waitForSuspended: waitForSuspended,
		done:             make(chan struct{}),
	}
}

// Shutdown switches the coordinator into drain mode and returns the drain future. The future
// resolves immediately if nothing is in flight, and exactly once otherwise; repeated calls
// return the same channel.
func (c *Coordinator) Shutdown() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.draining {
		c.draining = true
		c.logger.V(logutil.DEFAULT).Info("Drain started",
			"active", c.active, "suspended", c.suspended, "waitForSuspended", c.waitForSuspended)
		c.maybeResolveLocked()
	}
	return c.done
}

// IsDraining reports whether Shutdown has been called. The controller uses it to reject new
// exchanges.
func (c *Coordinator) IsDraining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// blockingLocked returns the number of exchanges still holding the drain open.
func (c *Coordinator) blockingLocked() int64 {
	if c.waitForSuspended {
		return c.active
	}
	return c.active - c.suspended
}

func (c *Coordinator) maybeResolveLocked() {
	if c.draining && !c.resolved && c.blockingLocked() == 0 {
		c.resolved = true
		close(c.done)
		c.logger.V(logutil.DEFAULT).Info("Drain complete")
	}
}

// OnRequestBegin implements contracts.LifecycleObserver.
func (c *Coordinator) OnRequestBegin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
}

// OnDispatchStart implements contracts.LifecycleObserver.
func (c *Coordinator) OnDispatchStart(types.State) {}

// OnDispatchEnd implements contracts.LifecycleObserver.
func (c *Coordinator) OnDispatchEnd(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A segment end with the exchange suspended or completed changes nothing here; the
	// suspend/complete events carry the accounting.
	c.maybeResolveLocked()
}

// OnAsyncStart implements contracts.LifecycleObserver.
func (c *Coordinator) OnAsyncStart() {}

// OnSuspend implements contracts.LifecycleObserver.
func (c *Coordinator) OnSuspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended++
	c.maybeResolveLocked()
}

// OnSuspendEnd implements contracts.LifecycleObserver. Whether the exchange resumed, expired,
// or completed out of the suspend, it is no longer parked and blocks the drain again until it
// completes.
func (c *Coordinator) OnSuspendEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended--
}

// OnExpire implements contracts.LifecycleObserver.
func (c *Coordinator) OnExpire() {}

// OnThrown implements contracts.LifecycleObserver.
func (c *Coordinator) OnThrown() {}

// OnResponseStatus implements contracts.LifecycleObserver.
func (c *Coordinator) OnResponseStatus(int) {}

// OnComplete implements contracts.LifecycleObserver.
func (c *Coordinator) OnComplete(_, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	c.maybeResolveLocked()
}

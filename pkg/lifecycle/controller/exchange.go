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

package controller

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zetxqx/requestflow/pkg/lifecycle/controller/internal"
	"github.com/zetxqx/requestflow/pkg/lifecycle/types"
)

// Handler processes one dispatch segment of an exchange. Returning a non-nil error marks the
// exchange as thrown and forces completion with a server error status. A handler that called
// `StartAsync` must return promptly; the exchange then suspends instead of completing.
type Handler func(ctx context.Context, ex *Exchange) error

// Exchange is one request's journey through the lifecycle. It is created by
// `Controller.Begin` and driven by the connector's `Dispatch` call; handlers interact with
// it to set the response status or to suspend.
//
// Exchange methods are safe for concurrent use, but `Dispatch` must only be invoked by the
// goroutine that currently owns the exchange (the connector initially, the resume executor
// afterwards).
type Exchange struct {
	controller *Controller
	req        types.RequestHandle
	handler    Handler
	cell       *internal.Cell
}

// Request returns the handle of the underlying request.
func (e *Exchange) Request() types.RequestHandle {
	return e.req
}

// State returns the current lifecycle state.
func (e *Exchange) State() types.State {
	return e.cell.State()
}

// SetStatus records the response status code reported at completion. Ignored once the
// exchange has completed.
func (e *Exchange) SetStatus(code int) {
	e.cell.SetStatus(code)
}

// Dispatch runs one handler segment: it claims the exchange, invokes the handler, and closes
// the segment. Handler panics are recovered and settled as thrown completions rather than
// unwinding into the connector. The returned error reports only admission problems
// (completed or mid-dispatch exchanges); handler errors surface through the exchange result.
func (e *Exchange) Dispatch(ctx context.Context) error {
	if err := e.cell.Dispatch(); err != nil {
		return err
	}
	e.cell.EndDispatch(e.runHandler(ctx))
	return nil
}

func (e *Exchange) runHandler(ctx context.Context) (thrown error) {
	defer func() {
		if r := recover(); r != nil {
			e.controller.logger.Error(nil, "Handler panicked", "reqID", e.req.ID(), "panic", r,
				"stack", string(debug.Stack()))
			thrown = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return e.handler(ctx, e)
}

// StartAsync suspends the exchange when the current handler segment returns and hands back
// the `AsyncContext` used to resume or complete it. A zero timeout applies the controller's
// default; a negative timeout suspends without a deadline. Only valid while dispatched, and
// at most once per dispatch segment.
func (e *Exchange) StartAsync(timeout time.Duration) (*AsyncContext, error) {
	if timeout == 0 {
		timeout = e.controller.config.DefaultSuspendTimeout
	}
	if err := e.cell.StartAsync(timeout); err != nil {
		return nil, err
	}
	return &AsyncContext{ex: e}, nil
}

// AsyncContext is the handle held across a suspend. It may be used from any goroutine.
type AsyncContext struct {
	ex *Exchange
}

// AddListener registers a listener for async lifecycle events on this exchange. Listeners
// fire in registration order.
func (a *AsyncContext) AddListener(l types.AsyncListener) error {
	return a.ex.cell.AddListener(l)
}

// SetTimeout adjusts the suspend deadline. While still dispatched it changes the deadline
// armed at suspend; while suspended it re-arms the pending timeout from now. A non-positive
// duration removes the deadline.
func (a *AsyncContext) SetTimeout(d time.Duration) error {
	return a.ex.cell.SetTimeout(d)
}

// Dispatch schedules a resuming dispatch segment on the controller's resume executor. Legal
// while suspended or expired (from a timeout listener); the pending timeout, if any, is
// cancelled before the segment runs.
func (a *AsyncContext) Dispatch() error {
	if err := a.ex.cell.Dispatch(); err != nil {
		return err
	}
	a.ex.controller.config.ResumeExecutor(func() {
		a.ex.cell.EndDispatch(a.ex.runHandler(a.ex.req.Context()))
	})
	return nil
}

// Complete finishes the exchange. Idempotent; safe to race a timeout fire or a concurrent
// dispatch, in which case exactly one of them settles the result.
func (a *AsyncContext) Complete() {
	a.ex.cell.Complete()
}

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

// Package scheduler provides the deadline-ordered timeout service used by the lifecycle
// controller. A single background goroutine pops the earliest deadline and invokes its fire
// function; entries support O(log n) cancellation and re-arming. The scheduler is a pure
// trigger: all lifecycle and statistics effects belong to the fire functions it calls.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	logutil "github.com/zetxqx/requestflow/pkg/common/observability/logging"
	"github.com/zetxqx/requestflow/pkg/lifecycle/contracts"
)

type entryState int

const (
	entryScheduled entryState = iota
	entryCancelled
	entryFiring
)

// entry is a single (deadline, fire) pair tracked by the scheduler's heap.
type entry struct {
	s        *Scheduler
	deadline time.Time
	fire     func()

	// index is the entry's position in the heap, maintained by the heap.Interface methods.
	// -1 once the entry has been popped or removed.
	index int
	state entryState
}

// Cancel withdraws the entry before it fires. See contracts.TimeoutEntry.
func (e *entry) Cancel() bool {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if e.state != entryScheduled {
		return false
	}
	e.state = entryCancelled
	heap.Remove(&e.s.entries, e.index)
	return true
}

// Reset re-arms the entry with a new delay from now. See contracts.TimeoutEntry.
func (e *entry) Reset(d time.Duration) bool {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if e.state != entryScheduled {
		return false
	}
	e.deadline = e.s.clock.Now().Add(d)
	heap.Fix(&e.s.entries, e.index)
	e.s.kick()
	return true
}

var _ contracts.TimeoutEntry = &entry{}

// entryHeap is a min-heap of entries ordered by deadline.
type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler implements contracts.TimeoutScheduler on a single deadline-ordered heap serviced
// by one goroutine. The zero value is not usable; construct with New or NewWithClock and call
// Run exactly once.
type Scheduler struct {
	logger logr.Logger
	clock  clock.Clock

	mu      sync.Mutex
	entries entryHeap

	// wake is signalled (non-blocking, capacity 1) whenever the earliest deadline may have
	// changed, so the Run loop re-evaluates its wait.
	wake chan struct{}
}

// New creates a Scheduler backed by the real clock.
func New(logger logr.Logger) *Scheduler {
	return NewWithClock(logger, clock.RealClock{})
}

// NewWithClock creates a Scheduler with an injected clock, for tests.
func NewWithClock(logger logr.Logger, clk clock.Clock) *Scheduler {
	return &Scheduler{
		logger: logger.WithName("timeout-scheduler"),
		clock:  clk,
		wake:   make(chan struct{}, 1),
	}
}

// Schedule registers fire to run once d elapses. It implements contracts.TimeoutScheduler.
func (s *Scheduler) Schedule(d time.Duration, fire func()) contracts.TimeoutEntry {
	e := &entry{
		s:        s,
		deadline: s.clock.Now().Add(d),
		fire:     fire,
	}
	s.mu.Lock()
	heap.Push(&s.entries, e)
	s.kick()
	s.mu.Unlock()
	return e
}

// kick nudges the Run loop. Callers must hold s.mu.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run services the deadline heap until the context is cancelled. It must be run as a
// goroutine. Fire functions execute synchronously on this goroutine, so listener callbacks
// observe the ordering guarantees the lifecycle contract promises.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.V(logutil.DEFAULT).Info("Timeout scheduler starting.")
	defer s.logger.V(logutil.DEFAULT).Info("Timeout scheduler stopped.")

	for {
		fired := s.fireDue()
		if fired > 0 {
			s.logger.V(logutil.TRACE).Info("Fired due timeout entries", "count", fired)
		}

		s.mu.Lock()
		var waitC <-chan time.Time
		if len(s.entries) > 0 {
			waitC = s.clock.After(s.entries[0].deadline.Sub(s.clock.Now()))
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-waitC:
		}
	}
}

// fireDue pops and fires every entry whose deadline has passed, returning the number fired.
// Entries are marked firing under the lock, then invoked outside it; a concurrent Cancel that
// loses this race observes the firing state and reports false.
func (s *Scheduler) fireDue() int {
	fired := 0
	for {
		s.mu.Lock()
		if len(s.entries) == 0 || s.entries[0].deadline.After(s.clock.Now()) {
			s.mu.Unlock()
			return fired
		}
		e := heap.Pop(&s.entries).(*entry)
		e.state = entryFiring
		s.mu.Unlock()

		e.fire()
		fired++
	}
}

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

// Package mocks provides test doubles for the lifecycle service contracts.
package mocks

import (
	"sync"
	"time"

	"github.com/zetxqx/requestflow/pkg/lifecycle/contracts"
)

// MockTimeoutScheduler records scheduled entries instead of running a timer goroutine.
// Tests drive expiry deterministically by calling Fire on the captured entries.
type MockTimeoutScheduler struct {
	mu      sync.Mutex
	entries []*MockTimeoutEntry
}

var _ contracts.TimeoutScheduler = &MockTimeoutScheduler{}

func (m *MockTimeoutScheduler) Schedule(d time.Duration, fire func()) contracts.TimeoutEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &MockTimeoutEntry{DelayV: d, fire: fire}
	m.entries = append(m.entries, e)
	return e
}

// Entries returns a snapshot of every entry ever scheduled, in scheduling order.
func (m *MockTimeoutScheduler) Entries() []*MockTimeoutEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockTimeoutEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// FirePending fires every entry that is still armed and returns how many fired.
func (m *MockTimeoutScheduler) FirePending() int {
	n := 0
	for _, e := range m.Entries() {
		if e.Fire() {
			n++
		}
	}
	return n
}

// MockTimeoutEntry is a manually fired timeout entry.
type MockTimeoutEntry struct {
	// DelayV is the delay the entry was scheduled (or last reset) with.
	DelayV time.Duration

	fire func()

	mu        sync.Mutex
	cancelled bool
	fired     bool
	resets    int
}

var _ contracts.TimeoutEntry = &MockTimeoutEntry{}

func (e *MockTimeoutEntry) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fired || e.cancelled {
		return false
	}
	e.cancelled = true
	return true
}

func (e *MockTimeoutEntry) Reset(d time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fired || e.cancelled {
		return false
	}
	e.DelayV = d
	e.resets++
	return true
}

// Fire invokes the fire function if the entry is still armed, reporting whether it ran. The
// fire function runs without the entry lock held, mirroring the real scheduler.
func (e *MockTimeoutEntry) Fire() bool {
	f := e.BeginFire()
	if f == nil {
		return false
	}
	f()
	return true
}

// BeginFire marks the entry fired and hands back its fire function without invoking it, or
// returns nil if the entry is no longer armed. From this point Cancel and Reset fail, as in
// the real scheduler once an entry is popped; tests run the returned function at a chosen
// point to exercise that window.
func (e *MockTimeoutEntry) BeginFire() func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fired || e.cancelled {
		return nil
	}
	e.fired = true
	return e.fire
}

// Cancelled reports whether Cancel withdrew the entry.
func (e *MockTimeoutEntry) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Resets reports how many times the entry was successfully re-armed.
func (e *MockTimeoutEntry) Resets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets
}

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

// Package mocks provides simple, configurable mock implementations of the core lifecycle
// types, intended for use in unit and integration tests.
package mocks

import (
	"context"
	"fmt"
)

// MockRequestHandle provides a mock implementation of the types.RequestHandle interface.
type MockRequestHandle struct {
	IDV           string
	ConnectionIDV string
	StreamIDV     uint64
	Ctx           context.Context
}

// NewMockRequestHandle creates a new MockRequestHandle for the given connection/stream pair.
// The handle ID is derived from the pair unless overridden via the struct fields.
func NewMockRequestHandle(connectionID string, streamID uint64, ctx context.Context) *MockRequestHandle {
	if ctx == nil {
		ctx = context.Background()
	}
	return &MockRequestHandle{
		IDV:           fmt.Sprintf("%s/%d", connectionID, streamID),
		ConnectionIDV: connectionID,
		StreamIDV:     streamID,
		Ctx:           ctx,
	}
}

func (m *MockRequestHandle) ID() string               { return m.IDV }
func (m *MockRequestHandle) ConnectionID() string     { return m.ConnectionIDV }
func (m *MockRequestHandle) StreamID() uint64         { return m.StreamIDV }
func (m *MockRequestHandle) Context() context.Context { return m.Ctx }

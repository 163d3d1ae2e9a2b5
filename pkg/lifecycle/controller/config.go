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
	"fmt"
	"time"
)

const (
	// defaultSuspendTimeout is the fallback deadline applied when StartAsync is called with a
	// zero timeout.
	defaultSuspendTimeout = 30 * time.Second
)

// Config holds the configuration for the lifecycle `Controller`.
type Config struct {
	// DefaultSuspendTimeout is the suspend deadline used when StartAsync is called with a zero
	// timeout. A negative value means suspends have no deadline unless one is given explicitly.
	//
	// Optional: Defaults to 30 seconds.
	DefaultSuspendTimeout time.Duration

	// AcceptWhileDraining admits new exchanges after a shutdown has begun. The default rejects
	// them with `ErrShuttingDown` so the drain future can resolve.
	//
	// Optional: Defaults to false.
	AcceptWhileDraining bool

	// ResumeExecutor runs resuming dispatch segments. Resumes must not run inline on the
	// timeout scheduler goroutine, so the executor hands them to another goroutine.
	//
	// Optional: Defaults to `go fn()`.
	ResumeExecutor func(fn func())
}

// ConfigOption allows configuring the `Controller` using functional options.
type ConfigOption func(*Config)

// NewConfig validates the options and returns a new validated `Config`.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		DefaultSuspendTimeout: defaultSuspendTimeout,
		ResumeExecutor:        func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithDefaultSuspendTimeout sets the fallback suspend deadline. A negative duration disables
// the fallback entirely.
func WithDefaultSuspendTimeout(d time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.DefaultSuspendTimeout = d
	}
}

// WithAcceptWhileDraining controls whether new exchanges are admitted during shutdown.
func WithAcceptWhileDraining(accept bool) ConfigOption {
	return func(cfg *Config) {
		cfg.AcceptWhileDraining = accept
	}
}

// WithResumeExecutor sets the executor used for resuming dispatch segments. Tests use an
// inline executor to make resumes deterministic.
func WithResumeExecutor(exec func(fn func())) ConfigOption {
	return func(cfg *Config) {
		cfg.ResumeExecutor = exec
	}
}

func (c *Config) validate() error {
	if c.DefaultSuspendTimeout == 0 {
		return fmt.Errorf("DefaultSuspendTimeout must be non-zero (use a negative value to disable)")
	}
	if c.ResumeExecutor == nil {
		return fmt.Errorf("ResumeExecutor must not be nil")
	}
	return nil
}

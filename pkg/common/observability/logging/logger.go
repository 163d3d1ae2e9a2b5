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

package logging

import (
	"context"

	"github.com/go-logr/logr"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// rootLevel is shared between InitSetupLogging and InitLogging so verbosity can still be
// adjusted after the controller-runtime log delegation has been fulfilled.
var rootLevel = uberzap.NewAtomicLevelAt(zapcore.InfoLevel)

// InitSetupLogging installs the process-wide logger early, before flags are parsed, so
// startup code has somewhere to log to. The verbosity it runs at can be raised later via
// InitLogging.
func InitSetupLogging() {
	ctrl.SetLogger(zap.New(zap.Level(rootLevel), zap.RawZapOpts(uberzap.AddCaller())))
}

// InitLogging applies the parsed zap options to the running logger. ctrl.SetLogger fulfills
// its delegation only once, so rather than installing a second logger this mutates the
// shared atomic level that the logger from InitSetupLogging reads.
func InitLogging(opts *zap.Options) {
	switch lvl := opts.Level.(type) {
	case uberzap.AtomicLevel:
		rootLevel.SetLevel(lvl.Level())
	case zapcore.Level:
		rootLevel.SetLevel(lvl)
	}
}

// NewTestLogger creates a dev-mode Zap logger at TRACE verbosity.
func NewTestLogger() logr.Logger {
	return zap.New(
		zap.UseDevMode(true),
		zap.Level(uberzap.NewAtomicLevelAt(zapcore.Level(-1*TRACE))),
		zap.RawZapOpts(uberzap.AddCaller()),
	)
}

// NewTestLoggerIntoContext returns a context carrying a fresh test logger.
func NewTestLoggerIntoContext(ctx context.Context) context.Context {
	return log.IntoContext(ctx, NewTestLogger())
}

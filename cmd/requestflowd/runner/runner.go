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

// Package runner wires the lifecycle engine into a demo daemon: an HTTP front-end whose
// handlers can suspend, resume, expire and complete through the engine, a Prometheus
// metrics endpoint backed by the statistics aggregator, and signal-driven graceful
// draining.
package runner

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/zetxqx/requestflow/internal/runnable"
	logutil "github.com/zetxqx/requestflow/pkg/common/observability/logging"
	"github.com/zetxqx/requestflow/pkg/common/observability/profiling"
	"github.com/zetxqx/requestflow/pkg/lifecycle/contracts"
	"github.com/zetxqx/requestflow/pkg/lifecycle/controller"
	"github.com/zetxqx/requestflow/pkg/lifecycle/graceful"
	"github.com/zetxqx/requestflow/pkg/lifecycle/scheduler"
	"github.com/zetxqx/requestflow/pkg/lifecycle/stats"
	"github.com/zetxqx/requestflow/pkg/lifecycle/stats/collectors"
	"github.com/zetxqx/requestflow/version"
)

var (
	// Flags
	port             = flag.Int("port", 8080, "The port serving the demo request endpoint")
	metricsPort      = flag.Int("metrics-port", 9090, "The metrics port")
	logVerbosity     = flag.Int("v", logutil.DEFAULT, "number for the log level verbosity")
	enablePprof      = flag.Bool("enable-pprof", true, "Enables pprof handlers. Defaults to true. Set to false to disable pprof handlers.")
	suspendTimeout   = flag.Duration("suspend-timeout", 30*time.Second, "Default deadline applied when a handler suspends without an explicit timeout")
	drainTimeout     = flag.Duration("drain-timeout", 10*time.Second, "How long shutdown waits for in-flight requests to complete")
	waitForSuspended = flag.Bool("drain-waits-for-suspended", true, "Whether shutdown waits for suspended requests in addition to dispatched ones")

	// Logging
	setupLog = ctrl.Log.WithName("setup")
)

func NewRunner() *Runner {
	return &Runner{
		executableName: "RequestFlow",
	}
}

// Runner is used to run the lifecycle engine demo daemon.
type Runner struct {
	executableName string
}

// WithExecutableName sets the name of the executable containing the runner.
// The name is used in the version log upon startup and is otherwise opaque.
func (r *Runner) WithExecutableName(exeName string) *Runner {
	r.executableName = exeName
	return r
}

func (r *Runner) Run(ctx context.Context) error {
	setupLog.Info(r.executableName+" build", "commit-sha", version.CommitSHA, "build-ref", version.BuildRef)
	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	initLogging(&opts)

	// Print all flag values
	flags := make(map[string]any)
	flag.VisitAll(func(f *flag.Flag) {
		flags[f.Name] = f.Value
	})
	setupLog.Info("Flags processed", "flags", flags)

	logger := ctrl.Log.WithName("requestflow")

	// Assemble the engine.
	sched := scheduler.New(logger)
	agg := stats.NewAggregator()
	coord := graceful.NewCoordinator(logger, *waitForSuspended)
	cfg, err := controller.NewConfig(controller.WithDefaultSuspendTimeout(*suspendTimeout))
	if err != nil {
		setupLog.Error(err, "Invalid lifecycle configuration")
		return err
	}
	ctl := controller.New(cfg, sched, coord, []contracts.LifecycleObserver{agg}, logger)

	// Register metrics handler.
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewLifecycleCollector(agg)); err != nil {
		setupLog.Error(err, "Failed to register lifecycle collector")
		return err
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if *enablePprof {
		setupLog.Info("Setting pprof handlers")
		profiling.SetupPprofHandlers(metricsMux)
	}

	demo := newDemoServer(ctl, agg, logger)
	demoMux := http.NewServeMux()
	demoMux.Handle("/", demo)
	demoMux.HandleFunc("/stats", demo.handleStats)
	demoMux.HandleFunc("/healthz", demo.handleHealth)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return runnable.HTTPServer("demo", &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: demoMux}, *drainTimeout)(gctx)
	})
	g.Go(func() error {
		return runnable.HTTPServer("metrics", &http.Server{Addr: fmt.Sprintf(":%d", *metricsPort), Handler: metricsMux}, time.Second)(gctx)
	})
	g.Go(func() error {
		// On shutdown, stop admitting and wait for the drain future before the servers close
		// their listeners for good.
		<-gctx.Done()
		setupLog.Info("Draining in-flight requests", "timeout", *drainTimeout)
		select {
		case <-ctl.Shutdown():
			setupLog.Info("Drain complete")
		case <-time.After(*drainTimeout):
			setupLog.Info("Drain timed out; abandoning remaining requests")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		setupLog.Error(err, "Component failed")
		return err
	}
	setupLog.Info("All components terminated")
	return nil
}

func initLogging(opts *zap.Options) {
	useV := true
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "zap-log-level" {
			useV = false
		}
	})
	if useV {
		// See https://pkg.go.dev/sigs.k8s.io/controller-runtime/pkg/log/zap#Options.Level
		lvl := -1 * (*logVerbosity)
		opts.Level = uberzap.NewAtomicLevelAt(zapcore.Level(int8(lvl)))
	}

	logutil.InitLogging(opts)
}

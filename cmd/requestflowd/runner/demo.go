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

package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	logutil "github.com/zetxqx/requestflow/pkg/common/observability/logging"
	"github.com/zetxqx/requestflow/pkg/lifecycle/controller"
	"github.com/zetxqx/requestflow/pkg/lifecycle/stats"
	"github.com/zetxqx/requestflow/pkg/lifecycle/types"
)

// demoServer bridges net/http into the lifecycle engine. Query parameters drive the
// exchange:
//
//	?work=50ms                  run the handler segment for the given duration
//	?status=204                 set the response status
//	?fail=1                     return a handler error (thrown completion)
//	?suspend=2s                 suspend with the given timeout (0 applies the default)
//	?resume=100ms               after suspending, redispatch after the given delay
//	?complete=100ms             after suspending, complete directly after the given delay
//
// A suspend with neither resume nor complete rides the timeout; the serving goroutine parks
// until the exchange settles either way.
type demoServer struct {
	ctl    *controller.Controller
	agg    *stats.Aggregator
	logger logr.Logger

	nextStream atomic.Uint64
}

func newDemoServer(ctl *controller.Controller, agg *stats.Aggregator, logger logr.Logger) *demoServer {
	return &demoServer{ctl: ctl, agg: agg, logger: logger.WithName("demo")}
}

// httpRequestHandle adapts one HTTP request to the engine's request handle.
type httpRequestHandle struct {
	id     string
	conn   string
	stream uint64
	ctx    context.Context
	query  url.Values

	// segments counts handler dispatches; segment execution is serialized by the exchange.
	segments int
}

func (h *httpRequestHandle) ID() string               { return h.id }
func (h *httpRequestHandle) ConnectionID() string     { return h.conn }
func (h *httpRequestHandle) StreamID() uint64         { return h.stream }
func (h *httpRequestHandle) Context() context.Context { return h.ctx }

func (s *demoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream := s.nextStream.Add(1)
	req := &httpRequestHandle{
		id:     fmt.Sprintf("%s/%d", r.RemoteAddr, stream),
		conn:   r.RemoteAddr,
		stream: stream,
		ctx:    context.WithoutCancel(r.Context()),
		query:  r.URL.Query(),
	}

	settled := make(chan types.Result, 1)
	ex, err := s.ctl.Begin(req, s.handle, func(res types.Result) { settled <- res })
	if err != nil {
		if errors.Is(err, types.ErrShuttingDown) {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := ex.Dispatch(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The serving goroutine parks across suspends; the engine settles the exchange from the
	// resume executor or the timeout scheduler.
	select {
	case res := <-settled:
		w.WriteHeader(res.Status)
		fmt.Fprintf(w, "request %s settled: status=%d segments=%d thrown=%v\n",
			req.id, res.Status, req.segments, res.Thrown != nil)
	case <-r.Context().Done():
		s.logger.V(logutil.DEBUG).Info("Client went away before the exchange settled", "reqID", req.id)
	}
}

func (s *demoServer) handle(_ context.Context, ex *controller.Exchange) error {
	h := ex.Request().(*httpRequestHandle)
	h.segments++
	q := h.query

	if d := parseDuration(q.Get("work")); d > 0 {
		time.Sleep(d)
	}
	if code, err := strconv.Atoi(q.Get("status")); err == nil {
		ex.SetStatus(code)
	}
	if q.Get("fail") != "" {
		return fmt.Errorf("requested failure on segment %d", h.segments)
	}

	// Only the first segment may suspend; a resumed segment runs to completion.
	if h.segments > 1 || !q.Has("suspend") {
		return nil
	}

	actx, err := ex.StartAsync(parseDuration(q.Get("suspend")))
	if err != nil {
		return err
	}
	switch {
	case q.Has("resume"):
		delay := parseDuration(q.Get("resume"))
		go func() {
			time.Sleep(delay)
			if err := actx.Dispatch(); err != nil {
				s.logger.V(logutil.DEBUG).Info("Resume lost to timeout or completion", "reqID", h.id, "err", err)
			}
		}()
	case q.Has("complete"):
		delay := parseDuration(q.Get("complete"))
		go func() {
			time.Sleep(delay)
			actx.Complete()
		}()
	}
	return nil
}

func (s *demoServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintln(w, s.agg.Snapshot())
}

func (s *demoServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.logger.V(logutil.DEBUG).Info("Health check serving", "from", r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

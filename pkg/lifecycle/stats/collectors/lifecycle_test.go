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

package collectors

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zetxqx/requestflow/pkg/lifecycle/stats"
	"github.com/zetxqx/requestflow/pkg/lifecycle/types"
)

func TestLifecycleCollector_Counters(t *testing.T) {
	agg := stats.NewAggregator()
	collector := NewLifecycleCollector(agg)

	// One request with a single suspend/resume cycle completing 200.
	agg.OnRequestBegin()
	agg.OnDispatchStart(types.StateIdle)
	agg.OnAsyncStart()
	agg.OnDispatchEnd(time.Millisecond)
	agg.OnSuspend()
	agg.OnSuspendEnd()
	agg.OnDispatchStart(types.StateSuspended)
	agg.OnDispatchEnd(time.Millisecond)
	agg.OnResponseStatus(200)
	agg.OnComplete(10*time.Millisecond, 2*time.Millisecond)

	want := `
		# HELP request_lifecycle_requests_total Total number of requests admitted to the lifecycle engine.
		# TYPE request_lifecycle_requests_total counter
		request_lifecycle_requests_total 1
		# HELP request_lifecycle_dispatches_total Total number of handler dispatch segments, initial and resumed.
		# TYPE request_lifecycle_dispatches_total counter
		request_lifecycle_dispatches_total 2
		# HELP request_lifecycle_async_requests_total Total number of requests that suspended at least once.
		# TYPE request_lifecycle_async_requests_total counter
		request_lifecycle_async_requests_total 1
		# HELP request_lifecycle_async_dispatches_total Total number of resume dispatches of previously suspended requests.
		# TYPE request_lifecycle_async_dispatches_total counter
		request_lifecycle_async_dispatches_total 1
		# HELP request_lifecycle_requests_active Number of requests currently in flight, including suspended ones.
		# TYPE request_lifecycle_requests_active gauge
		request_lifecycle_requests_active 0
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(want),
		"request_lifecycle_requests_total",
		"request_lifecycle_dispatches_total",
		"request_lifecycle_async_requests_total",
		"request_lifecycle_async_dispatches_total",
		"request_lifecycle_requests_active",
	); err != nil {
		t.Fatal(err)
	}
}

func TestLifecycleCollector_ResponseClasses(t *testing.T) {
	agg := stats.NewAggregator()
	collector := NewLifecycleCollector(agg)

	agg.OnResponseStatus(204)
	agg.OnResponseStatus(200)
	agg.OnResponseStatus(500)
	agg.OnThrown()

	want := `
		# HELP request_lifecycle_responses_total Total number of completed responses by status class.
		# TYPE request_lifecycle_responses_total counter
		request_lifecycle_responses_total{class="1xx"} 0
		request_lifecycle_responses_total{class="2xx"} 2
		request_lifecycle_responses_total{class="3xx"} 0
		request_lifecycle_responses_total{class="4xx"} 0
		request_lifecycle_responses_total{class="5xx"} 1
		# HELP request_lifecycle_responses_thrown_total Total number of dispatches that ended with a handler error or panic.
		# TYPE request_lifecycle_responses_thrown_total counter
		request_lifecycle_responses_thrown_total 1
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(want),
		"request_lifecycle_responses_total",
		"request_lifecycle_responses_thrown_total",
	); err != nil {
		t.Fatal(err)
	}
}

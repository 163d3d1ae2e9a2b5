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

// Package collectors exposes lifecycle statistics as prometheus metrics.
package collectors

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zetxqx/requestflow/pkg/lifecycle/stats"
)

const subsystem = "request_lifecycle"

var (
	descRequests = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "requests_total"),
		"Total number of requests admitted to the lifecycle engine.",
		nil, nil,
	)
	descRequestsActive = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "requests_active"),
		"Number of requests currently in flight, including suspended ones.",
		nil, nil,
	)
	descRequestsActiveMax = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "requests_active_max"),
		"Historical peak of concurrently in-flight requests since the last reset.",
		nil, nil,
	)
	descDispatched = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "dispatches_total"),
		"Total number of handler dispatch segments, initial and resumed.",
		nil, nil,
	)
	descDispatchedActive = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "dispatches_active"),
		"Number of handler segments currently executing.",
		nil, nil,
	)
	descDispatchedActiveMax = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "dispatches_active_max"),
		"Historical peak of concurrently executing handler segments since the last reset.",
		nil, nil,
	)
	descAsyncRequests = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "async_requests_total"),
		"Total number of requests that suspended at least once.",
		nil, nil,
	)
	descAsyncDispatches = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "async_dispatches_total"),
		"Total number of resume dispatches of previously suspended requests.",
		nil, nil,
	)
	descExpires = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "expires_total"),
		"Total number of suspend timeouts that fired.",
		nil, nil,
	)
	descResponses = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "responses_total"),
		"Total number of completed responses by status class.",
		[]string{"class"}, nil,
	)
	descResponsesThrown = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "responses_thrown_total"),
		"Total number of dispatches that ended with a handler error or panic.",
		nil, nil,
	)
	descRequestTime = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "request_time_seconds_total"),
		"Accumulated wall-clock request duration, admission to completion, including suspend gaps.",
		nil, nil,
	)
	descRequestTimeMax = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "request_time_seconds_max"),
		"Longest observed request duration since the last reset.",
		nil, nil,
	)
	descDispatchedTime = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "dispatched_time_seconds_total"),
		"Accumulated time spent executing handler segments, excluding suspend gaps.",
		nil, nil,
	)
	descDispatchedTimeMax = prometheus.NewDesc(
		prometheus.BuildFQName("", subsystem, "dispatched_time_seconds_max"),
		"Longest observed handler segment duration since the last reset.",
		nil, nil,
	)
)

// lifecycleCollector reads aggregator snapshots on scrape and emits const metrics, so scrapes
// never contend with request threads beyond the aggregator's own atomics.
type lifecycleCollector struct {
	agg *stats.Aggregator
}

var _ prometheus.Collector = &lifecycleCollector{}

// NewLifecycleCollector implements the prometheus.Collector interface and exposes metrics
// about the given statistics aggregator.
func NewLifecycleCollector(agg *stats.Aggregator) prometheus.Collector {
	return &lifecycleCollector{agg: agg}
}

// Describe implements the prometheus.Collector interface.
func (c *lifecycleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRequests
	ch <- descRequestsActive
	ch <- descRequestsActiveMax
	ch <- descDispatched
	ch <- descDispatchedActive
	ch <- descDispatchedActiveMax
	ch <- descAsyncRequests
	ch <- descAsyncDispatches
	ch <- descExpires
	ch <- descResponses
	ch <- descResponsesThrown
	ch <- descRequestTime
	ch <- descRequestTimeMax
	ch <- descDispatchedTime
	ch <- descDispatchedTimeMax
}

// Collect implements the prometheus.Collector interface.
func (c *lifecycleCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(s.Requests))
	ch <- prometheus.MustNewConstMetric(descRequestsActive, prometheus.GaugeValue, float64(s.RequestsActive))
	ch <- prometheus.MustNewConstMetric(descRequestsActiveMax, prometheus.GaugeValue, float64(s.RequestsActiveMax))
	ch <- prometheus.MustNewConstMetric(descDispatched, prometheus.CounterValue, float64(s.Dispatched))
	ch <- prometheus.MustNewConstMetric(descDispatchedActive, prometheus.GaugeValue, float64(s.DispatchedActive))
	ch <- prometheus.MustNewConstMetric(descDispatchedActiveMax, prometheus.GaugeValue, float64(s.DispatchedActiveMax))
	ch <- prometheus.MustNewConstMetric(descAsyncRequests, prometheus.CounterValue, float64(s.AsyncRequests))
	ch <- prometheus.MustNewConstMetric(descAsyncDispatches, prometheus.CounterValue, float64(s.AsyncDispatches))
	ch <- prometheus.MustNewConstMetric(descExpires, prometheus.CounterValue, float64(s.Expires))

	for class, v := range map[string]int64{
		"1xx": s.Responses1xx,
		"2xx": s.Responses2xx,
		"3xx": s.Responses3xx,
		"4xx": s.Responses4xx,
		"5xx": s.Responses5xx,
	} {
		ch <- prometheus.MustNewConstMetric(descResponses, prometheus.CounterValue, float64(v), class)
	}
	ch <- prometheus.MustNewConstMetric(descResponsesThrown, prometheus.CounterValue, float64(s.ResponsesThrown))

	ch <- prometheus.MustNewConstMetric(descRequestTime, prometheus.CounterValue, s.RequestTimeTotal.Seconds())
	ch <- prometheus.MustNewConstMetric(descRequestTimeMax, prometheus.GaugeValue, s.RequestTimeMax.Seconds())
	ch <- prometheus.MustNewConstMetric(descDispatchedTime, prometheus.CounterValue, s.DispatchedTimeTotal.Seconds())
	ch <- prometheus.MustNewConstMetric(descDispatchedTimeMax, prometheus.GaugeValue, s.DispatchedTimeMax.Seconds())
}

// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats holds the process-wide prometheus collectors, refreshed on
// a cron tick rather than per-request where that would add contention.
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wheatnet/wheatnet/internal/idletimer"
	"github.com/wheatnet/wheatnet/runtime"
)

// Worker holds every collector a worker process registers.
type Worker struct {
	TotalConnections *prometheus.CounterVec
	CurrConnections  *prometheus.GaugeVec
	TotalRequests    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec

	AppWrong     *prometheus.CounterVec
	IdleEvicted  *prometheus.CounterVec
	IdleTreeSize prometheus.Gauge
	IdleTreeHealth *prometheus.GaugeVec
}

// New builds and registers a fresh collector set under namespace (usually
// the worker's name, e.g. "wheatnet_AsyncWorker").
func New(namespace string) *Worker {
	w := &Worker{
		TotalConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_connections",
			Help:      "total accepted connections",
		}, []string{"protocol"}),
		CurrConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curr_connections",
			Help:      "currently open connections",
		}, []string{"protocol"}),
		TotalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_requests",
			Help:      "total dispatched conns",
		}, []string{"protocol", "app"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_ms",
			Help:      "app call latency in milliseconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		}, []string{"protocol", "app"}),
		AppWrong: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_wrong_total",
			Help:      "times an app returned WRONG and was deinitialized",
		}, []string{"protocol", "app"}),
		IdleEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_evicted_total",
			Help:      "clients closed for idling past their timeout",
		}, []string{"protocol"}),
		IdleTreeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle_tree_size",
			Help:      "clients currently tracked by the idle timer",
		}),
		IdleTreeHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle_tree_health",
			Help:      "idle timer tree balance",
		}, []string{"type"}),
	}
	prometheus.MustRegister(
		w.TotalConnections, w.CurrConnections, w.TotalRequests, w.RequestLatency,
		w.AppWrong, w.IdleEvicted, w.IdleTreeSize, w.IdleTreeHealth,
	)
	return w
}

// ObserveLatency records one dispatched conn's app-call duration.
func (w *Worker) ObserveLatency(protocol, app string, d time.Duration) {
	w.RequestLatency.WithLabelValues(protocol, app).Observe(float64(d.Microseconds()) / 1000)
}

// OnDispatch satisfies runtime.Registry.OnDispatch's signature: every
// dispatched conn bumps TotalRequests and RequestLatency, and a WRONG
// result also bumps AppWrong.
func (w *Worker) OnDispatch(protocol, app string, d time.Duration, status runtime.Status) {
	w.TotalRequests.WithLabelValues(protocol, app).Inc()
	w.ObserveLatency(protocol, app, d)
	if status == runtime.WRONG {
		w.AppWrong.WithLabelValues(protocol, app).Inc()
	}
}

// RefreshIdleTree samples an idletimer.Tree's size and balance; called once
// per cron tick rather than on every Track/Untrack.
func (w *Worker) RefreshIdleTree(t *idletimer.Tree) {
	w.IdleTreeSize.Set(float64(t.Len()))
	depth, stddev := t.HeightStats()
	w.IdleTreeHealth.WithLabelValues("depth").Set(depth)
	w.IdleTreeHealth.WithLabelValues("stddev").Set(stddev)
}

/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package metrics exposes the worker's Prometheus collectors: one counter
// vector per dispatched command outcome, a gauge for sessions currently
// being served, and a counter for completed snapshot rewrites. A worker
// wires these into its own registry so multiple peer workers scraped
// through the same process don't collide.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles one worker's collectors behind a private
// prometheus.Registerer, so tests can build disposable instances instead
// of colliding on the global default registry.
type Registry struct {
	Commands         *prometheus.CounterVec
	OpenConnections  prometheus.Gauge
	SnapshotRewrites prometheus.Counter
}

// New registers a fresh set of collectors against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuzzystored",
			Name:      "commands_total",
			Help:      "Dispatched commands by type and outcome.",
		}, []string{"cmd", "result"}),
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuzzystored",
			Name:      "open_connections",
			Help:      "Sessions currently being served.",
		}),
		SnapshotRewrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuzzystored",
			Name:      "snapshot_rewrites_total",
			Help:      "Completed snapshot rewrites.",
		}),
	}

	reg.MustRegister(r.Commands, r.OpenConnections, r.SnapshotRewrites)
	return r
}

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

package metrics_test

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/fuzzystored/internal/metrics"
)

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	Expect(c.Write(m)).To(Succeed())
	return m.GetCounter().GetValue()
}

var _ = Describe("Registry", func() {
	It("registers its collectors against the given registerer without panicking", func() {
		reg := prometheus.NewRegistry()
		Expect(func() { metrics.New(reg) }).ToNot(Panic())
	})

	It("counts commands by label and tracks open connections", func() {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)

		m.Commands.WithLabelValues("WRITE", "ok").Inc()
		m.Commands.WithLabelValues("WRITE", "ok").Inc()
		m.Commands.WithLabelValues("CHECK", "err").Inc()

		Expect(counterValue(m.Commands.WithLabelValues("WRITE", "ok"))).To(Equal(2.0))
		Expect(counterValue(m.Commands.WithLabelValues("CHECK", "err"))).To(Equal(1.0))

		m.OpenConnections.Inc()
		m.OpenConnections.Inc()
		m.OpenConnections.Dec()

		metric := &dto.Metric{}
		Expect(m.OpenConnections.Write(metric)).To(Succeed())
		Expect(metric.GetGauge().GetValue()).To(Equal(1.0))
	})

	It("counts snapshot rewrites", func() {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)

		m.SnapshotRewrites.Inc()
		Expect(counterValue(m.SnapshotRewrites)).To(Equal(1.0))
	})
})

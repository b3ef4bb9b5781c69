// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacer

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "pacer"

// metricsRecorder holds the Prometheus collectors for a single Pacer
// instance. It is nil unless WithMetrics is supplied, so the hot path never
// pays for metrics it was not asked for.
type metricsRecorder struct {
	packetsSent  *prometheus.CounterVec
	bytesSent    *prometheus.CounterVec
	paddingBytes prometheus.Counter
}

func newMetricsRecorder(registerer prometheus.Registerer, id string) *metricsRecorder {
	labels := prometheus.Labels{"pacer_id": id}
	m := &metricsRecorder{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "packets_sent_total",
			ConstLabels: labels,
		}, []string{"priority"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "bytes_sent_total",
			ConstLabels: labels,
		}, []string{"priority"}),
		paddingBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "padding_bytes_total",
			ConstLabels: labels,
		}),
	}
	registerer.MustRegister(m.packetsSent, m.bytesSent, m.paddingBytes)

	return m
}

func (m *metricsRecorder) observeSend(priority Priority, bytes int) {
	m.packetsSent.WithLabelValues(priority.String()).Inc()
	m.bytesSent.WithLabelValues(priority.String()).Add(float64(bytes))
}

func (m *metricsRecorder) observePadding(bytes int) {
	m.paddingBytes.Add(float64(bytes))
}

// WithMetrics registers Prometheus counters for packets and bytes sent per
// priority band, and padding bytes sent, under registerer. id distinguishes
// multiple Pacer instances sharing a registry (e.g. one per SSRC group).
func WithMetrics(registerer prometheus.Registerer, id string) Option {
	return func(p *Pacer) {
		p.metrics = newMetricsRecorder(registerer, id)
	}
}

// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacer

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecorderObserveSend(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newMetricsRecorder(registry, "test")

	m.observeSend(PriorityHigh, 1200)
	m.observeSend(PriorityHigh, 300)
	m.observeSend(PriorityNormal, 500)

	assert.InDelta(t, 2, testutil.ToFloat64(m.packetsSent.WithLabelValues("high")), 0)
	assert.InDelta(t, 1500, testutil.ToFloat64(m.bytesSent.WithLabelValues("high")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.packetsSent.WithLabelValues("normal")), 0)
	assert.InDelta(t, 500, testutil.ToFloat64(m.bytesSent.WithLabelValues("normal")), 0)
}

func TestMetricsRecorderObservePadding(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newMetricsRecorder(registry, "test")

	m.observePadding(100)
	m.observePadding(50)

	assert.InDelta(t, 150, testutil.ToFloat64(m.paddingBytes), 0)
}

func TestWithMetricsWiresPacerToRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	sender := &mockSender{}
	clk := newFakeClock()

	// Target bitrate is low enough that the post-construction media budget
	// is already exhausted, so the packet below is genuinely queued and
	// drains through Process's observeSend call, rather than Enqueue's
	// fast path (which never touches metrics).
	p := New(sender, 1, 1.0, WithClock(clk.Clock()), WithMetrics(registry, "instance-1"))
	p.SetStatus(true)

	require.False(t, p.Enqueue(PriorityNormal, 1, 1, 0, 1200))
	for i := 0; i < 20 && sender.sentCount() == 0; i++ {
		clk.advance(5 * time.Millisecond)
		p.Process()
	}
	require.Equal(t, 1, sender.sentCount())

	families, err := registry.Gather()
	require.NoError(t, err)

	var sawPacketsSent bool
	for _, f := range families {
		if f.GetName() == metricsNamespace+"_packets_sent_total" {
			sawPacketsSent = true
		}
	}
	assert.True(t, sawPacketsSent, "expected %s_packets_sent_total to be registered", metricsNamespace)
}

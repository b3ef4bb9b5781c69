// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacing

import (
	"github.com/pion/interceptor"
	"github.com/pion/pacer"
)

type attributeKey int

const (
	priorityAttributeKey attributeKey = iota
	captureTimeMSAttributeKey
)

// WithPriority marks a packet, via its interceptor.Attributes, for delivery
// through the given pacer priority band. Packets with no priority set are
// treated as PriorityNormal.
func WithPriority(attrs interceptor.Attributes, priority pacer.Priority) interceptor.Attributes {
	attrs.Set(priorityAttributeKey, priority)

	return attrs
}

// WithCaptureTimeMS attaches an explicit capture timestamp to a packet's
// attributes. Without one, the pacer substitutes its own clock.
func WithCaptureTimeMS(attrs interceptor.Attributes, captureTimeMS int64) interceptor.Attributes {
	attrs.Set(captureTimeMSAttributeKey, captureTimeMS)

	return attrs
}

func priorityFromAttributes(attrs interceptor.Attributes) pacer.Priority {
	if v, ok := attrs.Get(priorityAttributeKey).(pacer.Priority); ok {
		return v
	}

	return pacer.PriorityNormal
}

func captureTimeMSFromAttributes(attrs interceptor.Attributes) int64 {
	if v, ok := attrs.Get(captureTimeMSAttributeKey).(int64); ok {
		return v
	}

	return -1
}

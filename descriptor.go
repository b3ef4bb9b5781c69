// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacer

// Descriptor identifies a packet the pacer knows about. The pacer never
// holds the packet's payload, only enough to later ask the Sender to
// transmit it.
type Descriptor struct {
	SSRC           uint32
	SequenceNumber uint16
	CaptureTimeMS  int64
	Bytes          int
}

// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package pacingtest provides a local-stream test harness for pkg/pacing,
// trimmed from the wider interceptor pack's mock stream down to the RTP
// write path the pacing interceptor actually touches.
package pacingtest

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// MockLocalStream binds an interceptor's local-stream write path to a
// recording sink, the way a real RTP sender would, without the RTCP and
// remote-stream plumbing the pacing interceptor never exercises.
type MockLocalStream struct {
	writer interceptor.RTPWriter

	written chan *rtp.Packet
}

// NewMockLocalStream creates a MockLocalStream and binds it to i.
func NewMockLocalStream(info *interceptor.StreamInfo, i interceptor.Interceptor) *MockLocalStream {
	s := &MockLocalStream{
		written: make(chan *rtp.Packet, 1000),
	}
	s.writer = i.BindLocalStream(info, interceptor.RTPWriterFunc(
		func(header *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
			pay := make([]byte, len(payload))
			copy(pay, payload)
			select {
			case s.written <- &rtp.Packet{Header: *header, Payload: pay}:
			default:
			}

			return header.MarshalSize() + len(pay), nil
		},
	))

	return s
}

// WriteRTP pushes p through the bound interceptor chain.
func (s *MockLocalStream) WriteRTP(p *rtp.Packet, attrs interceptor.Attributes) (int, error) {
	return s.writer.Write(&p.Header, p.Payload, attrs)
}

// Written returns the channel of packets that reached the sink, in the
// order the interceptor released them.
func (s *MockLocalStream) Written() chan *rtp.Packet {
	return s.written
}

// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacer

import (
	"github.com/elliotchance/orderedmap/v2"
)

// band is a single priority level's FIFO, deduplicated on sequence number.
// It is the Go analogue of paced_sender.cc's PacketList: an insertion-order
// list paired with a membership set, collapsed into one structure since
// orderedmap gives both for free.
type band struct {
	packets *orderedmap.OrderedMap[uint16, Descriptor]
}

func newBand() *band {
	return &band{packets: orderedmap.NewOrderedMap[uint16, Descriptor]()}
}

// push appends d to the tail of the band unless its sequence number is
// already present, in which case the call is a silent no-op.
func (b *band) push(d Descriptor) {
	if _, ok := b.packets.Get(d.SequenceNumber); ok {
		return
	}
	b.packets.Set(d.SequenceNumber, d)
}

// front returns the head of the band without removing it.
func (b *band) front() (Descriptor, bool) {
	el := b.packets.Front()
	if el == nil {
		return Descriptor{}, false
	}

	return el.Value, true
}

// popFront removes and returns the head of the band.
func (b *band) popFront() (Descriptor, bool) {
	el := b.packets.Front()
	if el == nil {
		return Descriptor{}, false
	}
	d := el.Value
	b.packets.Delete(d.SequenceNumber)

	return d, true
}

func (b *band) empty() bool {
	return b.packets.Len() == 0
}

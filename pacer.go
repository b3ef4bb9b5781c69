// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package pacer implements the paced sender state machine: priority
// queues, token-bucket budgets, and a periodic tick loop that smooths
// outgoing RTP traffic to a target bitrate.
package pacer

import (
	"sync"
	"time"

	"github.com/pion/logging"
)

const (
	// tickGranularityMS is how often the host is expected to call Process.
	tickGranularityMS = 5
	// maxIntervalMS clamps the refill interval so a long stall between
	// Process calls cannot hand out a huge burst of credit.
	maxIntervalMS = 30
	// starvationOverrideMS is how long the pacer may go without sending
	// anything while the media budget is exhausted before the head of the
	// high (else normal) band is sent anyway.
	starvationOverrideMS = 30
	// paddingCapKbps is the hard ceiling on padding generation, independent
	// of the configured pad-up-to rate.
	paddingCapKbps = 800
)

// Clock returns the current time. Tests substitute a deterministic clock;
// production code defaults to time.Now.
type Clock func() time.Time

// Sender is the pacer's callback contract. SendPacket asks the caller to
// transmit the identified packet; SendPadding asks for up to
// bytesRequested padding bytes and reports how many were actually sent.
// Both are invoked with the pacer's lock released, so they may block or
// call back into the pacer.
type Sender interface {
	SendPacket(ssrc uint32, sequenceNumber uint16, captureTimeMS int64)
	SendPadding(bytesRequested int) int
}

// Stats is a point-in-time snapshot of the pacer's internal state, useful
// for tests and for exporting metrics.
type Stats struct {
	MediaBytesRemaining   int
	PaddingBytesRemaining int
	PadUpToBytesRemaining int
	HighQueueDepth        int
	NormalQueueDepth      int
	LowQueueDepth         int
}

// Pacer is the paced sender. It is created bound to a Sender and a target
// bitrate, and lives for the lifetime of the transport.
type Pacer struct {
	lock sync.Mutex

	sender         Sender
	paceMultiplier float64
	clock          Clock
	log            logging.LeveledLogger
	metrics        *metricsRecorder

	enabled bool
	paused  bool

	mediaBudget   *budget
	paddingBudget *budget
	padUpToBudget *budget

	high   *band
	normal *band
	low    *band

	timeLastUpdateMS        int64
	timeLastSendMS          int64
	captureTimeMSLastQueued int64
	captureTimeMSLastSent   int64
}

// Option configures a Pacer at construction.
type Option func(*Pacer)

// WithLoggerFactory sets the logger factory used to scope the pacer's
// logger. Defaults to logging.NewDefaultLoggerFactory().
func WithLoggerFactory(factory logging.LoggerFactory) Option {
	return func(p *Pacer) {
		p.log = factory.NewLogger("pacer")
	}
}

// WithClock overrides the monotonic clock. Defaults to time.Now.
func WithClock(clock Clock) Option {
	return func(p *Pacer) {
		p.clock = clock
	}
}

// New constructs a Pacer bound to callback and an initial target bitrate.
// paceMultiplier scales the media budget's refill rate above the target
// bitrate and must be >= 1.0.
func New(sender Sender, targetBitrateKbps int, paceMultiplier float64, opts ...Option) *Pacer {
	p := &Pacer{
		sender:         sender,
		paceMultiplier: paceMultiplier,
		clock:          time.Now,
		log:            logging.NewDefaultLoggerFactory().NewLogger("pacer"),
		mediaBudget:    newBudget(int(paceMultiplier * float64(targetBitrateKbps))),
		paddingBudget:  newBudget(paddingCapKbps),
		padUpToBudget:  newBudget(0),
		high:           newBand(),
		normal:         newBand(),
		low:            newBand(),
	}
	for _, opt := range opts {
		opt(p)
	}

	now := p.clock()
	p.timeLastUpdateMS = now.UnixMilli()
	p.timeLastSendMS = p.timeLastUpdateMS
	p.updateBytesPerInterval(tickGranularityMS)

	return p
}

// SetStatus enables or disables the pacer. While disabled, Enqueue bypasses
// all queueing.
func (p *Pacer) SetStatus(enable bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.enabled = enable
}

// Enabled reports whether the pacer is currently enabled.
func (p *Pacer) Enabled() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.enabled
}

// Pause stops the tick loop from draining any queue; while the pacer is
// enabled, Enqueue still accepts packets, queueing everything. A disabled
// pacer still bypasses queueing.
func (p *Pacer) Pause() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.paused = true
}

// Resume clears the pause flag; previously queued packets drain on
// subsequent Process calls.
func (p *Pacer) Resume() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.paused = false
}

// UpdateBitrate updates the media and pad-up-to target rates. The padding
// cap is unchanged, and bytesRemaining is not reset.
func (p *Pacer) UpdateBitrate(targetBitrateKbps, padUpToBitrateKbps int) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.mediaBudget.setTargetRateKbps(int(p.paceMultiplier * float64(targetBitrateKbps)))
	p.padUpToBudget.setTargetRateKbps(padUpToBitrateKbps)
}

// Enqueue offers a packet to the pacer. It returns true if the caller may
// send the packet immediately and the pacer will not redeliver it; it
// returns false if the packet has been accepted into a queue for later
// delivery through Sender.SendPacket.
func (p *Pacer) Enqueue(priority Priority, ssrc uint32, sequenceNumber uint16, captureTimeMS int64, bytes int) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if !p.enabled {
		p.updateMediaBytesSent(bytes)

		return true
	}

	if captureTimeMS < 0 {
		captureTimeMS = p.clock().UnixMilli()
	}

	d := Descriptor{SSRC: ssrc, SequenceNumber: sequenceNumber, CaptureTimeMS: captureTimeMS, Bytes: bytes}

	if p.paused {
		switch priority {
		case PriorityHigh:
			p.high.push(d)
		case PriorityNormal, PriorityLow:
			if priority == PriorityNormal && captureTimeMS > p.captureTimeMSLastQueued {
				p.captureTimeMSLastQueued = captureTimeMS
				p.log.Tracef("pacing async begin, capture_time_ms=%d", captureTimeMS)
			}
			// Low priority is re-routed to normal while paused, to avoid
			// starvation on resume.
			p.normal.push(d)
		}

		return false
	}

	b := p.bandFor(priority)
	if b.empty() && p.mediaBudget.remaining() > 0 {
		p.updateMediaBytesSent(bytes)

		return true
	}

	b.push(d)

	return false
}

func (p *Pacer) bandFor(priority Priority) *band {
	switch priority {
	case PriorityHigh:
		return p.high
	case PriorityLow:
		return p.low
	default:
		return p.normal
	}
}

// QueueTimeMS returns how long the oldest queued packet has been waiting,
// in milliseconds, or 0 if every band is empty.
func (p *Pacer) QueueTimeMS() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	nowMS := p.clock().UnixMilli()
	oldest := nowMS
	for _, b := range []*band{p.high, p.normal, p.low} {
		if d, ok := b.front(); ok && d.CaptureTimeMS < oldest {
			oldest = d.CaptureTimeMS
		}
	}

	return nowMS - oldest
}

// TimeUntilNextProcess returns how long the host should wait before the
// next Process call, in milliseconds.
func (p *Pacer) TimeUntilNextProcess() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	elapsed := p.clock().UnixMilli() - p.timeLastUpdateMS
	if elapsed <= 0 {
		return tickGranularityMS
	}
	if elapsed >= tickGranularityMS {
		return 0
	}

	return tickGranularityMS - elapsed
}

// Process advances the budgets by the elapsed time and drains packets
// subject to budget and priority, triggering padding when idle. It is
// meant to be called by a host driver roughly every tickGranularityMS.
func (p *Pacer) Process() {
	p.lock.Lock()

	now := p.clock()
	nowMS := now.UnixMilli()
	elapsed := nowMS - p.timeLastUpdateMS
	p.timeLastUpdateMS = nowMS

	if p.paused || elapsed <= 0 {
		p.lock.Unlock()

		return
	}

	deltaMS := elapsed
	if deltaMS > maxIntervalMS {
		deltaMS = maxIntervalMS
	}
	p.updateBytesPerInterval(deltaMS)

	for {
		popMS := p.clock().UnixMilli()
		d, priority, lastInBand, ok := p.selectNextPacket(popMS)
		if !ok {
			break
		}

		p.updateMediaBytesSentLocked(d.Bytes, popMS)
		if priority == PriorityNormal {
			if d.CaptureTimeMS > p.captureTimeMSLastSent {
				p.captureTimeMSLastSent = d.CaptureTimeMS
			} else if d.CaptureTimeMS == p.captureTimeMSLastSent && lastInBand {
				p.log.Tracef("pacing async end, capture_time_ms=%d", d.CaptureTimeMS)
			}
		}
		if p.metrics != nil {
			p.metrics.observeSend(priority, d.Bytes)
		}

		p.lock.Unlock()
		p.sender.SendPacket(d.SSRC, d.SequenceNumber, d.CaptureTimeMS)
		p.lock.Lock()
	}

	if p.high.empty() && p.normal.empty() && p.low.empty() &&
		p.paddingBudget.remaining() > 0 && p.padUpToBudget.remaining() > 0 {
		need := p.paddingBudget.remaining()
		if r := p.padUpToBudget.remaining(); r < need {
			need = r
		}

		p.lock.Unlock()
		sent := p.sender.SendPadding(need)
		p.lock.Lock()

		p.mediaBudget.use(sent)
		p.paddingBudget.use(sent)
		p.padUpToBudget.use(sent)
		if p.metrics != nil {
			p.metrics.observePadding(sent)
		}
	}

	p.lock.Unlock()
}

// Stats returns a snapshot of the pacer's internal state.
func (p *Pacer) Stats() Stats {
	p.lock.Lock()
	defer p.lock.Unlock()

	return Stats{
		MediaBytesRemaining:   p.mediaBudget.remaining(),
		PaddingBytesRemaining: p.paddingBudget.remaining(),
		PadUpToBytesRemaining: p.padUpToBudget.remaining(),
		HighQueueDepth:        p.high.packets.Len(),
		NormalQueueDepth:      p.normal.packets.Len(),
		LowQueueDepth:         p.low.packets.Len(),
	}
}

// updateBytesPerInterval must be called with p.lock held.
func (p *Pacer) updateBytesPerInterval(deltaMS int64) {
	p.mediaBudget.increase(deltaMS)
	p.paddingBudget.increase(deltaMS)
	p.padUpToBudget.increase(deltaMS)
}

// updateMediaBytesSent must be called with p.lock held; it uses the clock
// directly because it is only reached from Enqueue's immediate-send paths.
func (p *Pacer) updateMediaBytesSent(bytes int) {
	p.updateMediaBytesSentLocked(bytes, p.clock().UnixMilli())
}

func (p *Pacer) updateMediaBytesSentLocked(bytes int, nowMS int64) {
	p.timeLastSendMS = nowMS
	p.mediaBudget.use(bytes)
	p.padUpToBudget.use(bytes)
}

// selectNextPacket must be called with p.lock held. It pops and returns
// the next descriptor to emit, along with its priority and whether it was
// the last packet in its band for its capture time.
func (p *Pacer) selectNextPacket(nowMS int64) (Descriptor, Priority, bool, bool) {
	if p.mediaBudget.remaining() <= 0 {
		if nowMS-p.timeLastSendMS > starvationOverrideMS {
			if !p.high.empty() {
				return p.popFromBand(p.high, PriorityHigh)
			}
			if !p.normal.empty() {
				return p.popFromBand(p.normal, PriorityNormal)
			}
		}

		return Descriptor{}, 0, false, false
	}

	if !p.high.empty() {
		return p.popFromBand(p.high, PriorityHigh)
	}
	if !p.normal.empty() {
		return p.popFromBand(p.normal, PriorityNormal)
	}
	if !p.low.empty() {
		return p.popFromBand(p.low, PriorityLow)
	}

	return Descriptor{}, 0, false, false
}

func (p *Pacer) popFromBand(b *band, priority Priority) (Descriptor, Priority, bool, bool) {
	d, ok := b.popFront()
	if !ok {
		return Descriptor{}, priority, false, false
	}
	next, hasNext := b.front()
	lastInCaptureGroup := !hasNext || next.CaptureTimeMS > d.CaptureTimeMS

	return d, priority, lastInCaptureGroup, true
}

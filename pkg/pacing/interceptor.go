// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package pacing binds the pacer state machine to a
// github.com/pion/interceptor RTP pipeline: it stores the payload bytes
// the pacer core never touches, derives the sender callback the core
// expects, and drives Process from a ticker goroutine.
package pacing

import (
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/pacer"
	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	// ErrPacerClosed is returned by BindLocalStream's writer once the
	// interceptor has been closed.
	ErrPacerClosed = errors.New("pacer closed")
	// ErrAdmissionRejected is returned when a configured admission
	// limiter rejects a packet before it reaches the pacer.
	ErrAdmissionRejected = errors.New("pacer admission limit exceeded")
)

const (
	defaultTargetBitrateKbps = 1_000
	defaultInterval          = 5 * time.Millisecond
	defaultPaceMultiplier    = 2.5
	minRTPHeaderSize         = 12
)

// Option configures interceptors created by an InterceptorFactory.
type Option func(*Interceptor) error

// TargetBitrateKbps sets the initial media target bitrate.
func TargetBitrateKbps(kbps int) Option {
	return func(i *Interceptor) error {
		i.targetBitrateKbps = kbps

		return nil
	}
}

// PadUpToBitrateKbps sets the initial pad-up-to rate.
func PadUpToBitrateKbps(kbps int) Option {
	return func(i *Interceptor) error {
		i.padUpToBitrateKbps = kbps

		return nil
	}
}

// PaceMultiplier sets the media budget's headroom above the target
// bitrate. Must be >= 1.0.
func PaceMultiplier(m float64) Option {
	return func(i *Interceptor) error {
		i.paceMultiplier = m

		return nil
	}
}

// Interval configures how often the driver goroutine calls Process.
func Interval(interval time.Duration) Option {
	return func(i *Interceptor) error {
		i.interval = interval

		return nil
	}
}

// WithLoggerFactory sets a logger factory for the interceptor.
func WithLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(i *Interceptor) error {
		i.loggerFactory = loggerFactory

		return nil
	}
}

// WithMetrics registers Prometheus collectors for the pacer created by this
// interceptor, under registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(i *Interceptor) error {
		i.metricsRegisterer = registerer

		return nil
	}
}

// WithPayloadCacheSize overrides how many queued packets' payload bytes the
// interceptor retains; beyond this, the oldest unsent payload is evicted.
func WithPayloadCacheSize(size int) Option {
	return func(i *Interceptor) error {
		i.payloadCacheSize = size

		return nil
	}
}

// WithSimpleRateLimiter adds a golang.org/x/time/rate ceiling, in bytes per
// second, checked before a packet reaches the pacer at all. bytesPerSecond
// and burstBytes are the ceiling at the interceptor's initial target
// bitrate; later UpdateBitrate calls rescale both by the same ratio the
// target bitrate changed by, so the admission ceiling tracks the pacer's
// configured rate instead of drifting independently of it.
func WithSimpleRateLimiter(bytesPerSecond, burstBytes int) Option {
	return func(i *Interceptor) error {
		i.admissionBaseRateBytesPerSecond = bytesPerSecond
		i.admissionBaseBurstBytes = burstBytes
		i.admissionConfigured = true

		return nil
	}
}

// InterceptorFactory creates pacing interceptors and keeps track of the
// ones it has created, by session ID, so bitrate updates can be routed to
// the right instance.
type InterceptorFactory struct {
	lock         sync.Mutex
	opts         []Option
	interceptors map[string]*Interceptor
}

// NewInterceptor returns a new InterceptorFactory.
func NewInterceptor(opts ...Option) *InterceptorFactory {
	return &InterceptorFactory{
		interceptors: map[string]*Interceptor{},
		opts:         opts,
	}
}

func (f *InterceptorFactory) remove(id string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	delete(f.interceptors, id)
}

// UpdateBitrate updates the target and pad-up-to bitrates of the pacing
// interceptor with the given ID. It is a no-op if no such interceptor
// exists.
func (f *InterceptorFactory) UpdateBitrate(id string, targetBitrateKbps, padUpToBitrateKbps int) {
	f.lock.Lock()
	i, ok := f.interceptors[id]
	f.lock.Unlock()
	if !ok {
		return
	}
	i.updateBitrate(targetBitrateKbps, padUpToBitrateKbps)
}

// SetStatus enables or disables the pacing interceptor with the given ID.
func (f *InterceptorFactory) SetStatus(id string, enable bool) {
	f.lock.Lock()
	i, ok := f.interceptors[id]
	f.lock.Unlock()
	if !ok {
		return
	}
	i.core.SetStatus(enable)
}

// Stats returns a snapshot of the pacer's internal state for the
// interceptor with the given ID, and false if no such interceptor exists.
func (f *InterceptorFactory) Stats(id string) (pacer.Stats, bool) {
	f.lock.Lock()
	i, ok := f.interceptors[id]
	f.lock.Unlock()
	if !ok {
		return pacer.Stats{}, false
	}

	return i.core.Stats(), true
}

// Enabled reports whether the pacing interceptor with the given ID is
// currently enabled, and false if no such interceptor exists.
func (f *InterceptorFactory) Enabled(id string) bool {
	f.lock.Lock()
	i, ok := f.interceptors[id]
	f.lock.Unlock()
	if !ok {
		return false
	}

	return i.core.Enabled()
}

// NewInterceptor creates a new pacing interceptor bound to id.
func (f *InterceptorFactory) NewInterceptor(id string) (interceptor.Interceptor, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	i := &Interceptor{
		NoOp:               interceptor.NoOp{},
		targetBitrateKbps:  defaultTargetBitrateKbps,
		paceMultiplier:     defaultPaceMultiplier,
		interval:           defaultInterval,
		payloadCacheSize:   defaultPayloadCacheSize,
		id:                 id,
		onClose:            f.remove,
	}
	for _, opt := range f.opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	if i.loggerFactory == nil {
		i.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	i.log = i.loggerFactory.NewLogger("pacing_interceptor")

	pacerOpts := []pacer.Option{pacer.WithLoggerFactory(i.loggerFactory)}
	if i.metricsRegisterer != nil {
		pacerOpts = append(pacerOpts, pacer.WithMetrics(i.metricsRegisterer, id))
	}
	i.core = pacer.New(i, i.targetBitrateKbps, i.paceMultiplier, pacerOpts...)
	i.core.SetStatus(true)
	if i.admissionConfigured {
		i.admissionBaseTargetKbps = i.targetBitrateKbps
		i.admission = newAdmissionLimiter(i.admissionBaseRateBytesPerSecond, i.admissionBaseBurstBytes)
	}
	i.updateBitrate(i.targetBitrateKbps, i.padUpToBitrateKbps)
	i.store = newPayloadStore(i.payloadCacheSize, i.onPayloadEvicted)

	f.interceptors[id] = i

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.loop()
	}()

	return i, nil
}

// Interceptor adapts a pacer.Pacer to the github.com/pion/interceptor RTP
// pipeline: it implements pacer.Sender, storing payload bytes in a bounded
// cache keyed by (ssrc, sequence number) and writing them out once the
// pacer calls back.
type Interceptor struct {
	interceptor.NoOp
	log           logging.LeveledLogger
	loggerFactory logging.LoggerFactory

	// config
	targetBitrateKbps  int
	padUpToBitrateKbps int
	paceMultiplier     float64
	interval           time.Duration
	payloadCacheSize   int
	metricsRegisterer  prometheus.Registerer

	admission                       *admissionLimiter
	admissionConfigured             bool
	admissionBaseTargetKbps         int
	admissionBaseRateBytesPerSecond int
	admissionBaseBurstBytes         int

	core  *pacer.Pacer
	store *payloadStore

	paddingMu     sync.RWMutex
	paddingWriter interceptor.RTPWriter
	paddingSSRC   uint32
	paddingSeq    atomic.Uint32
	evictions     atomic.Uint32

	stop    core.Fuse
	wg      sync.WaitGroup
	id      string
	onClose func(string)
}

// BindLocalStream implements interceptor.Interceptor.
func (i *Interceptor) BindLocalStream(info *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	i.paddingMu.Lock()
	i.paddingWriter = writer
	i.paddingSSRC = info.SSRC
	i.paddingMu.Unlock()

	return interceptor.RTPWriterFunc(func(
		header *rtp.Header,
		payload []byte,
		attributes interceptor.Attributes,
	) (int, error) {
		if i.stop.IsBroken() {
			return 0, ErrPacerClosed
		}

		bytes := header.MarshalSize() + len(payload)
		now := time.Now()
		if i.admission != nil && !i.admission.allow(now, bytes) {
			return 0, ErrAdmissionRejected
		}

		priority := priorityFromAttributes(attributes)
		captureTimeMS := captureTimeMSFromAttributes(attributes)

		if i.core.Enqueue(priority, header.SSRC, header.SequenceNumber, captureTimeMS, bytes) {
			return writer.Write(header, payload, attributes)
		}

		hdr := header.Clone()
		pay := make([]byte, len(payload))
		copy(pay, payload)
		i.store.put(packetKey{ssrc: header.SSRC, sequenceNumber: header.SequenceNumber}, storedPacket{
			header:     &hdr,
			payload:    pay,
			attributes: maps.Clone(attributes),
			writer:     writer,
		})

		return bytes, nil
	})
}

// SendPacket implements pacer.Sender.
func (i *Interceptor) SendPacket(ssrc uint32, sequenceNumber uint16, _ int64) {
	p, ok := i.store.take(packetKey{ssrc: ssrc, sequenceNumber: sequenceNumber})
	if !ok {
		i.logThrottled(&i.evictions, "no stored payload for paced packet, ssrc=%d seq=%d", ssrc, sequenceNumber)

		return
	}
	if _, err := p.writer.Write(p.header, p.payload, p.attributes); err != nil {
		i.log.Warnf("failed to write paced packet: %v", err)
	}
}

// SendPadding implements pacer.Sender.
func (i *Interceptor) SendPadding(bytesRequested int) int {
	i.paddingMu.RLock()
	writer := i.paddingWriter
	ssrc := i.paddingSSRC
	i.paddingMu.RUnlock()

	if writer == nil || bytesRequested <= 0 {
		return 0
	}

	header, payload := i.buildPaddingPacket(ssrc, bytesRequested)
	n, err := writer.Write(header, payload, interceptor.Attributes{})
	if err != nil {
		i.log.Warnf("failed to write padding packet: %v", err)

		return 0
	}
	if n <= 0 {
		n = header.MarshalSize() + len(payload)
	}

	return n
}

func (i *Interceptor) buildPaddingPacket(ssrc uint32, size int) (*rtp.Header, []byte) {
	seq := uint16(i.paddingSeq.Inc())
	payloadSize := size - minRTPHeaderSize
	if payloadSize < 0 {
		payloadSize = 0
	}
	header := &rtp.Header{
		Version:        2,
		Padding:        payloadSize > 0,
		SequenceNumber: seq,
		SSRC:           ssrc,
	}
	payload := make([]byte, payloadSize)
	if payloadSize > 0 {
		payload[payloadSize-1] = byte(payloadSize)
	}

	return header, payload
}

// updateBitrate applies a new target/pad-up-to bitrate to the pacer core
// and, if a simple rate limiter is configured, rescales its admission
// ceiling by the same ratio the target bitrate changed by.
func (i *Interceptor) updateBitrate(targetBitrateKbps, padUpToBitrateKbps int) {
	i.core.UpdateBitrate(targetBitrateKbps, padUpToBitrateKbps)

	if i.admission == nil || i.admissionBaseTargetKbps <= 0 {
		return
	}
	ratio := float64(targetBitrateKbps) / float64(i.admissionBaseTargetKbps)
	i.admission.setRate(
		int(float64(i.admissionBaseRateBytesPerSecond)*ratio),
		int(float64(i.admissionBaseBurstBytes)*ratio),
	)
}

func (i *Interceptor) onPayloadEvicted(key packetKey) {
	i.logThrottled(&i.evictions, "evicted unsent payload before it could be paced, ssrc=%d seq=%d", key.ssrc, key.sequenceNumber)
}

// logThrottled logs the first occurrence of a noisy condition and then one
// in every 100 after it (the 101st, 201st, ...), mirroring
// the write-error throttle pattern used throughout the pack's SFU pacers.
func (i *Interceptor) logThrottled(counter *atomic.Uint32, format string, args ...interface{}) {
	count := counter.Inc()
	if count%100 == 1 {
		i.log.Warnf(format+" (count=%d)", append(args, count)...)
	}
}

// Close implements interceptor.Interceptor.
func (i *Interceptor) Close() error {
	i.stop.Break()
	i.wg.Wait()
	i.onClose(i.id)

	return nil
}

func (i *Interceptor) loop() {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()
	for {
		select {
		case <-i.stop.Watch():
			return
		case <-ticker.C:
			i.core.Process()
		}
	}
}

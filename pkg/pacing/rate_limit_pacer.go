// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacing

import (
	"time"

	"golang.org/x/time/rate"
)

// admissionLimiter is ported from pion/interceptor's
// pkg/pacing/rate_limit_pacer.go, repurposed as a belt-and-suspenders
// admission check in front of the full pacer.Pacer state machine: a hard
// ceiling on total enqueued bytes per second, checked in addition to the
// pacer's own media budget. The Interceptor rescales its rate and burst
// whenever the target bitrate changes (see Interceptor.updateBitrate), so
// the ceiling tracks the pacer's configured rate rather than a fixed value
// chosen once.
type admissionLimiter struct {
	limiter *rate.Limiter
}

func newAdmissionLimiter(rateBytesPerSecond, burstBytes int) *admissionLimiter {
	return &admissionLimiter{
		limiter: rate.NewLimiter(rate.Limit(rateBytesPerSecond), burstBytes),
	}
}

func (p *admissionLimiter) setRate(rateBytesPerSecond, burstBytes int) {
	p.limiter.SetLimit(rate.Limit(rateBytesPerSecond))
	p.limiter.SetBurst(burstBytes)
}

// allow reports whether n bytes may be admitted now.
func (p *admissionLimiter) allow(now time.Time, n int) bool {
	return p.limiter.AllowN(now, n)
}

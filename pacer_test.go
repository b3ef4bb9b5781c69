// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced Clock, so tests never sleep on wall-clock
// time to exercise the tick loop.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_000_000)}
}

func (c *fakeClock) Clock() Clock {
	return func() time.Time {
		c.mu.Lock()
		defer c.mu.Unlock()

		return c.now
	}
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentPacket struct {
	ssrc           uint32
	sequenceNumber uint16
	captureTimeMS  int64
}

type mockSender struct {
	mu       sync.Mutex
	packets  []sentPacket
	padding  []int
	padReply int
}

func (m *mockSender) SendPacket(ssrc uint32, sequenceNumber uint16, captureTimeMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = append(m.packets, sentPacket{ssrc, sequenceNumber, captureTimeMS})
}

func (m *mockSender) SendPadding(bytesRequested int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.padding = append(m.padding, bytesRequested)
	if m.padReply > bytesRequested {
		return bytesRequested
	}

	return m.padReply
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.packets)
}

func (m *mockSender) sequenceNumbers() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, len(m.packets))
	for i, p := range m.packets {
		out[i] = p.sequenceNumber
	}

	return out
}

func TestEnqueueBypassWhenDisabled(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	p := New(sender, 300, 1.0, WithClock(clk.Clock()))

	ok := p.Enqueue(PriorityNormal, 1, 1, 0, 1200)
	assert.True(t, ok)

	p.Process()
	assert.Equal(t, 0, sender.sentCount())
}

func TestEnqueueFastPathWhenBudgetAvailable(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	// 16000 kbps * 5 ms / 8 = 10000 bytes of initial media budget, enough
	// for both 1200-byte packets to take the fast path.
	p := New(sender, 16_000, 1.0, WithClock(clk.Clock()))
	p.SetStatus(true)

	assert.True(t, p.Enqueue(PriorityNormal, 1, 1, 0, 1200))
	assert.True(t, p.Enqueue(PriorityNormal, 1, 2, 0, 1200))
	assert.Equal(t, 0, sender.sentCount(), "fast path never invokes the callback")
}

func TestQueueingAndTickDrain(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	p := New(sender, 300, 2.5, WithClock(clk.Clock()))
	p.SetStatus(true)

	// Spend the initial 468-byte media budget on a fast-path packet, so
	// every packet below is queued instead of passed through.
	require.True(t, p.Enqueue(PriorityNormal, 1, 100, 0, 1200))

	for seq := uint16(1); seq <= 10; seq++ {
		ok := p.Enqueue(PriorityNormal, 1, seq, 0, 1200)
		assert.False(t, ok)
	}

	for i := 0; i < 40 && sender.sentCount() < 10; i++ {
		clk.advance(5 * time.Millisecond)
		p.Process()
	}

	assert.Equal(t, 10, sender.sentCount())
	assert.Equal(t, []uint16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, sender.sequenceNumbers(), "FIFO per band")
}

func TestStarvationOverride(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	p := New(sender, 100, 1.0, WithClock(clk.Clock()))
	p.SetStatus(true)

	// Spend the initial 62-byte media budget on a fast-path packet, so the
	// packet below is queued with the budget in debt.
	require.True(t, p.Enqueue(PriorityNormal, 1, 100, 0, 1500))
	require.False(t, p.Enqueue(PriorityNormal, 1, 1, 0, 1500))

	clk.advance(40 * time.Millisecond)
	p.Process()

	assert.Equal(t, 1, sender.sentCount(), "starvation override sends despite exhausted budget")
}

func TestLowPriorityStarvationPermitted(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	p := New(sender, 100, 1.0, WithClock(clk.Clock()))
	p.SetStatus(true)

	// Spend the initial 62-byte media budget on a fast-path packet, so the
	// packet below is queued with the budget in debt.
	require.True(t, p.Enqueue(PriorityLow, 1, 100, 0, 1500))
	require.False(t, p.Enqueue(PriorityLow, 1, 1, 0, 1500))

	clk.advance(40 * time.Millisecond)
	p.Process()

	assert.Equal(t, 0, sender.sentCount(), "low priority is never sent under starvation override")
}

func TestPriorityOrder(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	p := New(sender, 100_000, 1.0, WithClock(clk.Clock()))
	p.SetStatus(true)
	p.Pause()

	require.False(t, p.Enqueue(PriorityLow, 1, 1, 0, 100))
	require.False(t, p.Enqueue(PriorityHigh, 1, 2, 0, 100))
	require.False(t, p.Enqueue(PriorityNormal, 1, 3, 0, 100))

	p.Resume()
	clk.advance(5 * time.Millisecond)
	p.Process()

	seqs := sender.sequenceNumbers()
	require.Len(t, seqs, 3, "high band, then normal band (which absorbed low while paused)")
	assert.Equal(t, uint16(2), seqs[0])
}

func TestDuplicateSuppression(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	p := New(sender, 300, 1.0, WithClock(clk.Clock()))
	p.SetStatus(true)
	p.Pause()

	require.False(t, p.Enqueue(PriorityNormal, 1, 42, 10, 1200))
	require.False(t, p.Enqueue(PriorityNormal, 1, 42, 10, 1200))

	p.Resume()
	for i := 0; i < 10 && sender.sentCount() == 0; i++ {
		clk.advance(5 * time.Millisecond)
		p.Process()
	}

	assert.Equal(t, 1, sender.sentCount())
}

func TestPausedQuiescence(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	p := New(sender, 300, 1.0, WithClock(clk.Clock()))
	p.SetStatus(true)
	p.Pause()

	require.False(t, p.Enqueue(PriorityHigh, 1, 1, 0, 1200))

	clk.advance(100 * time.Millisecond)
	p.Process()
	assert.Equal(t, 0, sender.sentCount())

	p.Resume()
	for i := 0; i < 10 && sender.sentCount() == 0; i++ {
		clk.advance(5 * time.Millisecond)
		p.Process()
	}
	assert.Equal(t, 1, sender.sentCount())
}

func TestPadding(t *testing.T) {
	sender := &mockSender{padReply: 200}
	clk := newFakeClock()
	p := New(sender, 300, 1.0, WithClock(clk.Clock()))
	p.SetStatus(true)
	p.UpdateBitrate(300, 500)

	total := 0
	for i := 0; i < 200; i++ {
		clk.advance(5 * time.Millisecond)
		p.Process()
	}

	sender.mu.Lock()
	for range sender.padding {
		total += 200
	}
	sender.mu.Unlock()

	maxExpected := 500 * 1000 / 8 // 500 kbps over 1s, generously bounded below
	assert.Greater(t, total, 0, "padding was requested while idle")
	assert.LessOrEqual(t, total, maxExpected+200)
}

func TestQueueTimeMS(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	p := New(sender, 300, 1.0, WithClock(clk.Clock()))
	p.SetStatus(true)
	p.Pause()

	assert.Equal(t, int64(0), p.QueueTimeMS())

	require.False(t, p.Enqueue(PriorityNormal, 1, 1, clk.Clock()().UnixMilli(), 1200))
	clk.advance(20 * time.Millisecond)
	assert.Equal(t, int64(20), p.QueueTimeMS())
}

func TestTimeUntilNextProcess(t *testing.T) {
	sender := &mockSender{}
	clk := newFakeClock()
	p := New(sender, 300, 1.0, WithClock(clk.Clock()))

	clk.advance(2 * time.Millisecond)
	assert.Equal(t, int64(3), p.TimeUntilNextProcess())

	clk.advance(10 * time.Millisecond)
	assert.Equal(t, int64(0), p.TimeUntilNextProcess())
}

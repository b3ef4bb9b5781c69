// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacing

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// defaultPayloadCacheSize bounds how many not-yet-sent packets the
// interceptor holds payloads for: the pacer's own queues are unbounded
// descriptors, but the payload bytes backing them are capped here, with the
// oldest unsent payload evicted on overflow.
const defaultPayloadCacheSize = 8192

type packetKey struct {
	ssrc           uint32
	sequenceNumber uint16
}

type storedPacket struct {
	header     *rtp.Header
	payload    []byte
	attributes interceptor.Attributes
	writer     interceptor.RTPWriter
}

// payloadStore owns the bytes the pacer's descriptors refer to. The pacer
// core never sees payload; this store exists only in the binding layer.
//
// hashicorp/golang-lru routes both capacity-triggered eviction and an
// explicit Remove through the same onEvict callback, so take (a normal,
// successful delivery) would otherwise be indistinguishable from a true
// overflow drop. removing tracks which keys are mid-take so the callback
// can tell the two apart.
type payloadStore struct {
	cache *lru.Cache[packetKey, storedPacket]

	mu       sync.Mutex
	removing map[packetKey]struct{}
	onEvict  func(key packetKey)
}

func newPayloadStore(size int, onEvict func(packetKey)) *payloadStore {
	s := &payloadStore{
		onEvict:  onEvict,
		removing: make(map[packetKey]struct{}),
	}
	cache, err := lru.NewWithEvict(size, func(key packetKey, _ storedPacket) {
		s.mu.Lock()
		_, takenByUs := s.removing[key]
		s.mu.Unlock()
		if takenByUs {
			return
		}
		if s.onEvict != nil {
			s.onEvict(key)
		}
	})
	if err != nil {
		// lru.NewWithEvict fails only for a non-positive size; neither the
		// default nor WithPayloadCacheSize checks for one, so it panics here.
		panic(err)
	}
	s.cache = cache

	return s
}

func (s *payloadStore) put(key packetKey, p storedPacket) {
	s.cache.Add(key, p)
}

func (s *payloadStore) take(key packetKey) (storedPacket, bool) {
	s.mu.Lock()
	s.removing[key] = struct{}{}
	s.mu.Unlock()

	p, ok := s.cache.Get(key)
	if ok {
		s.cache.Remove(key)
	}

	s.mu.Lock()
	delete(s.removing, key)
	s.mu.Unlock()

	return p, ok
}

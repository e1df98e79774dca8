/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package capture

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/google/uuid"
)

// PacketInit carries the synthetic [SPS][PPS][keyframe] segment a viewer
// receives before any live packet.
const PacketInit PacketType = "initialization"

const defaultSubscriberBuffer = 256

// Hub fans packets from one capture session out to any number of viewers.
// Cache updates and fan-out happen under one lock, so a joiner's init
// segment and its first live packet are contiguous.
type Hub struct {
	mu        sync.Mutex
	cache     *ReconnectCache
	subs      map[string]*Subscription
	closed    bool
	done      chan struct{}
	err       error
	initTries int
	initDelay time.Duration
	logger    logger.Logger
}

func NewHub(cache *ReconnectCache, initTries int, initDelay time.Duration, log logger.Logger) *Hub {
	return &Hub{
		cache:     cache,
		subs:      make(map[string]*Subscription),
		done:      make(chan struct{}),
		initTries: initTries,
		initDelay: initDelay,
		logger:    log,
	}
}

// Subscription is one viewer's feed. Packets is closed when the viewer
// unsubscribes, is dropped, or the session ends; Err then reports why.
type Subscription struct {
	ID  string
	ch  chan Packet
	hub *Hub

	once sync.Once
	err  error
}

func (s *Subscription) Packets() <-chan Packet {
	return s.ch
}

// Err is nil after a voluntary Close.
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	return s.err
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	s.hub.dropLocked(s, nil)
}

// Subscribe waits for the stream to become decodable, then registers a
// viewer whose first packet is the init segment. Once the hub is closed it
// fails with the terminal error, including for viewers already waiting.
func (h *Hub) Subscribe(ctx context.Context, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	if err := h.closedErr(); err != nil {
		return nil, err
	}

	if _, err := h.cache.WaitInit(ctx, h.initTries, h.initDelay, h.done); err != nil {
		if closed := h.closedErr(); closed != nil {
			return nil, closed
		}

		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, h.terminalErrLocked()
	}

	seg, _ := h.cache.InitSegment()

	sub := &Subscription{
		ID:  uuid.New().String(),
		ch:  make(chan Packet, buffer+1),
		hub: h,
	}
	sub.ch <- Packet{Type: PacketInit, Data: seg, Keyframe: true}

	h.subs[sub.ID] = sub

	h.logger.Debug().Str("subscriber", sub.ID).Int("viewers", len(h.subs)).Msg("Viewer attached")

	return sub, nil
}

// Publish updates the reconnect cache and forwards pkt to every viewer. A
// viewer whose buffer is full is dropped rather than handed a gap.
func (h *Hub) Publish(pkt Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.cache.Observe(SplitAnnexB(pkt.Data, true))

	for _, sub := range h.subs {
		select {
		case sub.ch <- pkt:
		default:
			h.logger.Warn().Str("subscriber", sub.ID).Msg("Dropping slow viewer")
			h.dropLocked(sub, ErrSlowConsumer)
		}
	}
}

// Close ends every subscription with err. Only the first call has effect.
func (h *Hub) Close(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true
	h.err = err
	close(h.done)

	for _, sub := range h.subs {
		h.dropLocked(sub, err)
	}
}

// Len is the number of attached viewers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Err is the terminal error once closed.
func (h *Hub) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.err
}

func (h *Hub) closedErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.closed {
		return nil
	}

	return h.terminalErrLocked()
}

func (h *Hub) terminalErrLocked() error {
	if h.err == nil {
		return ErrSessionStopped
	}

	return h.err
}

func (h *Hub) dropLocked(sub *Subscription, err error) {
	sub.once.Do(func() {
		sub.err = err
		close(sub.ch)
		delete(h.subs, sub.ID)
	})
}

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

// Package viewer distributes capture sessions to websocket viewers.
package viewer

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/carverauto/devicelink/pkg/capture"
	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/models"
)

var ErrPoolClosed = errors.New("stream pool closed")

// Session is one capture session as the pool drives it.
type Session interface {
	Start(ctx context.Context) error
	Run(ctx context.Context) error
	Stop()
	Hub() *capture.Hub
	Metadata() capture.Metadata
}

// SessionFactory builds an unstarted session that captures from target, an
// adb path id.
type SessionFactory func(target string) Session

// DeviceLookup maps any known path id to its device.
type DeviceLookup interface {
	ResolveByAnyPathID(id string) (models.ManagedDevice, error)
}

// DriverFactory returns a SessionFactory backed by capture.Driver.
func DriverFactory(cfg *capture.Config, bridge capture.Bridge, log logger.Logger) SessionFactory {
	return func(target string) Session {
		return capture.NewDriver(target, cfg, bridge, log)
	}
}

type stream struct {
	key    string
	target string
	ready  chan struct{}
	cancel context.CancelFunc

	// set before ready is closed
	sess Session
	err  error
}

// StreamPool keeps at most one capture session per device. Sessions start
// on the first Open and end on Reset, ResetAll, Close or a stream failure.
type StreamPool struct {
	lookup     DeviceLookup
	newSession SessionFactory
	logger     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

// NewStreamPool creates a pool. lookup may be nil, in which case ids are
// used as given.
func NewStreamPool(newSession SessionFactory, lookup DeviceLookup, log logger.Logger) *StreamPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamPool{
		lookup:     lookup,
		newSession: newSession,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		streams:    make(map[string]*stream),
	}
}

// resolve returns the pool key (device serial when known) and the path id
// to capture from.
func (p *StreamPool) resolve(deviceID string) (key, target string) {
	if p.lookup == nil {
		return deviceID, deviceID
	}

	dev, err := p.lookup.ResolveByAnyPathID(deviceID)
	if err != nil {
		return deviceID, deviceID
	}

	if primary := dev.PrimaryPathID(); primary != "" {
		target = primary
	} else {
		target = deviceID
	}

	return dev.Serial, target
}

// Open returns the running session for deviceID, starting one if needed.
// Concurrent callers for the same device share a single start.
func (p *StreamPool) Open(ctx context.Context, deviceID string) (Session, error) {
	key, target := p.resolve(deviceID)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	st, ok := p.streams[key]
	if !ok {
		runCtx, cancel := context.WithCancel(p.ctx)
		st = &stream{key: key, target: target, ready: make(chan struct{}), cancel: cancel}
		p.streams[key] = st
		p.mu.Unlock()

		p.launch(runCtx, st)
	} else {
		p.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-st.ready:
	}

	if st.err != nil {
		return nil, st.err
	}

	return st.sess, nil
}

func (p *StreamPool) launch(ctx context.Context, st *stream) {
	defer close(st.ready)

	sess := p.newSession(st.target)

	if err := sess.Start(ctx); err != nil {
		p.logger.Warn().Err(err).Str("device", st.key).Msg("Failed to start capture session")
		st.err = err
		st.cancel()
		p.remove(st)

		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sess.Stop()
		st.err = ErrPoolClosed
		st.cancel()

		return
	}

	p.wg.Add(1)
	p.mu.Unlock()

	st.sess = sess

	p.logger.Info().Str("device", st.key).Str("target", st.target).Msg("Capture session started")

	go func() {
		defer p.wg.Done()

		err := sess.Run(ctx)
		st.cancel()
		sess.Stop()
		p.remove(st)

		p.logger.Info().Err(err).Str("device", st.key).Msg("Capture session ended")
	}()
}

func (p *StreamPool) remove(st *stream) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streams[st.key] == st {
		delete(p.streams, st.key)
	}
}

// Reset stops the session for deviceID. Attached viewers receive the
// terminal error and the next Open starts fresh.
func (p *StreamPool) Reset(deviceID string) bool {
	key, _ := p.resolve(deviceID)

	p.mu.Lock()
	st, ok := p.streams[key]
	delete(p.streams, key)
	p.mu.Unlock()

	if !ok {
		return false
	}

	st.cancel()

	return true
}

// ResetAll stops every session.
func (p *StreamPool) ResetAll() int {
	p.mu.Lock()
	streams := p.streams
	p.streams = make(map[string]*stream)
	p.mu.Unlock()

	for _, st := range streams {
		st.cancel()
	}

	return len(streams)
}

// Active lists the devices with a session, sorted.
func (p *StreamPool) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.streams))
	for k := range p.streams {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Close stops every session, refuses new ones and waits for the pumps to exit.
func (p *StreamPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.ResetAll()
	p.cancel()
	p.wg.Wait()
}

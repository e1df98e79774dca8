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

package viewer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/devicelink/pkg/capture"
	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/models"
	"github.com/carverauto/devicelink/pkg/registry"
)

var (
	testSPS = []byte{0, 0, 0, 1, 0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50}
	testPPS = []byte{0, 0, 0, 1, 0x68, 0xeb, 0xe3, 0xcb}
	testIDR = []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0x00, 0x33, 0xff, 0xfe, 0xf6, 0xf0}
	testP   = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x22, 0x4c}

	errBoom = errors.New("boom")
)

type fakeSession struct {
	target   string
	hub      *capture.Hub
	startErr error
	fail     chan error

	stopOnce sync.Once
	stopped  chan struct{}
}

func newFakeSession(target string) *fakeSession {
	return &fakeSession{
		target:  target,
		hub:     capture.NewHub(capture.NewReconnectCache(), 3, 10*time.Millisecond, logger.NewTestLogger()),
		fail:    make(chan error, 1),
		stopped: make(chan struct{}),
	}
}

func (s *fakeSession) Start(context.Context) error { return s.startErr }

func (s *fakeSession) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		s.hub.Close(capture.ErrSessionStopped)
		return ctx.Err()
	case err := <-s.fail:
		s.hub.Close(err)
		return err
	}
}

func (s *fakeSession) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *fakeSession) Hub() *capture.Hub { return s.hub }

func (s *fakeSession) Metadata() capture.Metadata {
	return capture.Metadata{DeviceName: "Pixel 7", Width: 1080, Height: 2400, Codec: capture.CodecH264}
}

// primeStream makes the hub decodable.
func (s *fakeSession) primeStream() {
	s.hub.Publish(capture.Packet{Type: capture.PacketConfig, Data: append(append([]byte(nil), testSPS...), testPPS...)})
	s.hub.Publish(capture.Packet{Type: capture.PacketData, Data: testIDR, Keyframe: true, PTS: 1})
}

type sessionRecorder struct {
	mu       sync.Mutex
	sessions []*fakeSession
	startErr error
	created  atomic.Int32
}

func (r *sessionRecorder) factory(target string) Session {
	r.created.Add(1)

	s := newFakeSession(target)
	s.startErr = r.startErr
	s.primeStream()

	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()

	return s
}

func (r *sessionRecorder) last() *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions[len(r.sessions)-1]
}

type aliasLookup map[string]models.ManagedDevice

func (a aliasLookup) ResolveByAnyPathID(id string) (models.ManagedDevice, error) {
	dev, ok := a[id]
	if !ok {
		return models.ManagedDevice{}, registry.ErrDeviceNotFound
	}

	return dev, nil
}

func TestStreamPoolSharesSessionPerDevice(t *testing.T) {
	rec := &sessionRecorder{}
	pool := NewStreamPool(rec.factory, nil, logger.NewTestLogger())
	defer pool.Close()

	var wg sync.WaitGroup

	results := make([]Session, 8)

	for i := range results {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			sess, err := pool.Open(context.Background(), "emulator-5554")
			assert.NoError(t, err)

			results[i] = sess
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int32(1), rec.created.Load())

	for _, s := range results {
		assert.Same(t, results[0], s)
	}

	assert.Equal(t, []string{"emulator-5554"}, pool.Active())
}

func TestStreamPoolResolvesAliasesToOneSession(t *testing.T) {
	dev := models.ManagedDevice{
		Serial: "SER1",
		Connections: []models.DeviceConnection{
			{PathID: "192.168.1.20:5555", Transport: models.TransportNetwork, Liveness: models.LivenessReady},
		},
	}
	lookup := aliasLookup{"SER1": dev, "usb-path": dev, "192.168.1.20:5555": dev}

	rec := &sessionRecorder{}
	pool := NewStreamPool(rec.factory, lookup, logger.NewTestLogger())
	defer pool.Close()

	first, err := pool.Open(context.Background(), "usb-path")
	require.NoError(t, err)

	second, err := pool.Open(context.Background(), "192.168.1.20:5555")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "192.168.1.20:5555", rec.last().target)
	assert.Equal(t, []string{"SER1"}, pool.Active())
}

func TestStreamPoolStartFailureIsNotCached(t *testing.T) {
	rec := &sessionRecorder{startErr: capture.ErrPortInUse}
	pool := NewStreamPool(rec.factory, nil, logger.NewTestLogger())
	defer pool.Close()

	_, err := pool.Open(context.Background(), "dev")
	require.ErrorIs(t, err, capture.ErrPortInUse)
	assert.Empty(t, pool.Active())

	rec.startErr = nil

	_, err = pool.Open(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, int32(2), rec.created.Load())
}

func TestStreamPoolResetStopsSession(t *testing.T) {
	rec := &sessionRecorder{}
	pool := NewStreamPool(rec.factory, nil, logger.NewTestLogger())
	defer pool.Close()

	_, err := pool.Open(context.Background(), "dev")
	require.NoError(t, err)

	sess := rec.last()

	assert.True(t, pool.Reset("dev"))
	assert.False(t, pool.Reset("dev"))

	select {
	case <-sess.stopped:
	case <-time.After(time.Second):
		t.Fatal("session not stopped")
	}

	assert.ErrorIs(t, sess.hub.Err(), capture.ErrSessionStopped)

	next, err := pool.Open(context.Background(), "dev")
	require.NoError(t, err)
	assert.NotSame(t, Session(sess), next)
}

func TestStreamPoolForgetsFailedStream(t *testing.T) {
	rec := &sessionRecorder{}
	pool := NewStreamPool(rec.factory, nil, logger.NewTestLogger())
	defer pool.Close()

	_, err := pool.Open(context.Background(), "dev")
	require.NoError(t, err)

	rec.last().fail <- errBoom

	assert.Eventually(t, func() bool { return len(pool.Active()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestStreamPoolResetAllAndClose(t *testing.T) {
	rec := &sessionRecorder{}
	pool := NewStreamPool(rec.factory, nil, logger.NewTestLogger())

	for _, id := range []string{"a", "b"} {
		_, err := pool.Open(context.Background(), id)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, pool.ResetAll())
	assert.Empty(t, pool.Active())

	pool.Close()

	_, err := pool.Open(context.Background(), "a")
	require.ErrorIs(t, err, ErrPoolClosed)
}

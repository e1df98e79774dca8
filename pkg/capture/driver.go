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

// Package capture runs the on-device screen capture helper and decodes its
// H.264 stream for any number of viewers.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/carverauto/devicelink/pkg/logger"
)

const (
	forwardTarget   = "localabstract:scrcpy"
	addrInUseMarker = "Address already in use"
	rawReadSize     = 64 << 10
)

// ServerProcess is the local handle on the launched helper.
type ServerProcess interface {
	Exited() bool
	Output() string
	Stop(grace time.Duration) error
}

// Bridge is the device tooling a capture session drives.
type Bridge interface {
	CheckAvailable(ctx context.Context, serial string) error
	KillStaleServer(ctx context.Context, serial string, port int) error
	Push(ctx context.Context, serial, local, remote string) error
	Forward(ctx context.Context, serial string, port int, remote string) error
	RemoveForward(ctx context.Context, serial string, port int) error
	StartServer(ctx context.Context, serial string, args []string) (ServerProcess, error)
}

// DialFunc opens the forwarded socket.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type State string

const (
	StateNew       State = "new"
	StatePreparing State = "preparing"
	StateLaunching State = "launching"
	StateConnected State = "connected"
	StateStreaming State = "streaming"
	StateStopped   State = "stopped"
)

// Driver owns one capture session: helper process, port forward, socket,
// reconnect cache and viewer hub.
type Driver struct {
	serial string
	cfg    *Config
	bridge Bridge
	dial   DialFunc
	logger logger.Logger

	cache *ReconnectCache
	hub   *Hub

	mu            sync.Mutex
	state         State
	proc          ServerProcess
	conn          net.Conn
	reader        *StreamReader
	meta          Metadata
	forwarded     bool
	stopRequested bool
}

type Option func(*Driver)

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(d *Driver) {
		d.dial = dial
	}
}

func NewDriver(serial string, cfg *Config, bridge Bridge, log logger.Logger, opts ...Option) *Driver {
	var dialer net.Dialer

	cache := NewReconnectCache()

	d := &Driver{
		serial: serial,
		cfg:    cfg,
		bridge: bridge,
		dial:   dialer.DialContext,
		logger: log,
		cache:  cache,
		hub:    NewHub(cache, cfg.InitRetries, cfg.InitRetryDelay.Std(), log),
		state:  StateNew,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Driver) Serial() string { return d.serial }

func (d *Driver) Hub() *Hub { return d.hub }

func (d *Driver) Cache() *ReconnectCache { return d.cache }

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// Metadata is valid once Start has returned successfully. When the
// handshake carried no size, the coded size from the locked SPS is used.
func (d *Driver) Metadata() Metadata {
	d.mu.Lock()
	meta := d.meta
	d.mu.Unlock()

	if meta.Width == 0 || meta.Height == 0 {
		if w, h := d.cache.Dimensions(); w > 0 && h > 0 {
			meta.Width, meta.Height = w, h
		}
	}

	return meta
}

func (d *Driver) transition(to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStopped {
		return ErrSessionStopped
	}

	d.state = to

	return nil
}

// Start prepares the device, launches the helper, connects the socket and
// reads the stream header. Any failure tears down whatever was set up.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateNew {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}

	d.state = StatePreparing
	d.mu.Unlock()

	if err := d.start(ctx); err != nil {
		d.Stop()
		return fmt.Errorf("start capture on %s: %w", d.serial, err)
	}

	return nil
}

func (d *Driver) start(ctx context.Context) error {
	if err := d.bridge.CheckAvailable(ctx, d.serial); err != nil {
		return err
	}

	d.cleanupStale(ctx)

	if err := sleepCtx(ctx, d.cfg.CleanupSettle.Std()); err != nil {
		return err
	}

	if err := d.bridge.Push(ctx, d.serial, d.cfg.ServerPath, RemoteServerPath); err != nil {
		return err
	}

	if err := d.bridge.Forward(ctx, d.serial, d.cfg.Port, forwardTarget); err != nil {
		return err
	}

	if err := d.markForwarded(); err != nil {
		return err
	}

	if err := d.transition(StateLaunching); err != nil {
		return err
	}

	if err := d.launch(ctx); err != nil {
		return err
	}

	conn, err := d.connect(ctx)
	if err != nil {
		return err
	}

	reader := NewStreamReader(conn, d.cfg.Stream)

	if err := d.adoptConn(conn, reader); err != nil {
		return err
	}

	if err := conn.SetReadDeadline(time.Now().Add(d.cfg.HandshakeTimeout.Std())); err != nil {
		return err
	}

	meta, err := reader.ReadMetadata()
	if err != nil {
		return err
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	d.mu.Lock()
	d.meta = meta
	d.mu.Unlock()

	d.logger.Info().
		Str("serial", d.serial).
		Str("device_name", meta.DeviceName).
		Int("width", meta.Width).
		Int("height", meta.Height).
		Msg("Capture session connected")

	return nil
}

func (d *Driver) cleanupStale(ctx context.Context) {
	if err := d.bridge.KillStaleServer(ctx, d.serial, d.cfg.Port); err != nil {
		d.logger.Debug().Err(err).Str("serial", d.serial).Msg("Stale helper cleanup incomplete")
	}
}

// launch starts the helper, retrying only when it could not bind its socket.
func (d *Driver) launch(ctx context.Context) error {
	args := ServerArgs(d.cfg)

	for attempt := 1; attempt <= d.cfg.LaunchRetries; attempt++ {
		proc, err := d.bridge.StartServer(ctx, d.serial, args)
		if err != nil {
			return err
		}

		if err := d.adoptProc(proc); err != nil {
			return err
		}

		if err := sleepCtx(ctx, d.cfg.LaunchSettle.Std()); err != nil {
			return err
		}

		if !proc.Exited() {
			return nil
		}

		out := strings.TrimSpace(proc.Output())

		if !strings.Contains(out, addrInUseMarker) {
			return fmt.Errorf("%w: %s", ErrLaunchFailed, out)
		}

		if attempt == d.cfg.LaunchRetries {
			return fmt.Errorf("%w after %d attempts: %s", ErrPortInUse, attempt, out)
		}

		d.logger.Warn().
			Str("serial", d.serial).
			Int("attempt", attempt).
			Dur("retry_in", d.cfg.LaunchRetryDelay.Std()).
			Msg("Capture helper port in use, retrying")

		d.cleanupStale(ctx)

		if err := sleepCtx(ctx, d.cfg.LaunchRetryDelay.Std()); err != nil {
			return err
		}
	}

	return ErrLaunchFailed
}

func (d *Driver) connect(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(d.cfg.Port))

	var lastErr error

	for attempt := 0; attempt < d.cfg.DialAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, d.cfg.DialInterval.Std()); err != nil {
				return nil, err
			}
		}

		conn, err := d.dial(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetReadBuffer(d.cfg.ReceiveBuffer); err != nil {
				d.logger.Warn().Err(err).Msg("Failed to size socket receive buffer")
			}
		}

		return conn, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrSocketUnavailable, lastErr)
}

func (d *Driver) markForwarded() error {
	d.mu.Lock()
	stopped := d.state == StateStopped
	d.forwarded = !stopped
	d.mu.Unlock()

	if stopped {
		d.removeForward()
		return ErrSessionStopped
	}

	return nil
}

func (d *Driver) adoptProc(proc ServerProcess) error {
	d.mu.Lock()
	if d.state == StateStopped {
		d.mu.Unlock()
		d.stopProc(proc)

		return ErrSessionStopped
	}

	d.proc = proc
	d.mu.Unlock()

	return nil
}

func (d *Driver) adoptConn(conn net.Conn, reader *StreamReader) error {
	d.mu.Lock()
	if d.state == StateStopped {
		d.mu.Unlock()
		_ = conn.Close()

		return ErrSessionStopped
	}

	d.conn = conn
	d.reader = reader
	d.state = StateConnected
	d.mu.Unlock()

	return nil
}

// Run pumps packets into the hub until the socket fails or ctx ends. Any
// socket error is terminal: the session is torn down and every viewer is
// told once.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateConnected {
		d.mu.Unlock()
		return ErrSessionStopped
	}

	d.state = StateStreaming
	reader := d.reader
	d.mu.Unlock()

	stop := context.AfterFunc(ctx, d.Stop)
	defer stop()

	var err error
	if d.cfg.Stream.SendFrameMeta {
		err = d.pumpFramed(reader)
	} else {
		err = d.pumpRaw(reader)
	}

	d.mu.Lock()
	requested := d.stopRequested
	d.mu.Unlock()

	var terminal error

	switch {
	case ctx.Err() != nil:
		d.hub.Close(ErrSessionStopped)
		terminal = ctx.Err()
	case requested:
		terminal = ErrSessionStopped
		d.hub.Close(terminal)
	default:
		terminal = fmt.Errorf("%w: %w", ErrStreamTransport, err)
		d.logger.Error().Err(err).Str("serial", d.serial).Msg("Capture stream failed")
		d.hub.Close(terminal)
	}

	d.Stop()

	return terminal
}

func (d *Driver) pumpFramed(reader *StreamReader) error {
	for {
		pkt, err := reader.ReadPacket()
		if err != nil {
			return err
		}

		d.hub.Publish(pkt)
	}
}

// pumpRaw handles helpers started without frame metadata: the stream is
// bare Annex-B and units are delimited by start codes alone.
func (d *Driver) pumpRaw(reader *StreamReader) error {
	var asm Assembler

	buf := make([]byte, rawReadSize)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			for _, u := range asm.Push(buf[:n]) {
				d.hub.Publish(unitPacket(u))
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				for _, u := range asm.Flush() {
					d.hub.Publish(unitPacket(u))
				}
			}

			return err
		}
	}
}

func unitPacket(u NALUnit) Packet {
	switch u.Type {
	case h264.NALUTypeSPS, h264.NALUTypePPS:
		return Packet{Type: PacketConfig, Data: u.Data}
	default:
		return Packet{Type: PacketData, Data: u.Data, Keyframe: u.Type == h264.NALUTypeIDR}
	}
}

// Stop releases the socket, the helper and the port forward. It is safe to
// call at any point and more than once.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.state == StateStopped {
		d.mu.Unlock()
		return
	}

	d.state = StateStopped
	d.stopRequested = true
	conn, proc, forwarded := d.conn, d.proc, d.forwarded
	d.conn, d.proc, d.forwarded = nil, nil, false
	d.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if proc != nil {
		d.stopProc(proc)
	}

	if forwarded {
		d.removeForward()
	}

	d.hub.Close(ErrSessionStopped)

	d.logger.Info().Str("serial", d.serial).Msg("Capture session stopped")
}

func (d *Driver) stopProc(proc ServerProcess) {
	if err := proc.Stop(d.cfg.StopGrace.Std()); err != nil {
		d.logger.Warn().Err(err).Str("serial", d.serial).Msg("Capture helper did not stop cleanly")
	}
}

func (d *Driver) removeForward() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StopGrace.Std())
	defer cancel()

	if err := d.bridge.RemoveForward(ctx, d.serial, d.cfg.Port); err != nil {
		d.logger.Debug().Err(err).Str("serial", d.serial).Msg("Port forward removal failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

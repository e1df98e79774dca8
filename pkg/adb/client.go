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

// Package adb drives the Android Debug Bridge command line tool: it lists and
// resolves device connections for the registry and stages the capture helper
// for the media driver.
package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/carverauto/devicelink/pkg/capture"
	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/models"
)

var (
	ErrSerialUnavailable = errors.New("device did not report a serial")
	ErrNoDeviceIP        = errors.New("could not determine device ip address")
	ErrConnectFailed     = errors.New("adb connect failed")
	ErrDisconnectFailed  = errors.New("adb disconnect failed")
	ErrPairFailed        = errors.New("adb pair failed")
	ErrDeviceNotReady    = errors.New("device is not in the ready state")
	ErrScreenshotFailed  = errors.New("screencap did not return a png image")
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// commandRunner is the subset of Runner the client needs.
type commandRunner interface {
	RunSilent(ctx context.Context, args ...string) ([]byte, error)
	Start(ctx context.Context, args ...string) (*Process, error)
}

// Client implements registry.Probe and capture.Bridge on top of the adb CLI.
type Client struct {
	runner commandRunner
	logger logger.Logger

	mdnsMu      sync.Mutex
	mdnsChecked bool
	mdnsOK      bool
}

func NewClient(path string, log logger.Logger) *Client {
	return newClientWithRunner(NewRunner(path, log), log)
}

func newClientWithRunner(r commandRunner, log logger.Logger) *Client {
	return &Client{runner: r, logger: log}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	out, err := c.runner.RunSilent(ctx, args...)
	return string(out), err
}

// ListConnections returns every path the adb server currently knows about.
func (c *Client) ListConnections(ctx context.Context) ([]models.ProbeConnection, error) {
	out, err := c.run(ctx, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	return ParseDevices(out), nil
}

// ResolveSerial reads ro.serialno through the given path. A cable path that
// cannot answer (unauthorized, offline) falls back to its usb serial, which
// is the path id itself.
func (c *Client) ResolveSerial(ctx context.Context, pathID string) (string, error) {
	out, err := c.run(ctx, "-s", pathID, "shell", "getprop", "ro.serialno")
	serial := strings.TrimSpace(out)

	if err == nil && serial != "" {
		return serial, nil
	}

	if ClassifyPath(pathID) == models.TransportCable {
		return pathID, nil
	}

	if err != nil {
		return "", fmt.Errorf("resolve serial for %s: %w", pathID, err)
	}

	return "", fmt.Errorf("%w: %s", ErrSerialUnavailable, pathID)
}

// EnableNetwork restarts adbd on the device in tcpip mode.
func (c *Client) EnableNetwork(ctx context.Context, pathID string, port int) error {
	if _, err := c.run(ctx, "-s", pathID, "tcpip", strconv.Itoa(port)); err != nil {
		return fmt.Errorf("enable tcpip on %s: %w", pathID, err)
	}

	return nil
}

// DeviceIP returns the device's wlan0 address, falling back to the source
// address of its default route.
func (c *Client) DeviceIP(ctx context.Context, pathID string) (string, error) {
	out, err := c.run(ctx, "-s", pathID, "shell", "ip", "-f", "inet", "addr", "show", "wlan0")
	if err == nil {
		if ip := parseInetAddr(out); ip != "" {
			return ip, nil
		}
	}

	out, err = c.run(ctx, "-s", pathID, "shell", "ip", "route")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoDeviceIP, err)
	}

	if ip := parseInetAddr(out); ip != "" {
		return ip, nil
	}

	return "", ErrNoDeviceIP
}

// Screenshot captures the current screen as PNG bytes.
func (c *Client) Screenshot(ctx context.Context, pathID string) ([]byte, error) {
	out, err := c.runner.RunSilent(ctx, "-s", pathID, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap %s: %w", pathID, err)
	}

	if !bytes.HasPrefix(out, pngSignature) {
		return nil, fmt.Errorf("%w: %s", ErrScreenshotFailed, pathID)
	}

	return out, nil
}

// Connect attaches a network path. adb exits 0 on failure, so the output is
// inspected.
func (c *Client) Connect(ctx context.Context, address string) error {
	out, err := c.run(ctx, "connect", address)
	if err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}

	if !strings.Contains(strings.ToLower(out), "connected to") {
		return fmt.Errorf("%w: %s", ErrConnectFailed, strings.TrimSpace(out))
	}

	return nil
}

func (c *Client) Disconnect(ctx context.Context, address string) error {
	out, err := c.run(ctx, "disconnect", address)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", address, err)
	}

	if strings.Contains(strings.ToLower(out), "error") {
		return fmt.Errorf("%w: %s", ErrDisconnectFailed, strings.TrimSpace(out))
	}

	return nil
}

// Pair completes wireless-debugging pairing with a six digit code.
func (c *Client) Pair(ctx context.Context, address, code string) error {
	out, err := c.run(ctx, "pair", address, code)
	if err != nil {
		return fmt.Errorf("pair %s: %w", address, err)
	}

	if !strings.Contains(out, "Successfully paired") {
		return fmt.Errorf("%w: %s", ErrPairFailed, strings.TrimSpace(out))
	}

	return nil
}

// Discover lists wireless-debugging advertisements. Tools without mDNS
// support yield an empty result.
func (c *Client) Discover(ctx context.Context) ([]models.DiscoveredService, error) {
	if !c.SupportsDiscovery(ctx) {
		return nil, nil
	}

	out, err := c.run(ctx, "mdns", "services")
	if err != nil {
		return nil, fmt.Errorf("mdns services: %w", err)
	}

	return ParseMDNSServices(out), nil
}

// SupportsDiscovery probes `adb mdns check` once and caches the answer.
func (c *Client) SupportsDiscovery(ctx context.Context) bool {
	c.mdnsMu.Lock()
	defer c.mdnsMu.Unlock()

	if c.mdnsChecked {
		return c.mdnsOK
	}

	out, err := c.run(ctx, "mdns", "check")
	if ctx.Err() != nil {
		return false
	}

	c.mdnsChecked = true
	c.mdnsOK = err == nil && strings.Contains(strings.ToLower(out), "mdns daemon")

	if !c.mdnsOK {
		c.logger.Info().Msg("adb mdns discovery unavailable, wireless devices will not be advertised")
	}

	return c.mdnsOK
}

// CheckAvailable fails unless the path is in the ready state.
func (c *Client) CheckAvailable(ctx context.Context, serial string) error {
	out, err := c.run(ctx, "-s", serial, "get-state")
	if err != nil {
		return fmt.Errorf("get-state %s: %w", serial, err)
	}

	if state := strings.TrimSpace(out); state != "device" {
		return fmt.Errorf("%w: %s is %q", ErrDeviceNotReady, serial, state)
	}

	return nil
}

// KillStaleServer removes helper processes and the forward left behind by a
// previous capture session. Every step is best effort.
func (c *Client) KillStaleServer(ctx context.Context, serial string, port int) error {
	steps := [][]string{
		{"-s", serial, "shell", "pkill", "-9", "-f", "app_process.*scrcpy"},
		{"-s", serial, "shell", "ps -ef | grep 'app_process.*scrcpy' | grep -v grep | awk '{print $2}' | xargs kill -9"},
		{"-s", serial, "forward", "--remove", "tcp:" + strconv.Itoa(port)},
	}

	for _, args := range steps {
		if _, err := c.run(ctx, args...); err != nil {
			c.logger.Debug().Err(err).Str("serial", serial).Msg("Stale helper cleanup step failed")
		}
	}

	return ctx.Err()
}

func (c *Client) Push(ctx context.Context, serial, local, remote string) error {
	if _, err := c.run(ctx, "-s", serial, "push", local, remote); err != nil {
		return fmt.Errorf("push %s: %w", local, err)
	}

	return nil
}

func (c *Client) Forward(ctx context.Context, serial string, port int, remote string) error {
	if _, err := c.run(ctx, "-s", serial, "forward", "tcp:"+strconv.Itoa(port), remote); err != nil {
		return fmt.Errorf("forward tcp:%d: %w", port, err)
	}

	return nil
}

func (c *Client) RemoveForward(ctx context.Context, serial string, port int) error {
	if _, err := c.run(ctx, "-s", serial, "forward", "--remove", "tcp:"+strconv.Itoa(port)); err != nil {
		return fmt.Errorf("remove forward tcp:%d: %w", port, err)
	}

	return nil
}

// StartServer launches the capture helper through `adb shell`.
func (c *Client) StartServer(ctx context.Context, serial string, args []string) (capture.ServerProcess, error) {
	full := append([]string{"-s", serial, "shell"}, args...)

	p, err := c.runner.Start(ctx, full...)
	if err != nil {
		return nil, err
	}

	return p, nil
}

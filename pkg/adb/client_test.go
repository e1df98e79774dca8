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

package adb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedResult struct {
	out string
	err error
}

// scriptedRunner answers RunSilent from a table keyed by the joined args.
type scriptedRunner struct {
	results map[string]scriptedResult
	calls   []string
}

func (s *scriptedRunner) RunSilent(_ context.Context, args ...string) ([]byte, error) {
	key := strings.Join(args, " ")
	s.calls = append(s.calls, key)

	r, ok := s.results[key]
	if !ok {
		return nil, &CommandError{Args: args, Err: errors.New("exit status 1")}
	}

	return []byte(r.out), r.err
}

func (*scriptedRunner) Start(context.Context, ...string) (*Process, error) {
	return nil, errors.New("not supported")
}

func newScriptedClient(results map[string]scriptedResult) (*Client, *scriptedRunner) {
	r := &scriptedRunner{results: results}
	return newClientWithRunner(r, logger.NewTestLogger()), r
}

const devicesOutput = `* daemon not running; starting now at tcp:5037
* daemon started successfully
List of devices attached
R58M123ABC             device usb:1-1 product:beyond1 model:SM_G973F device:beyond1 transport_id:1
192.168.1.5:5555       device product:beyond1 model:SM_G973F device:beyond1 transport_id:2
adb-R58M123ABC-xYz1._adb-tls-connect._tcp device product:beyond1 model:SM_G973F transport_id:3
emulator-5554          offline transport_id:4
ZX1G22         unauthorized usb:1-2 transport_id:5

`

func TestParseDevices(t *testing.T) {
	conns := ParseDevices(devicesOutput)
	require.Len(t, conns, 5)

	assert.Equal(t, models.ProbeConnection{
		PathID:    "R58M123ABC",
		Transport: models.TransportCable,
		Liveness:  models.LivenessReady,
		Model:     "SM G973F",
	}, conns[0])

	assert.Equal(t, models.TransportNetwork, conns[1].Transport)
	assert.Equal(t, models.TransportDiscovered, conns[2].Transport)
	assert.Equal(t, models.LivenessUnresponsive, conns[3].Liveness)
	assert.Equal(t, models.TransportCable, conns[3].Transport)
	assert.Equal(t, models.LivenessUnauthorized, conns[4].Liveness)
}

func TestClassifyPath(t *testing.T) {
	assert.Equal(t, models.TransportNetwork, ClassifyPath("10.0.0.2:5555"))
	assert.Equal(t, models.TransportNetwork, ClassifyPath("[fe80::1]:5555"))
	assert.Equal(t, models.TransportCable, ClassifyPath("emulator-5554"))
	assert.Equal(t, models.TransportCable, ClassifyPath("host:abc"))
	assert.Equal(t, models.TransportDiscovered, ClassifyPath("adb-X-1._adb-tls-pairing._tcp"))
	assert.Equal(t, models.TransportDiscovered, ClassifyPath("pixel.local.:5555"))
}

func TestParseMDNSServices(t *testing.T) {
	out := `List of discovered mdns services
adb-R58M123ABC-xYz1	_adb-tls-pairing._tcp.	192.168.1.5:41234
adb-R58M123ABC-xYz1	_adb-tls-connect._tcp.	192.168.1.5:37891
adb-9A111FFAZ-abc	_adb-tls-connect._tcp.	192.168.1.9:40001
garbage line
other	_http._tcp.	192.168.1.1:80
`

	services := ParseMDNSServices(out)
	require.Len(t, services, 2)

	assert.Equal(t, models.DiscoveredService{
		Name:       "adb-R58M123ABC-xYz1",
		IP:         "192.168.1.5",
		Port:       37891,
		HasPairing: true,
	}, services[0])
	assert.False(t, services[1].HasPairing)
	assert.Equal(t, 40001, services[1].Port)
}

func TestParseInetAddr(t *testing.T) {
	addr := `30: wlan0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500
    inet 192.168.1.5/24 brd 192.168.1.255 scope global wlan0`
	assert.Equal(t, "192.168.1.5", parseInetAddr(addr))

	route := "192.168.1.0/24 dev wlan0 proto kernel scope link src 192.168.1.7"
	assert.Equal(t, "192.168.1.7", parseInetAddr(route))

	assert.Empty(t, parseInetAddr("inet 127.0.0.1/8 scope host lo"))
}

func TestResolveSerial(t *testing.T) {
	c, _ := newScriptedClient(map[string]scriptedResult{
		"-s 192.168.1.5:5555 shell getprop ro.serialno": {out: "R58M123ABC\n"},
		"-s 10.0.0.9:5555 shell getprop ro.serialno":    {out: "\n"},
	})
	ctx := context.Background()

	serial, err := c.ResolveSerial(ctx, "192.168.1.5:5555")
	require.NoError(t, err)
	assert.Equal(t, "R58M123ABC", serial)

	_, err = c.ResolveSerial(ctx, "10.0.0.9:5555")
	assert.ErrorIs(t, err, ErrSerialUnavailable)

	// unauthorized cable devices still resolve to their usb serial
	serial, err = c.ResolveSerial(ctx, "ZX1G22")
	require.NoError(t, err)
	assert.Equal(t, "ZX1G22", serial)

	_, err = c.ResolveSerial(ctx, "10.0.0.10:5555")
	var cmdErr *CommandError
	assert.ErrorAs(t, err, &cmdErr)
}

func TestConnectInspectsOutput(t *testing.T) {
	c, _ := newScriptedClient(map[string]scriptedResult{
		"connect 192.168.1.5:5555": {out: "already connected to 192.168.1.5:5555\n"},
		"connect 192.168.1.6:5555": {out: "failed to connect to '192.168.1.6:5555': Connection refused\n"},
	})

	require.NoError(t, c.Connect(context.Background(), "192.168.1.5:5555"))
	assert.ErrorIs(t, c.Connect(context.Background(), "192.168.1.6:5555"), ErrConnectFailed)
}

func TestPair(t *testing.T) {
	c, _ := newScriptedClient(map[string]scriptedResult{
		"pair 192.168.1.5:41234 123456": {out: "Successfully paired to 192.168.1.5:41234 [guid=adb-R58M-x]\n"},
		"pair 192.168.1.5:41234 000000": {out: "Failed: Wrong password or connection was dropped.\n"},
	})

	require.NoError(t, c.Pair(context.Background(), "192.168.1.5:41234", "123456"))
	assert.ErrorIs(t, c.Pair(context.Background(), "192.168.1.5:41234", "000000"), ErrPairFailed)
}

func TestDeviceIPFallsBackToRoute(t *testing.T) {
	c, r := newScriptedClient(map[string]scriptedResult{
		"-s R58M shell ip -f inet addr show wlan0": {out: "Device \"wlan0\" does not exist.\n"},
		"-s R58M shell ip route":                   {out: "10.1.0.0/16 dev eth0 scope link src 10.1.2.3\n"},
	})

	ip, err := c.DeviceIP(context.Background(), "R58M")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip)
	assert.Len(t, r.calls, 2)
}

func TestScreenshotChecksPNGSignature(t *testing.T) {
	png := string(pngSignature) + "IHDR"

	c, _ := newScriptedClient(map[string]scriptedResult{
		"-s R58M exec-out screencap -p": {out: png},
		"-s ZX1G exec-out screencap -p": {out: "Error: no display\n"},
	})

	img, err := c.Screenshot(context.Background(), "R58M")
	require.NoError(t, err)
	assert.Equal(t, []byte(png), img)

	_, err = c.Screenshot(context.Background(), "ZX1G")
	assert.ErrorIs(t, err, ErrScreenshotFailed)

	_, err = c.Screenshot(context.Background(), "offline")
	assert.Error(t, err)
}

func TestDiscoverCachesSupportCheck(t *testing.T) {
	c, r := newScriptedClient(map[string]scriptedResult{
		"mdns check":    {out: "mdns daemon version [Openscreen discovery 0.0.0]\n"},
		"mdns services": {out: "adb-A1-x\t_adb-tls-connect._tcp.\t10.0.0.2:4000\n"},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		services, err := c.Discover(ctx)
		require.NoError(t, err)
		require.Len(t, services, 1)
	}

	checks := 0
	for _, call := range r.calls {
		if call == "mdns check" {
			checks++
		}
	}

	assert.Equal(t, 1, checks)
}

func TestDiscoverWithoutSupport(t *testing.T) {
	c, r := newScriptedClient(map[string]scriptedResult{})

	services, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, services)
	assert.Equal(t, []string{"mdns check"}, r.calls)
}

func TestKillStaleServerIsBestEffort(t *testing.T) {
	c, r := newScriptedClient(map[string]scriptedResult{})

	require.NoError(t, c.KillStaleServer(context.Background(), "R58M", 27183))
	require.Len(t, r.calls, 3)
	assert.Equal(t, "-s R58M forward --remove tcp:27183", r.calls[2])
}

func TestCheckAvailable(t *testing.T) {
	c, _ := newScriptedClient(map[string]scriptedResult{
		"-s R58M get-state": {out: "device\n"},
		"-s ZX1 get-state":  {out: "unauthorized\n"},
	})

	require.NoError(t, c.CheckAvailable(context.Background(), "R58M"))
	assert.ErrorIs(t, c.CheckAvailable(context.Background(), "ZX1"), ErrDeviceNotReady)
}

func TestCommandErrorMessage(t *testing.T) {
	err := &CommandError{Args: []string{"devices"}, Output: "boom\n", Err: errors.New("exit status 1")}
	assert.Equal(t, "adb devices: exit status 1: boom", err.Error())
}

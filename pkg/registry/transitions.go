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

package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"

	"github.com/carverauto/devicelink/pkg/models"
)

// DefaultNetworkPort is the port wireless debugging listens on after tcpip.
const DefaultNetworkPort = 5555

var (
	ipv4Pattern        = regexp.MustCompile(`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`)
	pairingCodePattern = regexp.MustCompile(`^[0-9]{6}$`)
)

func validateIPv4(ip string) error {
	if !ipv4Pattern.MatchString(ip) || net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}

	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	return nil
}

// AttachOverNetwork switches a cable-attached device to a network
// connection and returns the new path id. A path that is already a network
// connection is returned unchanged.
func (r *Registry) AttachOverNetwork(ctx context.Context, pathID string, port int) (string, error) {
	if port == 0 {
		port = DefaultNetworkPort
	}

	if err := validatePort(port); err != nil {
		return "", err
	}

	dev, err := r.ResolveByAnyPathID(pathID)
	if errors.Is(err, ErrDeviceNotFound) {
		if rerr := r.ForceRefresh(ctx); rerr != nil {
			r.logger.Warn().Err(rerr).Msg("Refresh before network attach failed")
		}

		dev, err = r.ResolveByAnyPathID(pathID)
	}

	if err != nil {
		return "", err
	}

	if conn, ok := dev.Connection(pathID); ok && conn.Transport == models.TransportNetwork {
		return pathID, nil
	}

	target := pathID
	if _, ok := dev.Connection(pathID); !ok {
		target = dev.PrimaryPathID()
	}

	if target == "" {
		return "", fmt.Errorf("%w: %s has no live connection", ErrDeviceNotFound, pathID)
	}

	if err := r.probe.EnableNetwork(ctx, target, port); err != nil {
		return "", fmt.Errorf("enable network on %s: %w", target, err)
	}

	ip, err := r.probe.DeviceIP(ctx, target)
	if err != nil {
		return "", fmt.Errorf("read device ip for %s: %w", target, err)
	}

	address := net.JoinHostPort(ip, strconv.Itoa(port))

	if err := r.probe.Connect(ctx, address); err != nil {
		return "", fmt.Errorf("connect %s: %w", address, err)
	}

	r.logger.Info().
		Str("serial", dev.Serial).
		Str("from", target).
		Str("address", address).
		Msg("Device switched to network connection")

	r.refreshAfterTransition(ctx)

	return address, nil
}

// AttachAddress connects to ip:port directly.
func (r *Registry) AttachAddress(ctx context.Context, ip string, port int) (string, error) {
	if port == 0 {
		port = DefaultNetworkPort
	}

	if err := validateIPv4(ip); err != nil {
		return "", err
	}

	if err := validatePort(port); err != nil {
		return "", err
	}

	address := net.JoinHostPort(ip, strconv.Itoa(port))

	if err := r.probe.Connect(ctx, address); err != nil {
		return "", fmt.Errorf("connect %s: %w", address, err)
	}

	r.logger.Info().Str("address", address).Msg("Connected to device address")

	r.refreshAfterTransition(ctx)

	return address, nil
}

// DetachNetwork drops the network connection at address.
func (r *Registry) DetachNetwork(ctx context.Context, address string) error {
	if err := r.probe.Disconnect(ctx, address); err != nil {
		r.logger.Warn().Err(err).Str("address", address).Msg("Failed to disconnect network device")

		return fmt.Errorf("disconnect %s: %w", address, err)
	}

	r.logger.Info().Str("address", address).Msg("Disconnected network device")

	r.refreshAfterTransition(ctx)

	return nil
}

// PairAndAttach pairs with a device in wireless-debugging mode using its
// six digit code, then connects to its connection port.
func (r *Registry) PairAndAttach(ctx context.Context, ip string, pairingPort int, code string, connectPort int) (string, error) {
	if connectPort == 0 {
		connectPort = DefaultNetworkPort
	}

	if err := validateIPv4(ip); err != nil {
		return "", err
	}

	if err := validatePort(pairingPort); err != nil {
		return "", fmt.Errorf("pairing port: %w", err)
	}

	if err := validatePort(connectPort); err != nil {
		return "", fmt.Errorf("connection port: %w", err)
	}

	if !pairingCodePattern.MatchString(code) {
		return "", ErrInvalidPairingCode
	}

	pairAddr := net.JoinHostPort(ip, strconv.Itoa(pairingPort))

	if err := r.probe.Pair(ctx, pairAddr, code); err != nil {
		return "", fmt.Errorf("pair %s: %w", pairAddr, err)
	}

	address := net.JoinHostPort(ip, strconv.Itoa(connectPort))

	if err := r.probe.Connect(ctx, address); err != nil {
		return "", fmt.Errorf("paired but connect %s failed: %w", address, err)
	}

	r.logger.Info().Str("address", address).Msg("Paired and connected device")

	r.refreshAfterTransition(ctx)

	return address, nil
}

func (r *Registry) refreshAfterTransition(ctx context.Context) {
	if err := r.ForceRefresh(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Refresh after device transition failed")
	}
}

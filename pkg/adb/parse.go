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
	"bufio"
	"net"
	"strconv"
	"strings"

	"github.com/carverauto/devicelink/pkg/models"
)

var mdnsPathMarkers = []string{
	"._adb-tls-connect._tcp",
	"._adb-tls-pairing._tcp",
	".local.",
}

// IsMDNSPath reports whether a path id names an mDNS-resolved connection.
func IsMDNSPath(pathID string) bool {
	for _, marker := range mdnsPathMarkers {
		if strings.Contains(pathID, marker) {
			return true
		}
	}

	return false
}

// ClassifyPath infers the transport from the shape of a path id.
func ClassifyPath(pathID string) models.TransportKind {
	if IsMDNSPath(pathID) {
		return models.TransportDiscovered
	}

	if host, port, err := net.SplitHostPort(pathID); err == nil && host != "" {
		if _, err := strconv.Atoi(port); err == nil {
			return models.TransportNetwork
		}
	}

	return models.TransportCable
}

func parseLiveness(state string) models.Liveness {
	switch state {
	case "device":
		return models.LivenessReady
	case "offline":
		return models.LivenessUnresponsive
	case "unauthorized":
		return models.LivenessUnauthorized
	default:
		return models.Liveness(state)
	}
}

// ParseDevices parses `adb devices -l` output.
func ParseDevices(out string) []models.ProbeConnection {
	var conns []models.ProbeConnection

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		conn := models.ProbeConnection{
			PathID:    fields[0],
			Transport: ClassifyPath(fields[0]),
			Liveness:  parseLiveness(fields[1]),
		}

		for _, f := range fields[2:] {
			if model, ok := strings.CutPrefix(f, "model:"); ok {
				conn.Model = strings.ReplaceAll(model, "_", " ")
			}
		}

		conns = append(conns, conn)
	}

	return conns
}

// ParseMDNSServices parses `adb mdns services` output, folding the connect
// and pairing advertisements of one instance into a single entry.
func ParseMDNSServices(out string) []models.DiscoveredService {
	var (
		order    []string
		services = make(map[string]*models.DiscoveredService)
	)

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || !strings.Contains(fields[1], "_adb") {
			continue
		}

		host, portStr, err := net.SplitHostPort(fields[2])
		if err != nil {
			continue
		}

		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}

		name := fields[0]
		svc, ok := services[name]
		if !ok {
			svc = &models.DiscoveredService{Name: name, IP: host}
			services[name] = svc
			order = append(order, name)
		}

		if strings.Contains(fields[1], "pairing") {
			svc.HasPairing = true
			if svc.Port == 0 {
				svc.Port = port
			}

			continue
		}

		svc.IP = host
		svc.Port = port
	}

	result := make([]models.DiscoveredService, 0, len(order))
	for _, name := range order {
		result = append(result, *services[name])
	}

	return result
}

// parseInetAddr extracts the first IPv4 address from `ip addr show` or
// `ip route` output.
func parseInetAddr(out string) string {
	fields := strings.Fields(out)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] != "inet" && fields[i] != "src" {
			continue
		}

		addr, _, _ := strings.Cut(fields[i+1], "/")
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			return addr
		}
	}

	return ""
}

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

// Package models holds the device records shared by the registry, session
// and capture packages.
package models

import (
	"sort"
	"time"
)

// TransportKind identifies how the host reaches a device.
type TransportKind string

const (
	TransportCable      TransportKind = "cable"
	TransportNetwork    TransportKind = "network"
	TransportDiscovered TransportKind = "discovered"
)

// Liveness mirrors the state word the bridge tool reports for a connection.
type Liveness string

const (
	LivenessReady        Liveness = "device"
	LivenessUnresponsive Liveness = "offline"
	LivenessUnauthorized Liveness = "unauthorized"
	// LivenessDiscoverable marks an mDNS advertisement with no live link.
	LivenessDiscoverable Liveness = "available"
)

// Availability is the externally visible condition of a managed device.
type Availability string

const (
	AvailabilityOnline       Availability = "online"
	AvailabilityOffline      Availability = "offline"
	AvailabilityDisconnected Availability = "disconnected"
	AvailabilityDiscoverable Availability = "available"
)

var transportScores = map[TransportKind]int{
	TransportCable:      300,
	TransportNetwork:    200,
	TransportDiscovered: 0,
}

var livenessScores = map[Liveness]int{
	LivenessReady:        30,
	LivenessUnresponsive: 20,
	LivenessUnauthorized: 10,
}

// DeviceConnection is one access path to a physical device.
type DeviceConnection struct {
	PathID    string        `json:"path_id"`
	Transport TransportKind `json:"transport"`
	Liveness  Liveness      `json:"liveness"`
	LastSeen  time.Time     `json:"last_seen"`
}

// PriorityScore ranks a connection for primary selection; transport dominates liveness.
func (c DeviceConnection) PriorityScore() int {
	return transportScores[c.Transport] + livenessScores[c.Liveness]
}

// ManagedDevice aggregates every connection that shares a hardware serial.
type ManagedDevice struct {
	Serial            string             `json:"serial"`
	Connections       []DeviceConnection `json:"connections"`
	PrimaryIndex      int                `json:"primary_index"`
	ModelName         string             `json:"model_name,omitempty"`
	Availability      Availability       `json:"availability"`
	SessionBound      bool               `json:"session_bound"`
	KnownPathIDs      []string           `json:"known_path_ids,omitempty"`
	FirstSeen         time.Time          `json:"first_seen"`
	LastSeen          time.Time          `json:"last_seen"`
	ConsecutiveErrors int                `json:"consecutive_errors"`
}

// maxKnownPathIDs bounds the alias history kept per device.
const maxKnownPathIDs = 16

// SelectPrimary sorts the connections by descending priority, keeping the
// discovery order between equal scores, and points PrimaryIndex at the head.
func (d *ManagedDevice) SelectPrimary() {
	if len(d.Connections) == 0 {
		d.PrimaryIndex = 0
		return
	}

	sort.SliceStable(d.Connections, func(i, j int) bool {
		return d.Connections[i].PriorityScore() > d.Connections[j].PriorityScore()
	})

	d.PrimaryIndex = 0
}

// Primary returns the preferred connection. ok is false when the device has
// no connections or the index is stale.
func (d *ManagedDevice) Primary() (DeviceConnection, bool) {
	if d.PrimaryIndex < 0 || d.PrimaryIndex >= len(d.Connections) {
		return DeviceConnection{}, false
	}

	return d.Connections[d.PrimaryIndex], true
}

// PrimaryPathID is the path id of the primary connection or "".
func (d *ManagedDevice) PrimaryPathID() string {
	if conn, ok := d.Primary(); ok {
		return conn.PathID
	}

	return ""
}

// PathIDs lists the current connection path ids in priority order.
func (d *ManagedDevice) PathIDs() []string {
	ids := make([]string, 0, len(d.Connections))
	for i := range d.Connections {
		ids = append(ids, d.Connections[i].PathID)
	}

	return ids
}

// HasTransport reports whether any connection uses the given transport.
func (d *ManagedDevice) HasTransport(kind TransportKind) bool {
	for i := range d.Connections {
		if d.Connections[i].Transport == kind {
			return true
		}
	}

	return false
}

// Connection looks up a current connection by path id.
func (d *ManagedDevice) Connection(pathID string) (DeviceConnection, bool) {
	for i := range d.Connections {
		if d.Connections[i].PathID == pathID {
			return d.Connections[i], true
		}
	}

	return DeviceConnection{}, false
}

// RememberPathIDs appends unseen path ids to the alias history.
func (d *ManagedDevice) RememberPathIDs(ids ...string) {
	for _, id := range ids {
		if id == "" || containsString(d.KnownPathIDs, id) {
			continue
		}

		d.KnownPathIDs = append(d.KnownPathIDs, id)
	}

	if over := len(d.KnownPathIDs) - maxKnownPathIDs; over > 0 {
		d.KnownPathIDs = append([]string(nil), d.KnownPathIDs[over:]...)
	}
}

// RefreshAvailability derives availability from the primary connection.
func (d *ManagedDevice) RefreshAvailability() {
	conn, ok := d.Primary()
	if ok && conn.Liveness == LivenessReady {
		d.Availability = AvailabilityOnline
		return
	}

	d.Availability = AvailabilityOffline
}

// Clone returns a deep copy safe to hand to callers outside the registry lock.
func (d *ManagedDevice) Clone() ManagedDevice {
	out := *d
	out.Connections = append([]DeviceConnection(nil), d.Connections...)
	out.KnownPathIDs = append([]string(nil), d.KnownPathIDs...)

	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

// ProbeConnection is a raw connection reported by the bridge tool.
type ProbeConnection struct {
	PathID    string        `json:"path_id"`
	Transport TransportKind `json:"transport"`
	Liveness  Liveness      `json:"liveness"`
	Model     string        `json:"model,omitempty"`
}

// DiscoveredService is one mDNS advertisement of a wireless-debugging device.
type DiscoveredService struct {
	Name       string `json:"name"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	HasPairing bool   `json:"has_pairing"`
}

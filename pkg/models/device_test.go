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

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityScore(t *testing.T) {
	tests := []struct {
		name string
		conn DeviceConnection
		want int
	}{
		{"cable ready", DeviceConnection{Transport: TransportCable, Liveness: LivenessReady}, 330},
		{"cable unauthorized", DeviceConnection{Transport: TransportCable, Liveness: LivenessUnauthorized}, 310},
		{"network ready", DeviceConnection{Transport: TransportNetwork, Liveness: LivenessReady}, 230},
		{"network offline", DeviceConnection{Transport: TransportNetwork, Liveness: LivenessUnresponsive}, 220},
		{"discovered ready", DeviceConnection{Transport: TransportDiscovered, Liveness: LivenessReady}, 30},
		{"discoverable only", DeviceConnection{Transport: TransportDiscovered, Liveness: LivenessDiscoverable}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conn.PriorityScore())
		})
	}
}

func TestSelectPrimaryPrefersUnresponsiveCableOverReadyNetwork(t *testing.T) {
	d := &ManagedDevice{
		Serial: "R58M",
		Connections: []DeviceConnection{
			{PathID: "10.0.0.5:5555", Transport: TransportNetwork, Liveness: LivenessReady},
			{PathID: "R58M", Transport: TransportCable, Liveness: LivenessUnresponsive},
		},
	}

	d.SelectPrimary()
	d.RefreshAvailability()

	assert.Equal(t, "R58M", d.PrimaryPathID())
	assert.Equal(t, AvailabilityOffline, d.Availability)
}

func TestSelectPrimaryIsStable(t *testing.T) {
	d := &ManagedDevice{
		Connections: []DeviceConnection{
			{PathID: "a:5555", Transport: TransportNetwork, Liveness: LivenessReady},
			{PathID: "b:5555", Transport: TransportNetwork, Liveness: LivenessReady},
		},
	}

	d.SelectPrimary()

	assert.Equal(t, []string{"a:5555", "b:5555"}, d.PathIDs())
}

func TestPrimaryOnEmptyDevice(t *testing.T) {
	d := &ManagedDevice{Serial: "gone"}

	d.SelectPrimary()
	_, ok := d.Primary()

	assert.False(t, ok)
	assert.Empty(t, d.PrimaryPathID())

	d.PrimaryIndex = 3
	_, ok = d.Primary()
	assert.False(t, ok)
}

func TestRememberPathIDsIsBounded(t *testing.T) {
	d := &ManagedDevice{}

	for i := 0; i < maxKnownPathIDs+4; i++ {
		d.RememberPathIDs(string(rune('a'+i)), string(rune('a'+i)))
	}

	require.Len(t, d.KnownPathIDs, maxKnownPathIDs)
	assert.Equal(t, "e", d.KnownPathIDs[0])
}

func TestCloneIsDeep(t *testing.T) {
	d := &ManagedDevice{
		Serial:       "X1",
		Connections:  []DeviceConnection{{PathID: "X1", Transport: TransportCable}},
		KnownPathIDs: []string{"X1"},
	}

	c := d.Clone()
	c.Connections[0].PathID = "mutated"
	c.KnownPathIDs[0] = "mutated"

	assert.Equal(t, "X1", d.Connections[0].PathID)
	assert.Equal(t, "X1", d.KnownPathIDs[0])
}

func TestDurationJSON(t *testing.T) {
	var cfg struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"a":"10s","b":2000000000}`), &cfg))
	assert.Equal(t, 10*time.Second, cfg.A.Std())
	assert.Equal(t, 2*time.Second, cfg.B.Std())

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &cfg))
	assert.Error(t, json.Unmarshal([]byte(`{"a":"soon"}`), &cfg))

	var unset Duration
	assert.Equal(t, time.Minute, unset.Or(time.Minute))

	out, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.JSONEq(t, `"1.5s"`, string(out))
}

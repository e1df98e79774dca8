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

import "time"

// DeviceEventType names a registry state change.
type DeviceEventType string

const (
	DeviceEventAdded        DeviceEventType = "added"
	DeviceEventDisconnected DeviceEventType = "disconnected"
	DeviceEventReconnected  DeviceEventType = "reconnected"
	DeviceEventTransition   DeviceEventType = "transition"
	DeviceEventDiscovered   DeviceEventType = "discovered"
	DeviceEventExpired      DeviceEventType = "expired"
)

// DeviceEvent is emitted by the registry after a poll cycle commits.
type DeviceEvent struct {
	Type            DeviceEventType `json:"type"`
	Serial          string          `json:"serial"`
	PathID          string          `json:"path_id,omitempty"`
	PreviousPathIDs []string        `json:"previous_path_ids,omitempty"`
	ModelName       string          `json:"model_name,omitempty"`
	Availability    Availability    `json:"availability,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

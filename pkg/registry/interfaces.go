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

//go:generate mockgen -destination=mock_registry.go -package=registry github.com/carverauto/devicelink/pkg/registry Probe,SessionIndex,EventSink

package registry

import (
	"context"
	"time"

	"github.com/carverauto/devicelink/pkg/models"
)

// Probe enumerates and manipulates device connections through the bridge tool.
type Probe interface {
	ListConnections(ctx context.Context) ([]models.ProbeConnection, error)
	ResolveSerial(ctx context.Context, pathID string) (string, error)
	EnableNetwork(ctx context.Context, pathID string, port int) error
	DeviceIP(ctx context.Context, pathID string) (string, error)
	Connect(ctx context.Context, address string) error
	Disconnect(ctx context.Context, address string) error
	Pair(ctx context.Context, address, code string) error
	Discover(ctx context.Context) ([]models.DiscoveredService, error)
}

// SessionIndex answers whether an automation session is bound to a path id.
type SessionIndex interface {
	HasSession(pathID string) bool
}

// EventSink receives committed registry events.
type EventSink interface {
	PublishDeviceEvent(ctx context.Context, event models.DeviceEvent) error
}

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

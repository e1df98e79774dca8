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
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/carverauto/devicelink/pkg/models"
)

// connectionGroup holds the resolved connections that share one serial.
type connectionGroup struct {
	conns []models.DeviceConnection
	model string
}

func (r *Registry) runCycle(ctx context.Context) (err error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrCyclePanic, rec)
		}
	}()

	raw, err := r.probe.ListConnections(ctx)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}

	now := r.clock.Now()
	order, groups := r.resolveGroups(ctx, raw, now)

	if err := ctx.Err(); err != nil {
		return err
	}

	supersedeDiscovered(groups)

	var services []models.DiscoveredService

	discovered := false

	if r.config.discoveryEnabled() {
		services, discovered = r.discover(ctx)
	}

	bindings := r.gatherBindings(groups)

	r.mu.Lock()
	events := r.commitLocked(order, groups, bindings, now)
	if discovered {
		events = append(events, r.mergeDiscoveredLocked(services, now)...)
	}
	events = append(events, r.expireDiscoverableLocked(now)...)
	r.mu.Unlock()

	r.publish(ctx, events)

	return nil
}

// resolveGroups maps each raw connection to its hardware serial. A path
// whose serial cannot be resolved is skipped for this cycle.
func (r *Registry) resolveGroups(
	ctx context.Context, raw []models.ProbeConnection, now time.Time,
) ([]string, map[string]*connectionGroup) {
	groups := make(map[string]*connectionGroup)
	order := make([]string, 0, len(raw))

	for _, pc := range raw {
		serial, err := r.probe.ResolveSerial(ctx, pc.PathID)
		if err == nil && serial == "" {
			err = ErrSerialUnresolvable
		}

		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("path_id", pc.PathID).
				Msg("Skipping connection with unresolvable serial")

			continue
		}

		g, ok := groups[serial]
		if !ok {
			g = &connectionGroup{}
			groups[serial] = g
			order = append(order, serial)
		}

		g.conns = append(g.conns, models.DeviceConnection{
			PathID:    pc.PathID,
			Transport: pc.Transport,
			Liveness:  pc.Liveness,
			LastSeen:  now,
		})

		if g.model == "" {
			g.model = pc.Model
		}
	}

	return order, groups
}

// supersedeDiscovered drops advertised paths for serials that also have a
// cable or network connection.
func supersedeDiscovered(groups map[string]*connectionGroup) {
	for _, g := range groups {
		concrete := false

		for i := range g.conns {
			if g.conns[i].Transport != models.TransportDiscovered {
				concrete = true

				break
			}
		}

		if !concrete {
			continue
		}

		kept := g.conns[:0]

		for _, c := range g.conns {
			if c.Transport != models.TransportDiscovered {
				kept = append(kept, c)
			}
		}

		g.conns = kept
	}
}

// gatherBindings asks the session index about every current and previous
// path id. It runs without the registry lock held.
func (r *Registry) gatherBindings(groups map[string]*connectionGroup) map[string]bool {
	sessions, _ := r.hooks()
	if sessions == nil {
		return nil
	}

	r.mu.RLock()
	ids := make(map[string]struct{})

	for _, paths := range r.lastPaths {
		for _, id := range paths {
			ids[id] = struct{}{}
		}
	}
	r.mu.RUnlock()

	for _, g := range groups {
		for i := range g.conns {
			ids[g.conns[i].PathID] = struct{}{}
		}
	}

	bindings := make(map[string]bool, len(ids))

	for id := range ids {
		if sessions.HasSession(id) {
			bindings[id] = true
		}
	}

	return bindings
}

func anyBound(bindings map[string]bool, ids []string) bool {
	for _, id := range ids {
		if bindings[id] {
			return true
		}
	}

	return false
}

func samePaths(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}

	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}

	return true
}

func (r *Registry) commitLocked(
	order []string, groups map[string]*connectionGroup, bindings map[string]bool, now time.Time,
) []models.DeviceEvent {
	var events []models.DeviceEvent

	event := func(t models.DeviceEventType, dev *models.ManagedDevice, previous []string) {
		events = append(events, models.DeviceEvent{
			Type:            t,
			Serial:          dev.Serial,
			PathID:          dev.PrimaryPathID(),
			PreviousPathIDs: previous,
			ModelName:       dev.ModelName,
			Availability:    dev.Availability,
			Timestamp:       now,
		})
	}

	for _, serial := range order {
		g := groups[serial]
		if len(g.conns) == 0 {
			continue
		}

		dev, exists := r.devices[serial]
		wasDisconnected := exists && dev.Availability == models.AvailabilityDisconnected

		if !exists {
			dev = &models.ManagedDevice{Serial: serial, FirstSeen: now}
			r.devices[serial] = dev
		}

		previous := r.lastPaths[serial]
		wasBound := dev.SessionBound

		dev.Connections = g.conns
		dev.SelectPrimary()
		dev.RefreshAvailability()

		if dev.ModelName == "" {
			dev.ModelName = g.model
		}

		dev.LastSeen = now
		dev.ConsecutiveErrors = 0

		current := dev.PathIDs()
		dev.RememberPathIDs(current...)

		bound := anyBound(bindings, current)
		sticky := !bound && wasBound && anyBound(bindings, previous)
		dev.SessionBound = bound || sticky

		switch {
		case !exists:
			r.logger.Info().
				Str("serial", serial).
				Str("model", dev.ModelName).
				Str("primary", dev.PrimaryPathID()).
				Msg("Device added")
			event(models.DeviceEventAdded, dev, nil)
		case wasDisconnected:
			r.logger.Info().
				Str("serial", serial).
				Str("primary", dev.PrimaryPathID()).
				Msg("Device reconnected")
			event(models.DeviceEventReconnected, dev, previous)
		}

		rotated := exists && len(previous) > 0 && !samePaths(previous, current)

		if sticky || (rotated && dev.SessionBound) {
			r.logger.Warn().
				Str("serial", serial).
				Strs("previous_paths", previous).
				Strs("current_paths", current).
				Bool("sticky", sticky).
				Msg("Session-bound device changed path")
			event(models.DeviceEventTransition, dev, previous)
		}

		r.lastPaths[serial] = current

		delete(r.discoverable, serial)
	}

	for serial, dev := range r.devices {
		if g, ok := groups[serial]; ok && len(g.conns) > 0 {
			continue
		}

		dev.ConsecutiveErrors++
		dev.SessionBound = anyBound(bindings, r.lastPaths[serial])

		if dev.Availability == models.AvailabilityDisconnected {
			continue
		}

		previous := r.lastPaths[serial]

		dev.Availability = models.AvailabilityDisconnected
		dev.Connections = nil
		dev.PrimaryIndex = 0

		r.logger.Info().
			Str("serial", serial).
			Strs("last_paths", previous).
			Msg("Device disconnected")
		event(models.DeviceEventDisconnected, dev, previous)
	}

	r.rebuildIndexesLocked()

	return events
}

func (r *Registry) rebuildIndexesLocked() {
	r.pathIndex = make(map[string]string, len(r.pathIndex))
	r.aliasIndex = make(map[string]string, len(r.aliasIndex))

	for serial, dev := range r.devices {
		for _, id := range dev.KnownPathIDs {
			r.aliasIndex[id] = serial
		}
	}

	// current paths win over stale aliases
	for serial, dev := range r.devices {
		for i := range dev.Connections {
			r.pathIndex[dev.Connections[i].PathID] = serial
			r.aliasIndex[dev.Connections[i].PathID] = serial
		}
	}
}

// discover runs the best-effort directory probe. ok is false when discovery
// is unsupported or failed, in which case existing entries just age.
func (r *Registry) discover(ctx context.Context) ([]models.DiscoveredService, bool) {
	if ds, ok := r.probe.(discoverySupport); ok && !ds.SupportsDiscovery(ctx) {
		return nil, false
	}

	services, err := r.probe.Discover(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Discovery probe failed")

		return nil, false
	}

	return services, true
}

func (r *Registry) mergeDiscoveredLocked(services []models.DiscoveredService, now time.Time) []models.DeviceEvent {
	var events []models.DeviceEvent

	for _, svc := range services {
		serial := SerialFromServiceName(svc.Name)
		if serial == "" {
			continue
		}

		known, present := r.devices[serial]
		if present && known.Availability != models.AvailabilityDisconnected {
			continue
		}

		pathID := svc.Name
		if svc.IP != "" && svc.Port > 0 {
			pathID = net.JoinHostPort(svc.IP, strconv.Itoa(svc.Port))
		}

		adv, ok := r.discoverable[serial]
		if !ok {
			adv = &models.ManagedDevice{
				Serial:       serial,
				FirstSeen:    now,
				Availability: models.AvailabilityDiscoverable,
			}
			r.discoverable[serial] = adv
		}

		adv.Connections = []models.DeviceConnection{{
			PathID:    pathID,
			Transport: models.TransportDiscovered,
			Liveness:  models.LivenessDiscoverable,
			LastSeen:  now,
		}}
		adv.SelectPrimary()
		adv.RememberPathIDs(pathID)
		adv.LastSeen = now

		if present {
			adv.ModelName = known.ModelName
		}

		if !ok {
			events = append(events, models.DeviceEvent{
				Type:         models.DeviceEventDiscovered,
				Serial:       serial,
				PathID:       pathID,
				ModelName:    adv.ModelName,
				Availability: adv.Availability,
				Timestamp:    now,
			})
		}
	}

	return events
}

func (r *Registry) expireDiscoverableLocked(now time.Time) []models.DeviceEvent {
	var events []models.DeviceEvent

	ttl := r.config.DiscoverableTTL.Std()

	for serial, adv := range r.discoverable {
		if now.Sub(adv.LastSeen) <= ttl {
			continue
		}

		delete(r.discoverable, serial)

		r.logger.Debug().Str("serial", serial).Msg("Discoverable device expired")

		events = append(events, models.DeviceEvent{
			Type:      models.DeviceEventExpired,
			Serial:    serial,
			PathID:    adv.PrimaryPathID(),
			Timestamp: now,
		})
	}

	return events
}

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

// Package registry aggregates bridge-tool connections into per-serial device
// records and keeps them current with a background poll loop.
package registry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/models"
)

// discoverySupport is implemented by probes that can tell whether the
// discovery daemon is usable before Discover is called.
type discoverySupport interface {
	SupportsDiscovery(ctx context.Context) bool
}

// Registry is the device registry. It is safe for concurrent use.
type Registry struct {
	config *Config
	probe  Probe
	clock  Clock
	logger logger.Logger

	mu           sync.RWMutex
	devices      map[string]*models.ManagedDevice
	pathIndex    map[string]string
	aliasIndex   map[string]string
	discoverable map[string]*models.ManagedDevice
	lastPaths    map[string][]string
	failures     int
	interval     time.Duration

	cycleMu sync.Mutex

	hooksMu  sync.RWMutex
	sessions SessionIndex
	sink     EventSink

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a registry. A nil config uses defaults and a nil clock uses
// the wall clock.
func New(cfg *Config, probe Probe, clock Clock, log logger.Logger) (*Registry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry config: %w", err)
	}

	if clock == nil {
		clock = RealClock{}
	}

	return &Registry{
		config:       cfg,
		probe:        probe,
		clock:        clock,
		logger:       log,
		devices:      make(map[string]*models.ManagedDevice),
		pathIndex:    make(map[string]string),
		aliasIndex:   make(map[string]string),
		discoverable: make(map[string]*models.ManagedDevice),
		lastPaths:    make(map[string][]string),
		interval:     cfg.PollInterval.Std(),
	}, nil
}

// SetSessionIndex wires the session lookup used to reconcile sessionBound.
func (r *Registry) SetSessionIndex(idx SessionIndex) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()

	r.sessions = idx
}

// SetEventSink wires the sink that receives committed events.
func (r *Registry) SetEventSink(sink EventSink) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()

	r.sink = sink
}

func (r *Registry) hooks() (SessionIndex, EventSink) {
	r.hooksMu.RLock()
	defer r.hooksMu.RUnlock()

	return r.sessions, r.sink
}

// Start launches the polling worker. Calling Start on a running registry is a no-op.
func (r *Registry) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.done != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.cancel = cancel
	r.done = done

	r.logger.Info().
		Dur("interval", r.CurrentInterval()).
		Bool("discovery", r.config.discoveryEnabled()).
		Msg("Starting device registry")

	go r.run(runCtx, done)

	return nil
}

// Running reports whether the polling worker is alive.
func (r *Registry) Running() bool {
	r.runMu.Lock()
	done := r.done
	r.runMu.Unlock()

	if done == nil {
		return false
	}

	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Stop signals the worker and waits for it up to the configured stop timeout.
// Calling Stop on a stopped registry is a no-op.
func (r *Registry) Stop(ctx context.Context) error {
	r.runMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.runMu.Unlock()

	if done == nil {
		return nil
	}

	cancel()

	timer := time.NewTimer(r.config.StopTimeout.Std())
	defer timer.Stop()

	select {
	case <-done:
		r.logger.Info().Msg("Device registry stopped")

		return nil
	case <-timer.C:
		r.logger.Warn().
			Dur("timeout", r.config.StopTimeout.Std()).
			Msg("Registry worker did not exit before the stop timeout")

		return ErrStopTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	r.tick(ctx)

	interval := r.CurrentInterval()
	ticker := r.clock.Ticker(interval)

	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.tick(ctx)

			if next := r.CurrentInterval(); next != interval {
				ticker.Stop()

				interval = next
				ticker = r.clock.Ticker(interval)
			}
		}
	}
}

func (r *Registry) tick(ctx context.Context) {
	err := r.runCycle(ctx)

	if ctx.Err() != nil {
		return
	}

	if err != nil {
		r.recordFailure(err)

		return
	}

	r.recordSuccess()
}

func (r *Registry) recordFailure(err error) {
	r.mu.Lock()
	r.failures++
	failures := r.failures
	r.interval = BackoffInterval(r.config.PollInterval.Std(), r.config.BackoffMultiplier,
		r.config.MaxInterval.Std(), failures)
	next := r.interval
	r.mu.Unlock()

	r.logger.Error().
		Err(err).
		Int("consecutive_failures", failures).
		Dur("next_interval", next).
		Msg("Poll cycle failed, backing off")
}

func (r *Registry) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failures > 0 {
		r.logger.Info().Int("after_failures", r.failures).Msg("Poll cycle recovered")
	}

	r.failures = 0
	r.interval = r.config.PollInterval.Std()
}

// BackoffInterval returns min(maxInterval, base * multiplier^failures).
func BackoffInterval(base time.Duration, multiplier float64, maxInterval time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return base
	}

	next := float64(base) * math.Pow(multiplier, float64(failures))
	if next >= float64(maxInterval) || math.IsInf(next, 0) {
		return maxInterval
	}

	return time.Duration(next)
}

// CurrentInterval is the delay the worker waits before the next cycle.
func (r *Registry) CurrentInterval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.interval
}

// ConsecutiveFailures is the number of failed cycles since the last success.
func (r *Registry) ConsecutiveFailures() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.failures
}

// ForceRefresh runs one cycle synchronously. It is serialized with the
// worker and leaves the backoff state alone.
func (r *Registry) ForceRefresh(ctx context.Context) error {
	return r.runCycle(ctx)
}

// Snapshot returns copies of every device record ordered by first sighting.
// A disconnected record whose serial is currently advertised is reported
// as the discoverable entry instead.
func (r *Registry) Snapshot() []models.ManagedDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ManagedDevice, 0, len(r.devices)+len(r.discoverable))
	used := make(map[string]bool, len(r.discoverable))

	for _, dev := range r.devices {
		if dev.Availability == models.AvailabilityDisconnected {
			if adv, ok := r.discoverable[dev.Serial]; ok {
				clone := adv.Clone()
				clone.FirstSeen = dev.FirstSeen
				clone.ModelName = firstNonEmpty(dev.ModelName, adv.ModelName)
				out = append(out, clone)
				used[dev.Serial] = true

				continue
			}
		}

		out = append(out, dev.Clone())
	}

	sortDevices(out)

	extra := make([]models.ManagedDevice, 0, len(r.discoverable))

	for serial, adv := range r.discoverable {
		if used[serial] {
			continue
		}

		if _, ok := r.devices[serial]; ok {
			continue
		}

		extra = append(extra, adv.Clone())
	}

	sortDevices(extra)

	return append(out, extra...)
}

func sortDevices(list []models.ManagedDevice) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].FirstSeen.Equal(list[j].FirstSeen) {
			return list[i].FirstSeen.Before(list[j].FirstSeen)
		}

		return list[i].Serial < list[j].Serial
	})
}

// ResolveBySerial returns a copy of the record for serial.
func (r *Registry) ResolveBySerial(serial string) (models.ManagedDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if dev, ok := r.devices[serial]; ok {
		return dev.Clone(), nil
	}

	if adv, ok := r.discoverable[serial]; ok {
		return adv.Clone(), nil
	}

	return models.ManagedDevice{}, fmt.Errorf("%w: serial %s", ErrDeviceNotFound, serial)
}

// ResolveByAnyPathID accepts a serial, a current path id, or any path id the
// device has used before.
func (r *Registry) ResolveByAnyPathID(id string) (models.ManagedDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	serial := r.lookupSerialLocked(id)
	if serial == "" {
		return models.ManagedDevice{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	if dev, ok := r.devices[serial]; ok {
		return dev.Clone(), nil
	}

	if adv, ok := r.discoverable[serial]; ok {
		return adv.Clone(), nil
	}

	return models.ManagedDevice{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

func (r *Registry) lookupSerialLocked(id string) string {
	if _, ok := r.devices[id]; ok {
		return id
	}

	if serial, ok := r.pathIndex[id]; ok {
		return serial
	}

	if serial, ok := r.aliasIndex[id]; ok {
		return serial
	}

	if _, ok := r.discoverable[id]; ok {
		return id
	}

	return ""
}

// UpdateSessionBinding records that a session was created on or removed from
// pathID. When a session appears while another path of the same device
// already carries one, a transition event is emitted.
func (r *Registry) UpdateSessionBinding(ctx context.Context, pathID string, bound bool) error {
	r.mu.RLock()
	serial := r.lookupSerialLocked(pathID)

	var others []string

	if dev, ok := r.devices[serial]; ok {
		for _, id := range dev.KnownPathIDs {
			if id != pathID {
				others = append(others, id)
			}
		}
	}
	r.mu.RUnlock()

	if serial == "" {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, pathID)
	}

	sessions, _ := r.hooks()

	var conflicting []string

	if bound && sessions != nil {
		for _, id := range others {
			if sessions.HasSession(id) {
				conflicting = append(conflicting, id)
			}
		}
	}

	stillBound := bound
	if !bound && sessions != nil {
		for _, id := range others {
			if sessions.HasSession(id) {
				stillBound = true

				break
			}
		}
	}

	r.mu.Lock()
	dev, ok := r.devices[serial]
	if !ok {
		r.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrDeviceNotFound, pathID)
	}

	dev.SessionBound = stillBound
	event := models.DeviceEvent{
		Type:            models.DeviceEventTransition,
		Serial:          serial,
		PathID:          pathID,
		PreviousPathIDs: conflicting,
		ModelName:       dev.ModelName,
		Availability:    dev.Availability,
		Timestamp:       r.clock.Now(),
	}
	r.mu.Unlock()

	if len(conflicting) > 0 {
		r.logger.Warn().
			Str("serial", serial).
			Str("path_id", pathID).
			Strs("existing_sessions", conflicting).
			Msg("Session bound on a new path while another path of the device still holds one")

		r.publish(ctx, []models.DeviceEvent{event})
	}

	return nil
}

func (r *Registry) publish(ctx context.Context, events []models.DeviceEvent) {
	if len(events) == 0 {
		return
	}

	_, sink := r.hooks()
	if sink == nil {
		return
	}

	for i := range events {
		if err := sink.PublishDeviceEvent(ctx, events[i]); err != nil {
			r.logger.Warn().
				Err(err).
				Str("event", string(events[i].Type)).
				Str("serial", events[i].Serial).
				Msg("Failed to publish device event")
		}
	}
}

// SerialFromServiceName extracts the serial from an mDNS instance name of
// the form adb-<serial>-<suffix>. It returns "" for other names.
func SerialFromServiceName(name string) string {
	rest, ok := strings.CutPrefix(name, "adb-")
	if !ok {
		return ""
	}

	idx := strings.LastIndex(rest, "-")
	if idx <= 0 {
		return ""
	}

	return rest[:idx]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

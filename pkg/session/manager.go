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

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/carverauto/devicelink/pkg/logger"
)

type session struct {
	deviceID   string
	state      State
	config     Configuration
	takeover   TakeoverFunc
	requester  Requester
	automation Automation
	createdAt  time.Time
	lastUsedAt time.Time
	errMsg     string
}

func (s *session) info() Info {
	return Info{
		DeviceID:     s.deviceID,
		State:        s.state,
		Config:       s.config,
		CreatedAt:    s.createdAt,
		LastUsedAt:   s.lastUsedAt,
		ErrorMessage: s.errMsg,
	}
}

// Manager owns every device session. It is constructed once at startup and
// shared by reference.
type Manager struct {
	factory Factory
	global  GlobalConfigSource
	devices DeviceResolver
	logger  logger.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	pending  map[string]State
	failed   map[string]string

	locks sync.Map

	streamMu sync.Mutex
	streams  map[string]*CancelToken
}

// Option configures a Manager.
type Option func(*Manager)

// WithDeviceResolver wires alias resolution and binding updates.
func WithDeviceResolver(r DeviceResolver) Option {
	return func(m *Manager) { m.devices = r }
}

// WithGlobalConfig wires the source used by GetOrAutoInitialize.
func WithGlobalConfig(src GlobalConfigSource) Option {
	return func(m *Manager) { m.global = src }
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(factory Factory, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		logger:   log,
		now:      time.Now,
		sessions: make(map[string]*session),
		pending:  make(map[string]State),
		failed:   make(map[string]string),
		streams:  make(map[string]*CancelToken),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// lockFor returns the device lock, creating it atomically on first use.
func (m *Manager) lockFor(deviceID string) *semaphore.Weighted {
	if v, ok := m.locks.Load(deviceID); ok {
		return v.(*semaphore.Weighted)
	}

	v, _ := m.locks.LoadOrStore(deviceID, semaphore.NewWeighted(1))

	return v.(*semaphore.Weighted)
}

func (m *Manager) defaultTakeover(deviceID string) TakeoverFunc {
	return func(message string) {
		m.logger.Warn().Str("device_id", deviceID).Str("message", message).
			Msg("Automation requested manual takeover")
	}
}

// Initialize creates the session for deviceID. An existing session is
// returned unchanged unless opts.Force is set. A held device lock fails
// with ErrDeviceBusy instead of waiting.
func (m *Manager) Initialize(ctx context.Context, deviceID string, cfg Configuration, opts InitOptions) (Info, error) {
	if cfg.Model.BaseURL == "" {
		return Info{}, &ConfigurationError{DeviceID: deviceID, Reason: "model base_url is not configured"}
	}

	if !opts.Force {
		if info, ok := m.lookup(deviceID); ok {
			return info, nil
		}
	}

	sem := m.lockFor(deviceID)
	if !sem.TryAcquire(1) {
		return Info{}, fmt.Errorf("%w: %s is processing a request", ErrDeviceBusy, deviceID)
	}
	defer sem.Release(1)

	m.mu.Lock()
	if existing, ok := m.sessions[deviceID]; ok && !opts.Force {
		info := existing.info()
		m.mu.Unlock()

		return info, nil
	}

	m.pending[deviceID] = StateInitializing
	m.mu.Unlock()

	takeover := opts.Takeover
	if takeover == nil {
		takeover = m.defaultTakeover(deviceID)
	}

	if cfg.Agent.DeviceID == "" {
		cfg.Agent.DeviceID = deviceID
	}

	requester, automation, err := m.build(cfg, takeover)
	if err != nil {
		m.mu.Lock()
		delete(m.pending, deviceID)
		old := m.sessions[deviceID]
		delete(m.sessions, deviceID)
		m.failed[deviceID] = err.Error()
		m.mu.Unlock()

		m.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to initialize session")

		if old != nil {
			m.shutdown(old)
			m.notifyBinding(ctx, deviceID, false)
		}

		return Info{}, fmt.Errorf("%w: %s: %w", ErrInitializationFailed, deviceID, err)
	}

	now := m.now()
	s := &session{
		deviceID:   deviceID,
		state:      StateIdle,
		config:     cfg,
		takeover:   takeover,
		requester:  requester,
		automation: automation,
		createdAt:  now,
		lastUsedAt: now,
	}

	m.mu.Lock()
	delete(m.pending, deviceID)
	delete(m.failed, deviceID)
	old := m.sessions[deviceID]
	m.sessions[deviceID] = s
	info := s.info()
	m.mu.Unlock()

	if old != nil {
		m.shutdown(old)
	}

	m.logger.Info().Str("device_id", deviceID).Str("model", cfg.Model.ModelName).Msg("Session initialized")

	m.notifyBinding(ctx, deviceID, true)

	return info, nil
}

// build constructs a requester and automation pair, converting a panicking
// factory into an error.
func (m *Manager) build(cfg Configuration, takeover TakeoverFunc) (req Requester, auto Automation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()

	req, err = m.factory.NewRequester(cfg.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("requester: %w", err)
	}

	auto, err = m.factory.NewAutomation(cfg, req, takeover)
	if err != nil {
		return nil, nil, fmt.Errorf("automation: %w", err)
	}

	return req, auto, nil
}

// GetOrAutoInitialize returns the session for deviceID, creating it from the
// global configuration when absent.
func (m *Manager) GetOrAutoInitialize(ctx context.Context, deviceID string) (Info, error) {
	id := m.resolveID(deviceID)

	if info, ok := m.lookup(id); ok {
		return info, nil
	}

	if m.global == nil {
		return Info{}, &ConfigurationError{DeviceID: id, Reason: "no global configuration source"}
	}

	model, err := m.global.EffectiveModelConfig(ctx)
	if err != nil {
		return Info{}, &ConfigurationError{DeviceID: id, Reason: err.Error()}
	}

	if model.BaseURL == "" {
		return Info{}, &ConfigurationError{DeviceID: id, Reason: "model base_url is not configured"}
	}

	m.logger.Info().Str("device_id", id).Msg("Auto-initializing session from global configuration")

	return m.Initialize(ctx, id, Configuration{Model: model, Agent: AgentConfig{DeviceID: id}}, InitOptions{})
}

// WithExclusiveAccess runs fn while holding the device lock. A failure or
// panic in fn marks the session ERROR before the lock is released; panics
// are re-raised.
func (m *Manager) WithExclusiveAccess(
	ctx context.Context, deviceID string, policy AcquirePolicy, fn func(ctx context.Context, a Automation) error,
) error {
	id, s, err := m.acquire(ctx, deviceID, policy)
	if err != nil {
		return err
	}

	sem := m.lockFor(id)

	defer func() {
		if r := recover(); r != nil {
			m.finish(s, fmt.Errorf("panic: %v", r))
			sem.Release(1)
			panic(r)
		}
	}()

	err = fn(ctx, s.automation)

	m.finish(s, err)
	sem.Release(1)

	return err
}

// acquire resolves the id, takes the device lock under policy and marks the
// session BUSY. A Busy outcome never touches session state.
func (m *Manager) acquire(ctx context.Context, deviceID string, policy AcquirePolicy) (string, *session, error) {
	id := m.resolveID(deviceID)

	if _, ok := m.lookup(id); !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrNotInitialized, deviceID)
	}

	sem := m.lockFor(id)
	if err := policy.acquire(ctx, sem, id); err != nil {
		return "", nil, err
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		sem.Release(1)

		return "", nil, fmt.Errorf("%w: %s", ErrNotInitialized, deviceID)
	}

	s.state = StateBusy
	s.lastUsedAt = m.now()
	m.mu.Unlock()

	m.logger.Debug().Str("device_id", id).Stringer("policy", policy).Msg("Device lock acquired")

	return id, s, nil
}

func (m *Manager) finish(s *session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil && !errors.Is(err, ErrTurnCanceled) {
		s.state = StateError
		s.errMsg = err.Error()

		m.logger.Error().Err(err).Str("device_id", s.deviceID).Msg("Session operation failed")

		return
	}

	s.state = StateIdle
	s.errMsg = ""
}

// Reset rebuilds the automation from the last accepted configuration,
// clearing its working context. It fails with ErrDeviceBusy rather than
// waiting behind a running operation.
func (m *Manager) Reset(deviceID string) (Info, error) {
	id := m.resolveID(deviceID)

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotInitialized, deviceID)
	}

	sem := m.lockFor(id)
	if !sem.TryAcquire(1) {
		return Info{}, fmt.Errorf("%w: %s", ErrDeviceBusy, id)
	}
	defer sem.Release(1)

	m.mu.RLock()
	cfg, takeover, old := s.config, s.takeover, s.automation
	m.mu.RUnlock()

	requester, automation, err := m.build(cfg, takeover)
	if err != nil {
		m.mu.Lock()
		s.state = StateError
		s.errMsg = err.Error()
		m.mu.Unlock()

		return Info{}, fmt.Errorf("%w: reset %s: %w", ErrInitializationFailed, id, err)
	}

	m.mu.Lock()
	s.requester = requester
	s.automation = automation
	s.state = StateIdle
	s.errMsg = ""
	s.lastUsedAt = m.now()
	info := s.info()
	m.mu.Unlock()

	m.shutdownAutomation(id, old)

	m.logger.Info().Str("device_id", id).Msg("Session reset")

	return info, nil
}

// Destroy shuts the automation down best-effort and always removes the
// session and its configuration.
func (m *Manager) Destroy(ctx context.Context, deviceID string) {
	id := m.resolveID(deviceID)

	m.Abort(id)

	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	delete(m.pending, id)
	delete(m.failed, id)
	m.mu.Unlock()

	if s != nil {
		m.shutdown(s)
		m.notifyBinding(ctx, id, false)
	}

	m.logger.Info().Str("device_id", id).Msg("Session destroyed")
}

// DestroyAll destroys every session.
func (m *Manager) DestroyAll(ctx context.Context) {
	for _, info := range m.List() {
		m.Destroy(ctx, info.DeviceID)
	}
}

func (m *Manager) shutdown(s *session) {
	m.shutdownAutomation(s.deviceID, s.automation)
}

func (m *Manager) shutdownAutomation(deviceID string, a Automation) {
	if a == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn().Str("device_id", deviceID).Interface("panic", r).
				Msg("Automation reset panicked during shutdown")
		}
	}()

	a.Reset()
}

// UpdateConfig re-initializes the session with the given overrides; nil
// keeps the current value.
func (m *Manager) UpdateConfig(ctx context.Context, deviceID string, model *ModelConfig, agent *AgentConfig) (Info, error) {
	id := m.resolveID(deviceID)

	m.mu.RLock()
	s, ok := m.sessions[id]

	var (
		cfg      Configuration
		takeover TakeoverFunc
	)

	if ok {
		cfg, takeover = s.config, s.takeover
	}
	m.mu.RUnlock()

	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotInitialized, deviceID)
	}

	if model != nil {
		cfg.Model = *model
	}

	if agent != nil {
		cfg.Agent = *agent
	}

	return m.Initialize(ctx, id, cfg, InitOptions{Force: true, Takeover: takeover})
}

func (m *Manager) lookup(deviceID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[deviceID]
	if !ok {
		return Info{}, false
	}

	return s.info(), true
}

// Get returns the session for deviceID or one of its aliases.
func (m *Manager) Get(deviceID string) (Info, error) {
	if info, ok := m.lookup(m.resolveID(deviceID)); ok {
		return info, nil
	}

	return Info{}, fmt.Errorf("%w: %s", ErrNotInitialized, deviceID)
}

// List returns every session ordered by device id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))

	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })

	return out
}

// State reports the session state. A failed initialization leaves
// StateError without a session.
func (m *Manager) State(deviceID string) (State, error) {
	id := m.resolveID(deviceID)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.sessions[id]; ok {
		return s.state, nil
	}

	if st, ok := m.pending[id]; ok {
		return st, nil
	}

	if _, ok := m.failed[id]; ok {
		return StateError, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNotInitialized, deviceID)
}

// HasSession reports whether a session exists under exactly pathID.
func (m *Manager) HasSession(pathID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.sessions[pathID]

	return ok
}

// FindSessionBySerial returns the path id holding the session of the device
// with the given serial.
func (m *Manager) FindSessionBySerial(serial string) (string, bool) {
	if m.devices == nil {
		return "", false
	}

	dev, err := m.devices.ResolveByAnyPathID(serial)
	if err != nil {
		return "", false
	}

	candidates := append(dev.PathIDs(), dev.KnownPathIDs...)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range candidates {
		if _, ok := m.sessions[id]; ok {
			return id, true
		}
	}

	return "", false
}

// resolveID maps a serial or a stale path id onto the path id that owns the
// device's session. Unknown ids are returned unchanged.
func (m *Manager) resolveID(deviceID string) string {
	if m.HasSession(deviceID) {
		return deviceID
	}

	if id, ok := m.FindSessionBySerial(deviceID); ok {
		if id != deviceID {
			m.logger.Debug().Str("requested", deviceID).Str("resolved", id).Msg("Resolved device alias")
		}

		return id
	}

	return deviceID
}

func (m *Manager) notifyBinding(ctx context.Context, deviceID string, bound bool) {
	if m.devices == nil {
		return
	}

	if err := m.devices.UpdateSessionBinding(ctx, deviceID, bound); err != nil {
		m.logger.Debug().Err(err).Str("device_id", deviceID).Bool("bound", bound).
			Msg("Registry did not accept session binding")
	}
}

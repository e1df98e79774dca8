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
	"fmt"
)

// StreamingTurnFunc runs one streaming turn against a private automation
// whose model output is forwarded chunk by chunk.
type StreamingTurnFunc func(ctx context.Context, a Automation, token *CancelToken) error

// RunStreamingTurn holds the device lock for one streaming turn. The
// automation handed to fn starts from a copy of the session's working
// context and step count; that copy is merged back only when fn succeeds
// and the token was not canceled. A nil token gets a fresh one, reachable
// through Abort.
func (m *Manager) RunStreamingTurn(
	ctx context.Context, deviceID string, policy AcquirePolicy, sink ChunkFunc, token *CancelToken, fn StreamingTurnFunc,
) error {
	id, s, err := m.acquire(ctx, deviceID, policy)
	if err != nil {
		return err
	}

	sem := m.lockFor(id)

	if token == nil {
		token = NewCancelToken()
	}

	m.streamMu.Lock()
	m.streams[id] = token
	m.streamMu.Unlock()

	cleanup := func(turnErr error) {
		m.streamMu.Lock()
		if m.streams[id] == token {
			delete(m.streams, id)
		}
		m.streamMu.Unlock()

		m.finish(s, turnErr)
		sem.Release(1)
	}

	defer func() {
		if r := recover(); r != nil {
			cleanup(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	canonical := s.automation

	streaming, err := m.factory.NewAutomation(s.config, NewChunkingRequester(s.requester, sink, token), s.takeover)
	if err != nil {
		err = fmt.Errorf("streaming automation for %s: %w", id, err)
		cleanup(err)

		return err
	}

	streaming.SetWorkingContext(cloneMessages(canonical.WorkingContext()))
	streaming.SetStepCount(canonical.StepCount())

	m.logger.Debug().Str("device_id", id).Msg("Streaming turn started")

	err = fn(ctx, streaming, token)

	switch {
	case token.Canceled():
		m.logger.Info().Str("device_id", id).Msg("Streaming turn canceled, session context left untouched")
	case err == nil:
		canonical.SetWorkingContext(streaming.WorkingContext())
		canonical.SetStepCount(streaming.StepCount())
	}

	cleanup(err)

	return err
}

// Abort cancels the active streaming turn for deviceID. It returns false
// when none is active.
func (m *Manager) Abort(deviceID string) bool {
	m.streamMu.Lock()
	token, ok := m.streams[deviceID]
	m.streamMu.Unlock()

	if !ok {
		if id := m.resolveID(deviceID); id != deviceID {
			return m.Abort(id)
		}

		m.logger.Debug().Str("device_id", deviceID).Msg("No active streaming turn to abort")

		return false
	}

	m.logger.Info().Str("device_id", deviceID).Msg("Aborting streaming turn")
	token.Cancel()

	return true
}

// IsStreamingActive reports whether a streaming turn holds the device.
func (m *Manager) IsStreamingActive(deviceID string) bool {
	m.streamMu.Lock()
	_, ok := m.streams[deviceID]
	m.streamMu.Unlock()

	if ok {
		return true
	}

	if id := m.resolveID(deviceID); id != deviceID {
		m.streamMu.Lock()
		_, ok = m.streams[id]
		m.streamMu.Unlock()
	}

	return ok
}

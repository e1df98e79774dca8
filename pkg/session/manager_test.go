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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/devicelink/pkg/logger"
)

var testConfig = Configuration{Model: ModelConfig{BaseURL: "http://localhost:8000/v1", ModelName: "autoglm-phone-9b"}}

func newTestManager(t *testing.T, factory Factory, opts ...Option) *Manager {
	t.Helper()

	return NewManager(factory, logger.NewTestLogger(), opts...)
}

func TestInitialize_IdempotentUnlessForced(t *testing.T) {
	factory := newFakeFactory("ok")
	devices := newFakeDevices("S1", "A")
	m := newTestManager(t, factory, WithDeviceResolver(devices))
	ctx := context.Background()

	first, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, first.State)
	assert.Equal(t, "A", first.Config.Agent.DeviceID)

	again, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
	assert.Len(t, factory.built, 1)

	_, err = m.Initialize(ctx, "A", testConfig, InitOptions{Force: true})
	require.NoError(t, err)
	assert.Len(t, factory.built, 2)
	assert.Equal(t, 1, factory.automation(0).resets)

	bound, ok := devices.bound("A")
	assert.True(t, ok)
	assert.True(t, bound)
	assert.True(t, m.HasSession("A"))
}

func TestInitialize_RequiresBaseURL(t *testing.T) {
	m := newTestManager(t, newFakeFactory())

	_, err := m.Initialize(context.Background(), "A", Configuration{}, InitOptions{})

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "A", cfgErr.DeviceID)
}

func TestInitialize_FailureRollsBack(t *testing.T) {
	factory := newFakeFactory()
	m := newTestManager(t, factory)
	ctx := context.Background()

	_, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	factory.automationErr = errEndpointDown

	_, err = m.Initialize(ctx, "A", testConfig, InitOptions{Force: true})
	require.ErrorIs(t, err, ErrInitializationFailed)
	require.ErrorIs(t, err, errEndpointDown)

	assert.False(t, m.HasSession("A"))
	assert.Empty(t, m.List())

	state, err := m.State("A")
	require.NoError(t, err)
	assert.Equal(t, StateError, state)

	_, err = m.Get("A")
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitialize_BusyDeviceFailsFast(t *testing.T) {
	m := newTestManager(t, newFakeFactory())
	ctx := context.Background()

	_, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- m.WithExclusiveAccess(ctx, "A", NonBlocking(), func(context.Context, Automation) error {
			close(entered)
			<-release

			return nil
		})
	}()

	<-entered

	_, err = m.Initialize(ctx, "A", testConfig, InitOptions{Force: true})
	require.ErrorIs(t, err, ErrDeviceBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestGetOrAutoInitialize(t *testing.T) {
	ctx := context.Background()

	noSource := newTestManager(t, newFakeFactory())
	_, err := noSource.GetOrAutoInitialize(ctx, "A")

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	empty := newTestManager(t, newFakeFactory(), WithGlobalConfig(staticGlobal{}))
	_, err = empty.GetOrAutoInitialize(ctx, "A")
	require.ErrorAs(t, err, &cfgErr)
	assert.False(t, empty.HasSession("A"))

	m := newTestManager(t, newFakeFactory(), WithGlobalConfig(staticGlobal{model: testConfig.Model}))

	info, err := m.GetOrAutoInitialize(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, testConfig.Model.BaseURL, info.Config.Model.BaseURL)
	assert.Equal(t, "A", info.Config.Agent.DeviceID)

	again, err := m.GetOrAutoInitialize(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, info.CreatedAt, again.CreatedAt)
}

func TestWithExclusiveAccess_NotInitialized(t *testing.T) {
	m := newTestManager(t, newFakeFactory())

	err := m.WithExclusiveAccess(context.Background(), "A", NonBlocking(), func(context.Context, Automation) error {
		t.Fatal("must not run")

		return nil
	})
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestWithExclusiveAccess_OnlyOneHolder(t *testing.T) {
	m := newTestManager(t, newFakeFactory())
	ctx := context.Background()

	_, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- m.WithExclusiveAccess(ctx, "A", WaitForever(), func(context.Context, Automation) error {
			close(entered)
			<-release

			return nil
		})
	}()

	<-entered

	var (
		wg   sync.WaitGroup
		busy sync.Map
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			err := m.WithExclusiveAccess(ctx, "A", NonBlocking(), func(context.Context, Automation) error {
				return nil
			})
			busy.Store(i, errors.Is(err, ErrDeviceBusy))
		}(i)
	}

	wg.Wait()

	busy.Range(func(_, v any) bool {
		assert.True(t, v.(bool))

		return true
	})

	state, err := m.State("A")
	require.NoError(t, err)
	assert.Equal(t, StateBusy, state)

	close(release)
	require.NoError(t, <-done)

	state, err = m.State("A")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
}

func TestWithExclusiveAccess_ErrorThenRecovery(t *testing.T) {
	m := newTestManager(t, newFakeFactory())
	ctx := context.Background()

	_, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	err = m.WithExclusiveAccess(ctx, "A", NonBlocking(), func(context.Context, Automation) error {
		return errEndpointDown
	})
	require.ErrorIs(t, err, errEndpointDown)

	info, err := m.Get("A")
	require.NoError(t, err)
	assert.Equal(t, StateError, info.State)
	assert.Equal(t, errEndpointDown.Error(), info.ErrorMessage)

	require.NoError(t, m.WithExclusiveAccess(ctx, "A", NonBlocking(), func(context.Context, Automation) error {
		return nil
	}))

	info, err = m.Get("A")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, info.State)
	assert.Empty(t, info.ErrorMessage)
}

func TestWithExclusiveAccess_PanicReleasesLock(t *testing.T) {
	m := newTestManager(t, newFakeFactory())
	ctx := context.Background()

	_, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	assert.PanicsWithValue(t, "tap failed", func() {
		_ = m.WithExclusiveAccess(ctx, "A", NonBlocking(), func(context.Context, Automation) error {
			panic("tap failed")
		})
	})

	state, err := m.State("A")
	require.NoError(t, err)
	assert.Equal(t, StateError, state)

	require.NoError(t, m.WithExclusiveAccess(ctx, "A", NonBlocking(), func(context.Context, Automation) error {
		return nil
	}))
}

func TestWithExclusiveAccess_WaitPolicies(t *testing.T) {
	m := newTestManager(t, newFakeFactory())
	ctx := context.Background()

	_, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- m.WithExclusiveAccess(ctx, "A", NonBlocking(), func(context.Context, Automation) error {
			close(entered)
			<-release

			return nil
		})
	}()

	<-entered

	noop := func(context.Context, Automation) error { return nil }

	err = m.WithExclusiveAccess(ctx, "A", WaitFor(20*time.Millisecond), noop)
	require.ErrorIs(t, err, ErrDeviceBusy)

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	err = m.WithExclusiveAccess(canceled, "A", WaitForever(), noop)
	require.ErrorIs(t, err, context.Canceled)

	waited := make(chan error, 1)

	go func() {
		waited <- m.WithExclusiveAccess(ctx, "A", WaitFor(5*time.Second), noop)
	}()

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-waited)
}

func TestReset(t *testing.T) {
	factory := newFakeFactory("ok")
	m := newTestManager(t, factory)
	ctx := context.Background()

	_, err := m.Reset("A")
	require.ErrorIs(t, err, ErrNotInitialized)

	_, err = m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	require.NoError(t, m.WithExclusiveAccess(ctx, "A", NonBlocking(), func(ctx context.Context, a Automation) error {
		_, err := a.StepTurn(ctx, "open settings")

		return err
	}))
	require.Equal(t, 1, factory.automation(0).StepCount())

	info, err := m.Reset("A")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, info.State)
	assert.Equal(t, testConfig.Model, info.Config.Model)
	assert.Len(t, factory.built, 2)
	assert.Empty(t, factory.automation(1).WorkingContext())
	assert.Equal(t, 1, factory.automation(0).resets)
}

func TestReset_BusyFailsFast(t *testing.T) {
	m := newTestManager(t, newFakeFactory())
	ctx := context.Background()

	_, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	err = m.WithExclusiveAccess(ctx, "A", NonBlocking(), func(context.Context, Automation) error {
		_, rerr := m.Reset("A")
		assert.ErrorIs(t, rerr, ErrDeviceBusy)

		return nil
	})
	require.NoError(t, err)
}

func TestDestroy_AlwaysRemoves(t *testing.T) {
	factory := newFakeFactory()
	devices := newFakeDevices("S1", "A")
	m := newTestManager(t, factory, WithDeviceResolver(devices))
	ctx := context.Background()

	_, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	factory.automation(0).panicOnReset = true

	m.Destroy(ctx, "A")

	assert.False(t, m.HasSession("A"))
	assert.Equal(t, 1, factory.automation(0).resets)

	bound, ok := devices.bound("A")
	assert.True(t, ok)
	assert.False(t, bound)

	_, err = m.State("A")
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestAliasResolutionAfterPathRotation(t *testing.T) {
	devices := newFakeDevices("S1", "A")
	m := newTestManager(t, newFakeFactory(), WithDeviceResolver(devices))
	ctx := context.Background()

	_, err := m.Initialize(ctx, "A", testConfig, InitOptions{})
	require.NoError(t, err)

	devices.rotate("10.0.0.5:5555")

	id, ok := m.FindSessionBySerial("S1")
	require.True(t, ok)
	assert.Equal(t, "A", id)

	var ran bool

	require.NoError(t, m.WithExclusiveAccess(ctx, "10.0.0.5:5555", NonBlocking(), func(context.Context, Automation) error {
		ran = true

		return nil
	}))
	assert.True(t, ran)

	info, err := m.Get("S1")
	require.NoError(t, err)
	assert.Equal(t, "A", info.DeviceID)
}

func TestUpdateConfigAndList(t *testing.T) {
	m := newTestManager(t, newFakeFactory())
	ctx := context.Background()

	_, err := m.UpdateConfig(ctx, "A", nil, nil)
	require.ErrorIs(t, err, ErrNotInitialized)

	for _, id := range []string{"B", "A"} {
		_, err = m.Initialize(ctx, id, testConfig, InitOptions{})
		require.NoError(t, err)
	}

	model := testConfig.Model
	model.ModelName = "glm-4.6v"

	info, err := m.UpdateConfig(ctx, "A", &model, nil)
	require.NoError(t, err)
	assert.Equal(t, "glm-4.6v", info.Config.Model.ModelName)
	assert.Equal(t, "A", info.Config.Agent.DeviceID)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].DeviceID)
	assert.Equal(t, "B", list[1].DeviceID)

	m.DestroyAll(ctx)
	assert.Empty(t, m.List())
}

func TestAcquirePolicyString(t *testing.T) {
	assert.Equal(t, "non-blocking", NonBlocking().String())
	assert.Equal(t, "non-blocking", WaitFor(0).String())
	assert.Equal(t, "wait 2s", WaitFor(2*time.Second).String())
	assert.Equal(t, "wait forever", WaitForever().String())
}

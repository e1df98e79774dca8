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
	"sync/atomic"

	"github.com/carverauto/devicelink/pkg/models"
	"github.com/carverauto/devicelink/pkg/registry"
)

var errEndpointDown = errors.New("endpoint unreachable")

// scriptRequester replays chunks then returns the joined content.
type scriptRequester struct {
	chunks []string
	gate   chan struct{}
	calls  atomic.Int32
}

func (r *scriptRequester) Request(ctx context.Context, messages []Message, onChunk ChunkFunc) (Message, error) {
	r.calls.Add(1)

	content := ""

	for i, c := range r.chunks {
		if i == 1 && r.gate != nil {
			select {
			case <-r.gate:
			case <-ctx.Done():
				return Message{}, ctx.Err()
			}
		}

		if onChunk != nil {
			onChunk(c)
		}

		content += c
	}

	return Message{Role: "assistant", Content: content}, nil
}

type fakeAutomation struct {
	mu           sync.Mutex
	requester    Requester
	messages     []Message
	steps        int
	resets       int
	panicOnReset bool
}

func (a *fakeAutomation) RunTurn(ctx context.Context, input string) (TurnResult, error) {
	return a.StepTurn(ctx, input)
}

func (a *fakeAutomation) StepTurn(ctx context.Context, input string) (TurnResult, error) {
	a.mu.Lock()
	msgs := append(cloneMessages(a.messages), Message{Role: "user", Content: input})
	a.mu.Unlock()

	reply, err := a.requester.Request(ctx, msgs, nil)
	if err != nil {
		return TurnResult{}, err
	}

	a.mu.Lock()
	a.messages = append(msgs, reply)
	a.steps++
	a.mu.Unlock()

	return TurnResult{Thinking: reply.Content, Success: true, Finished: true}, nil
}

func (a *fakeAutomation) WorkingContext() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	return cloneMessages(a.messages)
}

func (a *fakeAutomation) SetWorkingContext(messages []Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.messages = messages
}

func (a *fakeAutomation) StepCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.steps
}

func (a *fakeAutomation) SetStepCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.steps = n
}

func (a *fakeAutomation) Reset() {
	a.mu.Lock()
	a.resets++
	a.messages = nil
	a.steps = 0
	boom := a.panicOnReset
	a.mu.Unlock()

	if boom {
		panic("reset exploded")
	}
}

type fakeFactory struct {
	mu            sync.Mutex
	requester     Requester
	requesterErr  error
	automationErr error
	built         []*fakeAutomation
}

func newFakeFactory(chunks ...string) *fakeFactory {
	return &fakeFactory{requester: &scriptRequester{chunks: chunks}}
}

func (f *fakeFactory) NewRequester(ModelConfig) (Requester, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.requesterErr != nil {
		return nil, f.requesterErr
	}

	return f.requester, nil
}

func (f *fakeFactory) NewAutomation(_ Configuration, requester Requester, _ TakeoverFunc) (Automation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.automationErr != nil {
		return nil, f.automationErr
	}

	a := &fakeAutomation{requester: requester}
	f.built = append(f.built, a)

	return a, nil
}

func (f *fakeFactory) automation(i int) *fakeAutomation {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.built[i]
}

type staticGlobal struct {
	model ModelConfig
	err   error
}

func (g staticGlobal) EffectiveModelConfig(context.Context) (ModelConfig, error) {
	return g.model, g.err
}

// fakeDevices resolves every path in a single device record.
type fakeDevices struct {
	mu       sync.Mutex
	device   models.ManagedDevice
	bindings map[string]bool
}

func newFakeDevices(serial string, paths ...string) *fakeDevices {
	d := &fakeDevices{bindings: make(map[string]bool)}
	d.device.Serial = serial

	for _, p := range paths {
		d.device.Connections = append(d.device.Connections, models.DeviceConnection{
			PathID: p, Transport: models.TransportCable, Liveness: models.LivenessReady,
		})
	}

	d.device.RememberPathIDs(paths...)

	return d
}

func (d *fakeDevices) ResolveByAnyPathID(id string) (models.ManagedDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id == d.device.Serial {
		return d.device.Clone(), nil
	}

	for _, known := range d.device.KnownPathIDs {
		if known == id {
			return d.device.Clone(), nil
		}
	}

	return models.ManagedDevice{}, registry.ErrDeviceNotFound
}

func (d *fakeDevices) UpdateSessionBinding(_ context.Context, pathID string, bound bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.bindings[pathID] = bound

	return nil
}

func (d *fakeDevices) rotate(paths ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.device.Connections = nil

	for _, p := range paths {
		d.device.Connections = append(d.device.Connections, models.DeviceConnection{
			PathID: p, Transport: models.TransportNetwork, Liveness: models.LivenessReady,
		})
	}

	d.device.RememberPathIDs(paths...)
}

func (d *fakeDevices) bound(pathID string) (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.bindings[pathID]

	return v, ok
}

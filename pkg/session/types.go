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

// Package session owns one automation session per device and arbitrates
// exclusive access to it.
package session

import (
	"context"
	"time"

	"github.com/carverauto/devicelink/pkg/models"
)

// State is the lifecycle state of a session.
type State string

const (
	StateInitializing State = "initializing"
	StateIdle         State = "idle"
	StateBusy         State = "busy"
	StateError        State = "error"
)

// ModelConfig describes the model endpoint a session talks to.
type ModelConfig struct {
	BaseURL          string  `json:"base_url"`
	APIKey           string  `json:"api_key,omitempty"`
	ModelName        string  `json:"model_name,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	TopP             float64 `json:"top_p,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
}

// AgentConfig holds per-device automation settings.
type AgentConfig struct {
	DeviceID     string `json:"device_id"`
	MaxSteps     int    `json:"max_steps,omitempty"`
	Lang         string `json:"lang,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Verbose      bool   `json:"verbose,omitempty"`
}

// Configuration is the accepted configuration of a session.
type Configuration struct {
	Model ModelConfig `json:"model"`
	Agent AgentConfig `json:"agent"`
}

// Message is one entry of an automation's working context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnResult is the outcome of one automation turn or step.
type TurnResult struct {
	Thinking string `json:"thinking,omitempty"`
	Action   string `json:"action,omitempty"`
	Message  string `json:"message,omitempty"`
	Success  bool   `json:"success"`
	Finished bool   `json:"finished"`
}

// ChunkFunc receives incremental model output as it is produced.
type ChunkFunc func(chunk string)

// TakeoverFunc is invoked when the automation asks a human to take over.
type TakeoverFunc func(message string)

// Requester sends a conversation to the model endpoint.
type Requester interface {
	Request(ctx context.Context, messages []Message, onChunk ChunkFunc) (Message, error)
}

// Automation drives a device through model-planned actions.
type Automation interface {
	RunTurn(ctx context.Context, input string) (TurnResult, error)
	StepTurn(ctx context.Context, input string) (TurnResult, error)
	WorkingContext() []Message
	SetWorkingContext(messages []Message)
	StepCount() int
	SetStepCount(n int)
	Reset()
}

// Factory builds requesters and automation objects.
type Factory interface {
	NewRequester(cfg ModelConfig) (Requester, error)
	NewAutomation(cfg Configuration, requester Requester, takeover TakeoverFunc) (Automation, error)
}

// GlobalConfigSource returns the last known effective global model configuration.
type GlobalConfigSource interface {
	EffectiveModelConfig(ctx context.Context) (ModelConfig, error)
}

// DeviceResolver maps any device identifier onto its registry record and
// receives session binding updates.
type DeviceResolver interface {
	ResolveByAnyPathID(id string) (models.ManagedDevice, error)
	UpdateSessionBinding(ctx context.Context, pathID string, bound bool) error
}

// InitOptions tunes Initialize.
type InitOptions struct {
	Force    bool
	Takeover TakeoverFunc
}

// Info is a read-only view of a session.
type Info struct {
	DeviceID     string        `json:"device_id"`
	State        State         `json:"state"`
	Config       Configuration `json:"config"`
	CreatedAt    time.Time     `json:"created_at"`
	LastUsedAt   time.Time     `json:"last_used_at"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}

	return append([]Message(nil), in...)
}

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

// Package chat talks to OpenAI-compatible chat completion endpoints.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/session"
)

var (
	ErrUpstreamStatus = errors.New("model endpoint returned an error status")
	ErrStreamError    = errors.New("model endpoint reported a stream error")
	ErrEmptyReply     = errors.New("model endpoint returned no content")
)

const (
	completionsPath = "/chat/completions"
	maxErrorBody    = 4 << 10
	maxSSELine      = 1 << 20
	dataPrefix      = "data:"
	doneMarker      = "[DONE]"
)

type completionRequest struct {
	Model            string            `json:"model,omitempty"`
	Messages         []session.Message `json:"messages"`
	Stream           bool              `json:"stream"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	Temperature      float64           `json:"temperature,omitempty"`
	TopP             float64           `json:"top_p,omitempty"`
	FrequencyPenalty float64           `json:"frequency_penalty,omitempty"`
}

// Requester streams chat completions and reports every content delta.
type Requester struct {
	cfg    session.ModelConfig
	client *http.Client
	logger logger.Logger
}

var _ session.Requester = (*Requester)(nil)

// NewRequester returns a requester for cfg. A nil client uses http.DefaultClient.
func NewRequester(cfg session.ModelConfig, client *http.Client, log logger.Logger) *Requester {
	if client == nil {
		client = http.DefaultClient
	}

	return &Requester{cfg: cfg, client: client, logger: log}
}

func (r *Requester) endpoint() string {
	return strings.TrimRight(r.cfg.BaseURL, "/") + completionsPath
}

// Request sends messages and returns the assembled assistant reply.
func (r *Requester) Request(ctx context.Context, messages []session.Message, onChunk session.ChunkFunc) (session.Message, error) {
	body, err := json.Marshal(completionRequest{
		Model:            r.cfg.ModelName,
		Messages:         messages,
		Stream:           true,
		MaxTokens:        r.cfg.MaxTokens,
		Temperature:      r.cfg.Temperature,
		TopP:             r.cfg.TopP,
		FrequencyPenalty: r.cfg.FrequencyPenalty,
	})
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(), bytes.NewReader(body))
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to build completion request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	r.logger.Debug().
		Str("endpoint", r.endpoint()).
		Str("model", r.cfg.ModelName).
		Int("messages", len(messages)).
		Msg("Sending completion request")

	resp, err := r.client.Do(req)
	if err != nil {
		return session.Message{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		detail := gjson.GetBytes(raw, "error.message").String()
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}

		return session.Message{}, fmt.Errorf("%w: %d %s", ErrUpstreamStatus, resp.StatusCode, detail)
	}

	content, err := readStream(resp.Body, onChunk)
	if err != nil {
		return session.Message{}, err
	}

	if content == "" {
		return session.Message{}, ErrEmptyReply
	}

	return session.Message{Role: "assistant", Content: content}, nil
}

// readStream consumes server-sent events until [DONE] or EOF. A response
// that is plain JSON rather than an event stream is accepted as one chunk.
func readStream(body io.Reader, onChunk session.ChunkFunc) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSSELine)

	var (
		out     strings.Builder
		plain   bytes.Buffer
		sawData bool
	)

	for scanner.Scan() {
		line := scanner.Bytes()

		if !bytes.HasPrefix(line, []byte(dataPrefix)) {
			if !sawData {
				plain.Write(line)
				plain.WriteByte('\n')
			}

			continue
		}

		sawData = true

		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if string(payload) == doneMarker {
			break
		}

		if msg := gjson.GetBytes(payload, "error.message"); msg.Exists() {
			return "", fmt.Errorf("%w: %s", ErrStreamError, msg.String())
		}

		delta := gjson.GetBytes(payload, "choices.0.delta.content").String()
		if delta == "" {
			continue
		}

		out.WriteString(delta)

		if onChunk != nil {
			onChunk(delta)
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read completion stream: %w", err)
	}

	if !sawData && plain.Len() > 0 {
		content := gjson.GetBytes(plain.Bytes(), "choices.0.message.content").String()
		if content != "" && onChunk != nil {
			onChunk(content)
		}

		return content, nil
	}

	return out.String(), nil
}

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

package chat

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/session"
)

const defaultMaxSteps = 20

var (
	thinkPattern    = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	answerPattern   = regexp.MustCompile(`(?s)<answer>(.*?)</answer>`)
	finishPattern   = regexp.MustCompile(`(?s)^finish\(\s*message\s*=\s*"(.*)"\s*\)$`)
	takeoverPattern = regexp.MustCompile(`(?s)^do\(\s*action\s*=\s*"Take_over"\s*,\s*message\s*=\s*"(.*)"\s*\)$`)
)

// Conversation keeps the working context of one device session and relays
// each step to the model. Planned device actions are reported in the turn
// result; executing them belongs to the caller.
type Conversation struct {
	cfg       session.Configuration
	requester session.Requester
	takeover  session.TakeoverFunc
	logger    logger.Logger

	mu       sync.Mutex
	messages []session.Message
	steps    int
}

var _ session.Automation = (*Conversation)(nil)

func NewConversation(
	cfg session.Configuration, requester session.Requester, takeover session.TakeoverFunc, log logger.Logger,
) *Conversation {
	return &Conversation{cfg: cfg, requester: requester, takeover: takeover, logger: log}
}

func (c *Conversation) maxSteps() int {
	if c.cfg.Agent.MaxSteps > 0 {
		return c.cfg.Agent.MaxSteps
	}

	return defaultMaxSteps
}

// RunTurn steps until the model finishes or the step limit is reached.
func (c *Conversation) RunTurn(ctx context.Context, input string) (session.TurnResult, error) {
	res, err := c.StepTurn(ctx, input)

	for err == nil && !res.Finished {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		res, err = c.StepTurn(ctx, "")
	}

	return res, err
}

// StepTurn sends one request. input is appended as a user message when set.
func (c *Conversation) StepTurn(ctx context.Context, input string) (session.TurnResult, error) {
	c.mu.Lock()
	if len(c.messages) == 0 && c.cfg.Agent.SystemPrompt != "" {
		c.messages = append(c.messages, session.Message{Role: "system", Content: c.cfg.Agent.SystemPrompt})
	}

	if input != "" {
		c.messages = append(c.messages, session.Message{Role: "user", Content: input})
	}

	history := append([]session.Message(nil), c.messages...)
	c.mu.Unlock()

	reply, err := c.requester.Request(ctx, history, nil)
	if err != nil {
		return session.TurnResult{Message: err.Error()}, err
	}

	c.mu.Lock()
	c.messages = append(c.messages, reply)
	c.steps++
	steps := c.steps
	c.mu.Unlock()

	res := parseReply(reply.Content)

	if m := takeoverPattern.FindStringSubmatch(res.Action); m != nil {
		if c.takeover != nil {
			c.takeover(m[1])
		}

		res.Message = m[1]
		res.Finished = true
	}

	if !res.Finished && steps >= c.maxSteps() {
		res.Message = "Max steps reached"
		res.Finished = true
	}

	c.logger.Debug().
		Str("device", c.cfg.Agent.DeviceID).
		Int("step", steps).
		Bool("finished", res.Finished).
		Msg("Automation step completed")

	return res, nil
}

// parseReply splits a <think>/<answer> reply. A reply without an answer
// block is treated as a final plain-text answer.
func parseReply(content string) session.TurnResult {
	res := session.TurnResult{Success: true}

	if m := thinkPattern.FindStringSubmatch(content); m != nil {
		res.Thinking = strings.TrimSpace(m[1])
	}

	m := answerPattern.FindStringSubmatch(content)
	if m == nil {
		res.Message = strings.TrimSpace(thinkPattern.ReplaceAllString(content, ""))
		res.Finished = true

		return res
	}

	res.Action = strings.TrimSpace(m[1])

	if f := finishPattern.FindStringSubmatch(res.Action); f != nil {
		res.Message = f[1]
		res.Finished = true
	}

	return res
}

func (c *Conversation) WorkingContext() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]session.Message(nil), c.messages...)
}

func (c *Conversation) SetWorkingContext(messages []session.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append([]session.Message(nil), messages...)
}

func (c *Conversation) StepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.steps
}

func (c *Conversation) SetStepCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = n
}

func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = nil
	c.steps = 0
}

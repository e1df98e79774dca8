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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/session"
)

// completionServer replays scripted replies, one per request, as SSE deltas.
type completionServer struct {
	mu       sync.Mutex
	replies  []string
	requests []completionRequest
	auth     []string
}

func (s *completionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	reply := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")

	for _, part := range strings.SplitAfter(reply, " ") {
		chunk, _ := json.Marshal(map[string]interface{}{
			"choices": []interface{}{map[string]interface{}{"delta": map[string]string{"content": part}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
}

func newCompletionServer(t *testing.T, replies ...string) (*completionServer, session.ModelConfig) {
	t.Helper()

	cs := &completionServer{replies: replies}
	srv := httptest.NewServer(cs)
	t.Cleanup(srv.Close)

	return cs, session.ModelConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", ModelName: "autoglm-phone", MaxTokens: 3000}
}

func TestRequesterStreamsDeltas(t *testing.T) {
	cs, cfg := newCompletionServer(t, "hello from the model")

	var chunks []string

	reply, err := NewRequester(cfg, nil, logger.NewTestLogger()).Request(context.Background(),
		[]session.Message{{Role: "user", Content: "hi"}},
		func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)

	assert.Equal(t, session.Message{Role: "assistant", Content: "hello from the model"}, reply)
	assert.Equal(t, []string{"hello ", "from ", "the ", "model"}, chunks)

	require.Len(t, cs.requests, 1)
	assert.True(t, cs.requests[0].Stream)
	assert.Equal(t, "autoglm-phone", cs.requests[0].Model)
	assert.Equal(t, 3000, cs.requests[0].MaxTokens)
	assert.Equal(t, "Bearer sk-test", cs.auth[0])
}

func TestRequesterErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
			},
			wantErr: ErrUpstreamStatus,
		},
		{
			name: "stream error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, "data: {\"error\":{\"message\":\"overloaded\"}}\n\n")
			},
			wantErr: ErrStreamError,
		},
		{
			name: "empty",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, "data: [DONE]\n\n")
			},
			wantErr: ErrEmptyReply,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewRequester(session.ModelConfig{BaseURL: srv.URL}, srv.Client(), logger.NewTestLogger()).
				Request(context.Background(), nil, nil)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRequesterAcceptsPlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"done"}}]}`)
	}))
	defer srv.Close()

	var chunks []string

	reply, err := NewRequester(session.ModelConfig{BaseURL: srv.URL}, nil, logger.NewTestLogger()).
		Request(context.Background(), nil, func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)

	assert.Equal(t, "done", reply.Content)
	assert.Equal(t, []string{"done"}, chunks)
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    session.TurnResult
	}{
		{
			name:    "action",
			content: `<think>open the app</think><answer>do(action="Launch", app="Settings")</answer>`,
			want:    session.TurnResult{Thinking: "open the app", Action: `do(action="Launch", app="Settings")`, Success: true},
		},
		{
			name:    "finish",
			content: `<think>done</think><answer>finish(message="Wi-Fi enabled")</answer>`,
			want: session.TurnResult{
				Thinking: "done", Action: `finish(message="Wi-Fi enabled")`, Message: "Wi-Fi enabled", Success: true, Finished: true,
			},
		},
		{
			name:    "plain text",
			content: "<think>hmm</think> I cannot see the screen.",
			want:    session.TurnResult{Thinking: "hmm", Message: "I cannot see the screen.", Success: true, Finished: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseReply(tt.content))
		})
	}
}

func TestConversationRunTurn(t *testing.T) {
	cs, model := newCompletionServer(t,
		`<answer>do(action="Tap", element=[500,500])</answer>`,
		`<answer>finish(message="ok")</answer>`,
	)

	cfg := session.Configuration{Model: model, Agent: session.AgentConfig{DeviceID: "dev", SystemPrompt: "be brief"}}
	conv := NewConversation(cfg, NewRequester(model, nil, logger.NewTestLogger()), nil, logger.NewTestLogger())

	res, err := conv.RunTurn(context.Background(), "turn on wifi")
	require.NoError(t, err)

	assert.True(t, res.Finished)
	assert.Equal(t, "ok", res.Message)
	assert.Equal(t, 2, conv.StepCount())

	ctx := conv.WorkingContext()
	require.Len(t, ctx, 4)
	assert.Equal(t, "system", ctx[0].Role)
	assert.Equal(t, "user", ctx[1].Role)
	assert.Equal(t, "assistant", ctx[3].Role)

	require.Len(t, cs.requests, 2)
	assert.Len(t, cs.requests[1].Messages, 3)

	conv.Reset()
	assert.Empty(t, conv.WorkingContext())
	assert.Zero(t, conv.StepCount())
}

func TestConversationTakeoverAndStepLimit(t *testing.T) {
	_, model := newCompletionServer(t,
		`<answer>do(action="Take_over", message="enter the PIN")</answer>`,
		`<answer>do(action="Back")</answer>`,
	)

	var handed []string

	cfg := session.Configuration{Model: model, Agent: session.AgentConfig{MaxSteps: 2}}
	conv := NewConversation(cfg, NewRequester(model, nil, logger.NewTestLogger()), func(msg string) {
		handed = append(handed, msg)
	}, logger.NewTestLogger())

	res, err := conv.StepTurn(context.Background(), "unlock")
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Equal(t, []string{"enter the PIN"}, handed)

	res, err = conv.StepTurn(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Equal(t, "Max steps reached", res.Message)
}

func TestFactoryRejectsBadBaseURL(t *testing.T) {
	f := NewFactory(nil, logger.NewTestLogger())

	for _, u := range []string{"", "localhost:8000", "ftp://x/v1"} {
		_, err := f.NewRequester(session.ModelConfig{BaseURL: u})
		require.ErrorIs(t, err, ErrInvalidBaseURL, u)
	}

	req, err := f.NewRequester(session.ModelConfig{BaseURL: "http://llm:8000/v1"})
	require.NoError(t, err)
	assert.NotNil(t, req)
}

func TestStreamingTurnThroughManager(t *testing.T) {
	_, model := newCompletionServer(t, `<answer>finish(message="streamed reply")</answer>`)

	mgr := session.NewManager(NewFactory(nil, logger.NewTestLogger()), logger.NewTestLogger())

	_, err := mgr.Initialize(context.Background(), "dev", session.Configuration{Model: model}, session.InitOptions{})
	require.NoError(t, err)

	var chunks []string

	var result session.TurnResult

	err = mgr.RunStreamingTurn(context.Background(), "dev", session.NonBlocking(),
		func(c string) { chunks = append(chunks, c) }, nil,
		func(ctx context.Context, a session.Automation, _ *session.CancelToken) error {
			var err error
			result, err = a.RunTurn(ctx, "hello")

			return err
		})
	require.NoError(t, err)

	assert.Equal(t, "streamed reply", result.Message)
	assert.Equal(t, `<answer>finish(message="streamed reply")</answer>`, strings.Join(chunks, ""))

	err = mgr.WithExclusiveAccess(context.Background(), "dev", session.NonBlocking(),
		func(_ context.Context, a session.Automation) error {
			assert.Len(t, a.WorkingContext(), 2)
			assert.Equal(t, 1, a.StepCount())

			return nil
		})
	require.NoError(t, err)
}

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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/carverauto/devicelink/pkg/session"
)

type initRequest struct {
	Model *session.ModelConfig `json:"model,omitempty"`
	Agent *session.AgentConfig `json:"agent,omitempty"`
	Force bool                 `json:"force,omitempty"`
}

type chatRequest struct {
	DeviceID string `json:"device_id"`
	Message  string `json:"message"`
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

type chatResponse struct {
	Result  string `json:"result"`
	Steps   int    `json:"steps"`
	Success bool   `json:"success"`
}

type statusResponse struct {
	Initialized bool          `json:"initialized"`
	Streaming   bool          `json:"streaming"`
	Session     *session.Info `json:"session,omitempty"`
	Sessions    int           `json:"sessions"`
}

type stepEvent struct {
	Type     string `json:"type"`
	Step     int    `json:"step"`
	Thinking string `json:"thinking,omitempty"`
	Action   string `json:"action,omitempty"`
	Success  bool   `json:"success"`
	Finished bool   `json:"finished"`
}

type doneEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Steps   int    `json:"steps"`
	Success bool   `json:"success"`
}

type messageEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *APIServer) setupSessionRoutes() {
	s.router.HandleFunc("/api/init", s.initSession).Methods(http.MethodPost)
	s.router.HandleFunc("/api/chat", s.chat).Methods(http.MethodPost)
	s.router.HandleFunc("/api/chat/stream", s.chatStream).Methods(http.MethodPost)
	s.router.HandleFunc("/api/chat/abort", s.abortChat).Methods(http.MethodPost)
	s.router.HandleFunc("/api/status", s.status).Methods(http.MethodGet)
	s.router.HandleFunc("/api/reset", s.resetSession).Methods(http.MethodPost)
	s.router.HandleFunc("/api/sessions", s.listSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/sessions/{device_id}", s.destroySession).Methods(http.MethodDelete)
}

// effectiveConfig fills model fields the request left empty from the
// global configuration.
func (s *APIServer) effectiveConfig(ctx context.Context, req initRequest) (session.Configuration, error) {
	var cfg session.Configuration

	if req.Model != nil {
		cfg.Model = *req.Model
	}

	if req.Agent != nil {
		cfg.Agent = *req.Agent
	}

	if s.global == nil {
		return cfg, nil
	}

	global, err := s.global.EffectiveModelConfig(ctx)
	if err != nil {
		return cfg, err
	}

	if cfg.Model.BaseURL == "" {
		cfg.Model.BaseURL = global.BaseURL
	}

	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = global.APIKey
	}

	if cfg.Model.ModelName == "" {
		cfg.Model.ModelName = global.ModelName
	}

	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = global.MaxTokens
	}

	return cfg, nil
}

// changedSession returns the live session for cfg's device when a
// non-forced init carries a configuration different from the accepted one.
func (s *APIServer) changedSession(cfg session.Configuration, force bool) (session.Info, bool) {
	if force {
		return session.Info{}, false
	}

	existing, err := s.sessions.Get(cfg.Agent.DeviceID)
	if err != nil {
		return session.Info{}, false
	}

	cfg.Agent.DeviceID = existing.Config.Agent.DeviceID

	return existing, cfg != existing.Config
}

func (s *APIServer) initSession(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Agent == nil || req.Agent.DeviceID == "" {
		writeErr(w, errDeviceIDRequired)
		return
	}

	cfg, err := s.effectiveConfig(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}

	var info session.Info

	if existing, ok := s.changedSession(cfg, req.Force); ok {
		info, err = s.sessions.UpdateConfig(r.Context(), existing.DeviceID, &cfg.Model, &cfg.Agent)
	} else {
		info, err = s.sessions.Initialize(r.Context(), cfg.Agent.DeviceID, cfg, session.InitOptions{Force: req.Force})
	}

	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"device_id": info.DeviceID,
		"message":   fmt.Sprintf("Session initialized for device %s", info.DeviceID),
	})
}

func (s *APIServer) decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}

	switch {
	case req.DeviceID == "":
		writeErr(w, errDeviceIDRequired)
		return req, false
	case req.Message == "":
		writeErr(w, errMessageRequired)
		return req, false
	}

	if _, err := s.sessions.GetOrAutoInitialize(r.Context(), req.DeviceID); err != nil {
		writeErr(w, err)
		return req, false
	}

	return req, true
}

func (s *APIServer) chat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	var resp chatResponse

	err := s.sessions.WithExclusiveAccess(r.Context(), req.DeviceID, session.NonBlocking(),
		func(ctx context.Context, a session.Automation) error {
			res, err := a.RunTurn(ctx, req.Message)
			resp.Steps = a.StepCount()

			if err != nil {
				return err
			}

			resp.Result = res.Message
			resp.Success = res.Success

			return nil
		})

	switch {
	case errors.Is(err, session.ErrDeviceBusy), errors.Is(err, session.ErrNotInitialized):
		writeErr(w, err)
	case err != nil:
		writeJSON(w, http.StatusOK, chatResponse{Result: err.Error(), Steps: resp.Steps})
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// sseWriter writes server-sent events. Headers go out with the first event
// so failures before it can still use a plain HTTP status.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (e *sseWriter) send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		h := e.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}

	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}

	if err := e.rc.Flush(); err != nil {
		return fmt.Errorf("%w: %w", errStreamingUnsupported, err)
	}

	return nil
}

func (e *sseWriter) hasStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.started
}

func (s *APIServer) chatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	token := session.NewCancelToken()

	stop := context.AfterFunc(ctx, token.Cancel)
	defer stop()

	sse := newSSEWriter(w)

	sink := func(chunk string) {
		_ = sse.send("chunk", messageEvent{Type: "chunk", Content: chunk})
	}

	err := s.sessions.RunStreamingTurn(ctx, req.DeviceID, session.NonBlocking(), sink, token,
		func(ctx context.Context, a session.Automation, tok *session.CancelToken) error {
			res, err := a.StepTurn(ctx, req.Message)

			for {
				if tok.Canceled() {
					return session.ErrTurnCanceled
				}

				if err != nil {
					return err
				}

				_ = sse.send("step", stepEvent{
					Type:     "step",
					Step:     a.StepCount(),
					Thinking: res.Thinking,
					Action:   res.Action,
					Success:  res.Success,
					Finished: res.Finished,
				})

				if res.Finished {
					_ = sse.send("done", doneEvent{Type: "done", Message: res.Message, Steps: a.StepCount(), Success: res.Success})
					return nil
				}

				res, err = a.StepTurn(ctx, "")
			}
		})

	switch {
	case err == nil:
	case errors.Is(err, session.ErrTurnCanceled):
		s.logger.Info().Str("device_id", req.DeviceID).Msg("Streaming turn aborted")
		_ = sse.send("aborted", messageEvent{Type: "aborted", Message: "Turn aborted"})
	case !sse.hasStarted():
		writeErr(w, err)
	default:
		s.logger.Warn().Err(err).Str("device_id", req.DeviceID).Msg("Streaming turn failed")
		_ = sse.send("error", messageEvent{Type: "error", Message: err.Error()})
	}
}

func (s *APIServer) abortChat(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeBody(r, &req); err != nil || req.DeviceID == "" {
		writeErr(w, errDeviceIDRequired)
		return
	}

	aborted := s.sessions.Abort(req.DeviceID)

	msg := "No active streaming turn"
	if aborted {
		msg = "Abort requested"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": aborted, "message": msg})
}

func (s *APIServer) status(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")

	resp := statusResponse{Sessions: len(s.sessions.List())}

	if deviceID == "" {
		resp.Initialized = resp.Sessions > 0
		writeJSON(w, http.StatusOK, resp)

		return
	}

	if info, err := s.sessions.Get(deviceID); err == nil {
		resp.Initialized = true
		resp.Session = &info
		resp.Streaming = s.sessions.IsStreamingActive(deviceID)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) resetSession(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeBody(r, &req); err != nil || req.DeviceID == "" {
		writeErr(w, errDeviceIDRequired)
		return
	}

	info, err := s.sessions.Reset(req.DeviceID)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"device_id": info.DeviceID,
		"message":   fmt.Sprintf("Session reset for device %s", info.DeviceID),
	})
}

func (s *APIServer) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.sessions.List()})
}

func (s *APIServer) destroySession(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	s.sessions.Destroy(r.Context(), deviceID)

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "device_id": deviceID})
}

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
	"net/http"

	"github.com/carverauto/devicelink/pkg/viewer"
)

type resetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reset   int    `json:"reset"`
}

func (s *APIServer) setupMediaRoutes() {
	s.router.Handle("/ws/video", viewer.NewHandler(s.streams, s.logger, s.viewerOptions()...)).Methods(http.MethodGet)
	s.router.HandleFunc("/api/video/reset", s.resetVideo).Methods(http.MethodPost)
	s.router.HandleFunc("/api/video/streams", s.listStreams).Methods(http.MethodGet)
}

func (s *APIServer) viewerOptions() []viewer.HandlerOption {
	if len(s.cors.AllowedOrigins) == 0 {
		return nil
	}

	return []viewer.HandlerOption{viewer.WithAllowedOrigins(s.cors.AllowedOrigins...)}
}

func (s *APIServer) resetVideo(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")

	if deviceID == "" {
		n := s.streams.ResetAll()
		s.logger.Info().Int("streams", n).Msg("Reset all capture sessions")
		writeJSON(w, http.StatusOK, resetResponse{Success: true, Message: "All streams reset", Reset: n})

		return
	}

	if !s.streams.Reset(deviceID) {
		writeJSON(w, http.StatusOK, resetResponse{Success: true, Message: "No active stream for " + deviceID})
		return
	}

	s.logger.Info().Str("device_id", deviceID).Msg("Reset capture session")
	writeJSON(w, http.StatusOK, resetResponse{Success: true, Message: "Stream reset for " + deviceID, Reset: 1})
}

func (s *APIServer) listStreams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"streams": s.streams.Active()})
}

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

	"github.com/carverauto/devicelink/pkg/registry"
)

type connectWiFiRequest struct {
	DeviceID string `json:"device_id"`
	Port     int    `json:"port,omitempty"`
}

type disconnectWiFiRequest struct {
	DeviceID string `json:"device_id"`
}

type manualConnectRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port,omitempty"`
}

type pairRequest struct {
	IP          string `json:"ip"`
	PairingPort int    `json:"pairing_port"`
	PairingCode string `json:"pairing_code"`
	ConnectPort int    `json:"connect_port,omitempty"`
}

type transitionResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	DeviceID string `json:"device_id,omitempty"`
	Address  string `json:"address,omitempty"`
}

func (s *APIServer) setupDeviceRoutes() {
	s.router.HandleFunc("/api/devices", s.listDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/api/devices/refresh", s.refreshDevices).Methods(http.MethodPost)
	s.router.HandleFunc("/api/devices/connect_wifi", s.connectWiFi).Methods(http.MethodPost)
	s.router.HandleFunc("/api/devices/disconnect_wifi", s.disconnectWiFi).Methods(http.MethodPost)
	s.router.HandleFunc("/api/devices/connect_wifi_manual", s.connectWiFiManual).Methods(http.MethodPost)
	s.router.HandleFunc("/api/devices/pair_wifi", s.pairWiFi).Methods(http.MethodPost)
}

// listDevices refreshes on demand when no background poll keeps the
// snapshot current.
func (s *APIServer) listDevices(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Running() {
		if err := s.registry.ForceRefresh(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("On-demand device refresh failed")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": s.registry.Snapshot()})
}

func (s *APIServer) refreshDevices(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.ForceRefresh(r.Context()); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": s.registry.Snapshot()})
}

func (s *APIServer) connectWiFi(w http.ResponseWriter, r *http.Request) {
	var req connectWiFiRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.DeviceID == "" {
		writeErr(w, errDeviceIDRequired)
		return
	}

	port := req.Port
	if port == 0 {
		port = registry.DefaultNetworkPort
	}

	address, err := s.registry.AttachOverNetwork(r.Context(), req.DeviceID, port)
	if err != nil {
		s.logger.Warn().Err(err).Str("device_id", req.DeviceID).Msg("Network attach failed")
		writeErr(w, err)

		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{
		Success:  true,
		Message:  "Connected over network",
		DeviceID: req.DeviceID,
		Address:  address,
	})
}

func (s *APIServer) disconnectWiFi(w http.ResponseWriter, r *http.Request) {
	var req disconnectWiFiRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.DeviceID == "" {
		writeErr(w, errDeviceIDRequired)
		return
	}

	if err := s.registry.DetachNetwork(r.Context(), req.DeviceID); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{Success: true, Message: "Disconnected", DeviceID: req.DeviceID})
}

func (s *APIServer) connectWiFiManual(w http.ResponseWriter, r *http.Request) {
	var req manualConnectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	port := req.Port
	if port == 0 {
		port = registry.DefaultNetworkPort
	}

	address, err := s.registry.AttachAddress(r.Context(), req.IP, port)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{Success: true, Message: "Connected", DeviceID: address, Address: address})
}

func (s *APIServer) pairWiFi(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	address, err := s.registry.PairAndAttach(r.Context(), req.IP, req.PairingPort, req.PairingCode, req.ConnectPort)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{Success: true, Message: "Paired and connected", DeviceID: address, Address: address})
}

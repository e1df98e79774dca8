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
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"
	"io"
	"net/http"
)

var errNoScreenshotDevice = errors.New("no device available for screenshot")

type screenshotRequest struct {
	DeviceID string `json:"device_id,omitempty"`
}

type screenshotResponse struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"device_id,omitempty"`
	Image    string `json:"image"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Error    string `json:"error,omitempty"`
}

// screenshot never fails at the HTTP level once the body parses; capture
// errors are reported in the payload.
func (s *APIServer) screenshot(w http.ResponseWriter, r *http.Request) {
	var req screenshotRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	pathID, err := s.screenshotPath(req.DeviceID)
	if err != nil {
		writeJSON(w, http.StatusOK, screenshotResponse{DeviceID: req.DeviceID, Error: err.Error()})
		return
	}

	img, err := s.shots.Screenshot(r.Context(), pathID)
	if err != nil {
		s.logger.Warn().Err(err).Str("device_id", pathID).Msg("Screenshot failed")
		writeJSON(w, http.StatusOK, screenshotResponse{DeviceID: pathID, Error: err.Error()})

		return
	}

	resp := screenshotResponse{
		Success:  true,
		DeviceID: pathID,
		Image:    base64.StdEncoding.EncodeToString(img),
	}

	if cfg, err := png.DecodeConfig(bytes.NewReader(img)); err == nil {
		resp.Width, resp.Height = cfg.Width, cfg.Height
	}

	writeJSON(w, http.StatusOK, resp)
}

// screenshotPath maps any known path id to the device's primary path. An
// empty id selects the first device with a usable connection.
func (s *APIServer) screenshotPath(deviceID string) (string, error) {
	if deviceID != "" {
		dev, err := s.registry.ResolveByAnyPathID(deviceID)
		if err != nil {
			return "", err
		}

		if p := dev.PrimaryPathID(); p != "" {
			return p, nil
		}

		return "", errNoScreenshotDevice
	}

	for _, dev := range s.registry.Snapshot() {
		if p := dev.PrimaryPathID(); p != "" {
			return p, nil
		}
	}

	return "", errNoScreenshotDevice
}

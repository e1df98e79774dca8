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
	"errors"
	"net/http"

	"github.com/carverauto/devicelink/pkg/adb"
	"github.com/carverauto/devicelink/pkg/registry"
	"github.com/carverauto/devicelink/pkg/session"
)

var (
	errDeviceIDRequired     = errors.New("device_id is required")
	errMessageRequired      = errors.New("message is required")
	errStreamingUnsupported = errors.New("streaming unsupported by response writer")
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var cfgErr *session.ConfigurationError

	switch {
	case errors.As(err, &cfgErr),
		errors.Is(err, registry.ErrInvalidAddress),
		errors.Is(err, registry.ErrInvalidPort),
		errors.Is(err, registry.ErrInvalidPairingCode),
		errors.Is(err, errDeviceIDRequired),
		errors.Is(err, errMessageRequired):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrDeviceNotFound),
		errors.Is(err, session.ErrNotInitialized):
		return http.StatusNotFound
	case errors.Is(err, session.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, adb.ErrConnectFailed),
		errors.Is(err, adb.ErrDisconnectFailed),
		errors.Is(err, adb.ErrPairFailed),
		errors.Is(err, adb.ErrNoDeviceIP),
		errors.Is(err, adb.ErrDeviceNotReady),
		errors.Is(err, session.ErrInitializationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

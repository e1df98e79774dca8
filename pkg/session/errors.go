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
	"errors"
	"fmt"
)

var (
	ErrDeviceBusy           = errors.New("device is busy")
	ErrNotInitialized       = errors.New("session not initialized")
	ErrInitializationFailed = errors.New("session initialization failed")
	ErrTurnCanceled         = errors.New("streaming turn canceled")
)

// ConfigurationError reports that no usable model endpoint is configured.
type ConfigurationError struct {
	DeviceID string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cannot initialize session for %s: %s", e.DeviceID, e.Reason)
}

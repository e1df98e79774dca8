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

package registry

import "errors"

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrSerialUnresolvable = errors.New("serial could not be resolved")
	ErrStopTimeout        = errors.New("polling worker did not stop in time")
	ErrCyclePanic         = errors.New("poll cycle panicked")
	ErrInvalidAddress     = errors.New("invalid ipv4 address")
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
	ErrInvalidPairingCode = errors.New("pairing code must be 6 digits")
)

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

package capture

import "errors"

var (
	// ErrPortInUse is returned when the helper could not bind its socket
	// after every launch retry.
	ErrPortInUse = errors.New("capture helper port already in use")
	// ErrLaunchFailed covers any other early helper exit.
	ErrLaunchFailed = errors.New("capture helper exited during launch")
	// ErrHandshakeIncomplete is returned when the stream ends inside the header.
	ErrHandshakeIncomplete = errors.New("capture handshake incomplete")
	// ErrInitializationTimeout is returned to a viewer that joined before the
	// parameter sets were captured and waited too long.
	ErrInitializationTimeout = errors.New("stream initialization timed out")
	// ErrStreamTransport marks a terminal socket failure while streaming.
	ErrStreamTransport = errors.New("capture stream transport error")
)

var (
	ErrSocketUnavailable = errors.New("capture socket unavailable")
	ErrFrameMetaDisabled = errors.New("frame metadata disabled, packet parsing unavailable")
	ErrPacketTooLarge    = errors.New("capture packet exceeds size limit")
	ErrSessionStopped    = errors.New("capture session stopped")
	ErrSlowConsumer      = errors.New("viewer fell behind the live stream")
	ErrAlreadyStarted    = errors.New("capture session already started")
)

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

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/devicelink/pkg/models"
)

// RemoteServerPath is where the helper jar is staged on the device.
const RemoteServerPath = "/data/local/tmp/scrcpy-server"

const (
	defaultPort             = 27183
	defaultMaxSize          = 1280
	defaultBitRate          = 1_000_000
	defaultMaxFPS           = 20
	defaultKeyframeInterval = 1
	defaultLaunchRetries    = 3
	defaultDialAttempts     = 5
	defaultReceiveBuffer    = 2 << 20
	defaultInitRetries      = 50
)

var errInvalidPort = errors.New("capture port must be between 1 and 65535")

// Config drives one capture session. Zero values take the defaults below.
type Config struct {
	ServerPath       string          `json:"server_path"`
	Port             int             `json:"port"`
	MaxSize          int             `json:"max_size"`
	BitRate          int             `json:"bit_rate"`
	MaxFPS           int             `json:"max_fps"`
	KeyframeInterval int             `json:"keyframe_interval"`
	Stream           StreamOptions   `json:"stream"`
	LaunchRetries    int             `json:"launch_retries"`
	LaunchRetryDelay models.Duration `json:"launch_retry_delay"`
	LaunchSettle     models.Duration `json:"launch_settle"`
	CleanupSettle    models.Duration `json:"cleanup_settle"`
	DialAttempts     int             `json:"dial_attempts"`
	DialInterval     models.Duration `json:"dial_interval"`
	HandshakeTimeout models.Duration `json:"handshake_timeout"`
	ReceiveBuffer    int             `json:"receive_buffer"`
	StopGrace        models.Duration `json:"stop_grace"`
	InitRetries      int             `json:"init_retries"`
	InitRetryDelay   models.Duration `json:"init_retry_delay"`
}

func DefaultConfig() *Config {
	cfg := &Config{Stream: DefaultStreamOptions()}
	_ = cfg.Validate()

	return cfg
}

// Validate fills unset fields and rejects impossible ones.
func (c *Config) Validate() error {
	if c.ServerPath == "" {
		c.ServerPath = "scrcpy-server"
	}

	if c.Port == 0 {
		c.Port = defaultPort
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", errInvalidPort, c.Port)
	}

	setDefaultInt(&c.MaxSize, defaultMaxSize)
	setDefaultInt(&c.BitRate, defaultBitRate)
	setDefaultInt(&c.MaxFPS, defaultMaxFPS)
	setDefaultInt(&c.KeyframeInterval, defaultKeyframeInterval)
	setDefaultInt(&c.LaunchRetries, defaultLaunchRetries)
	setDefaultInt(&c.DialAttempts, defaultDialAttempts)
	setDefaultInt(&c.ReceiveBuffer, defaultReceiveBuffer)
	setDefaultInt(&c.InitRetries, defaultInitRetries)

	if c.Stream.Codec == "" {
		c.Stream.Codec = "h264"
	}

	setDefaultDuration(&c.LaunchRetryDelay, 2*time.Second)
	setDefaultDuration(&c.LaunchSettle, 2*time.Second)
	setDefaultDuration(&c.CleanupSettle, 2*time.Second)
	setDefaultDuration(&c.DialInterval, 500*time.Millisecond)
	setDefaultDuration(&c.HandshakeTimeout, 10*time.Second)
	setDefaultDuration(&c.StopGrace, 2*time.Second)
	setDefaultDuration(&c.InitRetryDelay, 100*time.Millisecond)

	return nil
}

func setDefaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setDefaultDuration(v *models.Duration, def time.Duration) {
	if *v <= 0 {
		*v = models.Duration(def)
	}
}

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

package config

import (
	"fmt"

	"github.com/carverauto/devicelink/pkg/capture"
	srHttp "github.com/carverauto/devicelink/pkg/http"
	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/natsutil"
	"github.com/carverauto/devicelink/pkg/registry"
	"github.com/carverauto/devicelink/pkg/session"
)

const (
	defaultADBPath    = "adb"
	defaultListenAddr = ":8765"
)

// AppConfig is the devicehub process configuration.
type AppConfig struct {
	ADBPath    string              `json:"adb_path"`
	ListenAddr string              `json:"listen_addr"`
	APIKey     string              `json:"api_key,omitempty"`
	CORS       srHttp.CORSConfig   `json:"cors"`
	ModelFile  string              `json:"model_file,omitempty"`
	Registry   *registry.Config    `json:"registry"`
	Capture    *capture.Config     `json:"capture"`
	Model      session.ModelConfig `json:"model"`
	NATS       *natsutil.Config    `json:"nats,omitempty"`
	Logging    *logger.Config      `json:"logging"`
}

// NewAppConfig returns a config with every section at its defaults, ready to
// be overlaid by a loader.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		ADBPath:    defaultADBPath,
		ListenAddr: defaultListenAddr,
		Registry:   registry.DefaultConfig(),
		Capture:    capture.DefaultConfig(),
		Logging:    logger.DefaultConfig(),
	}
}

// Validate implements Validator.
func (c *AppConfig) Validate() error {
	if c.ADBPath == "" {
		c.ADBPath = defaultADBPath
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.Registry == nil {
		c.Registry = registry.DefaultConfig()
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	if c.Capture == nil {
		c.Capture = capture.DefaultConfig()
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if c.NATS != nil {
		if err := c.NATS.Validate(); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}

	return nil
}

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

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/devicelink/pkg/models"
)

const (
	defaultPollInterval    = 10 * time.Second
	defaultMaxInterval     = 60 * time.Second
	defaultMultiplier      = 2.0
	defaultDiscoverableTTL = 60 * time.Second
	defaultStopTimeout     = 5 * time.Second
)

var errInvalidMultiplier = errors.New("backoff multiplier must be >= 1")

// Config controls polling cadence, backoff and discovery.
type Config struct {
	PollInterval      models.Duration `json:"poll_interval"`
	MaxInterval       models.Duration `json:"max_interval"`
	BackoffMultiplier float64         `json:"backoff_multiplier"`
	DiscoveryEnabled  *bool           `json:"discovery_enabled,omitempty"`
	DiscoverableTTL   models.Duration `json:"discoverable_ttl"`
	StopTimeout       models.Duration `json:"stop_timeout"`
}

func DefaultConfig() *Config {
	cfg := &Config{}
	_ = cfg.Validate()

	return cfg
}

// Validate fills defaults and checks ranges.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if c.MaxInterval <= 0 {
		c.MaxInterval = models.Duration(defaultMaxInterval)
	}

	if c.MaxInterval < c.PollInterval {
		return fmt.Errorf("max_interval %s is shorter than poll_interval %s",
			c.MaxInterval.Std(), c.PollInterval.Std())
	}

	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaultMultiplier
	}

	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: %v", errInvalidMultiplier, c.BackoffMultiplier)
	}

	if c.DiscoveryEnabled == nil {
		enabled := true
		c.DiscoveryEnabled = &enabled
	}

	if c.DiscoverableTTL <= 0 {
		c.DiscoverableTTL = models.Duration(defaultDiscoverableTTL)
	}

	if c.StopTimeout <= 0 {
		c.StopTimeout = models.Duration(defaultStopTimeout)
	}

	return nil
}

func (c *Config) discoveryEnabled() bool {
	return c.DiscoveryEnabled == nil || *c.DiscoveryEnabled
}

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

// Package lifecycle holds process bootstrap helpers shared by devicelink
// commands.
package lifecycle

import (
	"fmt"

	"github.com/carverauto/devicelink/pkg/logger"
)

// InitializeLogger configures the process-wide logger. A nil config uses
// the defaults.
func InitializeLogger(config *logger.Config) error {
	if err := logger.Init(config); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// CreateComponentLogger creates a logger for a specific component.
func CreateComponentLogger(component string, config *logger.Config) (logger.Logger, error) {
	base, err := logger.Build(config)
	if err != nil {
		return nil, fmt.Errorf("logger for %s: %w", component, err)
	}

	return logger.Wrap(base.With().Str("component", component).Logger()), nil
}

// Child derives a sub-component logger from an existing one.
func Child(parent logger.Logger, component string) logger.Logger {
	return logger.Wrap(parent.With().Str("subcomponent", component).Logger())
}

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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/session"
)

// ModelSource yields the effective global model settings. Each call merges,
// lowest priority first: the static defaults, the model file (re-read on every
// call so edits apply to the next auto-initialized session) and the
// DEVICELINK_BASE_URL / DEVICELINK_API_KEY / DEVICELINK_MODEL variables.
type ModelSource struct {
	defaults session.ModelConfig
	path     string
	loader   ConfigLoader
	logger   logger.Logger

	mu   sync.Mutex
	last session.ModelConfig
}

var _ session.GlobalConfigSource = (*ModelSource)(nil)

func NewModelSource(defaults session.ModelConfig, path string, log logger.Logger) *ModelSource {
	return &ModelSource{
		defaults: defaults,
		path:     path,
		loader:   &FileConfigLoader{logger: log},
		logger:   log,
	}
}

func (s *ModelSource) EffectiveModelConfig(ctx context.Context) (session.ModelConfig, error) {
	cfg := s.defaults

	if s.path != "" {
		err := s.loader.Load(ctx, s.path, &cfg)

		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.logger.Debug().Str("path", s.path).Msg("Model file not present, using defaults")
		case err != nil:
			return session.ModelConfig{}, fmt.Errorf("model settings: %w", err)
		}
	}

	overlayString(&cfg.BaseURL, EnvPrefix+"BASE_URL")
	overlayString(&cfg.APIKey, EnvPrefix+"API_KEY")
	overlayString(&cfg.ModelName, EnvPrefix+"MODEL")

	s.mu.Lock()
	if cfg.BaseURL != s.last.BaseURL || cfg.ModelName != s.last.ModelName {
		s.logger.Info().
			Str("base_url", cfg.BaseURL).
			Str("model", cfg.ModelName).
			Msg("Effective model settings changed")
	}
	s.last = cfg
	s.mu.Unlock()

	return cfg, nil
}

func overlayString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

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

// Package logger provides JSON structured logging using zerolog
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

var ErrUnknownFormat = errors.New("unknown log format")

var globalLogger zerolog.Logger

type Config struct {
	Level      string `json:"level"`
	Debug      bool   `json:"debug"`
	Output     string `json:"output"`
	Format     string `json:"format,omitempty"`
	TimeFormat string `json:"time_format,omitempty"`
}

func init() {
	globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = time.RFC3339
}

func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Output: "stdout",
		Format: FormatJSON,
	}
}

// Writer resolves the configured output. Console format wraps it in a
// human readable zerolog.ConsoleWriter.
func (c *Config) Writer() io.Writer {
	var out io.Writer = os.Stdout
	if c != nil && c.Output == "stderr" {
		out = os.Stderr
	}

	if c != nil && c.Format == FormatConsole {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	return out
}

// ParsedLevel returns the zerolog level the config selects. Debug wins over Level.
func (c *Config) ParsedLevel() (zerolog.Level, error) {
	if c == nil {
		return zerolog.InfoLevel, nil
	}

	if c.Debug {
		return zerolog.DebugLevel, nil
	}

	if c.Level == "" {
		return zerolog.InfoLevel, nil
	}

	return zerolog.ParseLevel(c.Level)
}

func (c *Config) Validate() error {
	if _, err := c.ParsedLevel(); err != nil {
		return err
	}

	switch c.Format {
	case "", FormatJSON, FormatConsole:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, c.Format)
	}
}

// Build returns a timestamped zerolog logger for config. A nil config uses
// the defaults.
func Build(config *Config) (zerolog.Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return zerolog.Nop(), err
	}

	level, _ := config.ParsedLevel()

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	return zerolog.New(config.Writer()).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}

// Init configures the process-wide logger, including zerolog's global
// log.Logger.
func Init(config *Config) error {
	l, err := Build(config)
	if err != nil {
		return err
	}

	globalLogger = l
	log.Logger = l

	return nil
}

func GetLogger() zerolog.Logger {
	return globalLogger
}

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

package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// Logger is the injected logging surface every long-lived component receives.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	Panic() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
	WithFields(fields map[string]interface{}) zerolog.Logger
	SetLevel(level zerolog.Level)
	SetDebug(debug bool)
}

// New builds a Logger from config.
func New(config *Config) (Logger, error) {
	l, err := Build(config)
	if err != nil {
		return nil, err
	}

	return Wrap(l), nil
}

// Wrap adapts a zerolog.Logger to Logger.
func Wrap(l zerolog.Logger) Logger {
	return &zlogger{l: l}
}

// NewTestLogger creates a no-op logger for testing that discards all output
func NewTestLogger() Logger {
	return Wrap(zerolog.New(io.Discard).Level(zerolog.Disabled))
}

// NewWriterLogger writes JSON lines to w, for tests that inspect log output.
func NewWriterLogger(w io.Writer, level zerolog.Level) Logger {
	return Wrap(zerolog.New(w).Level(level))
}

type zlogger struct {
	l zerolog.Logger
}

func (z *zlogger) Trace() *zerolog.Event { return z.l.Trace() }
func (z *zlogger) Debug() *zerolog.Event { return z.l.Debug() }
func (z *zlogger) Info() *zerolog.Event  { return z.l.Info() }
func (z *zlogger) Warn() *zerolog.Event  { return z.l.Warn() }
func (z *zlogger) Error() *zerolog.Event { return z.l.Error() }
func (z *zlogger) Fatal() *zerolog.Event { return z.l.Fatal() }
func (z *zlogger) Panic() *zerolog.Event { return z.l.Panic() }
func (z *zlogger) With() zerolog.Context { return z.l.With() }

func (z *zlogger) WithComponent(component string) zerolog.Logger {
	return z.l.With().Str("component", component).Logger()
}

func (z *zlogger) WithFields(fields map[string]interface{}) zerolog.Logger {
	return z.l.With().Fields(fields).Logger()
}

func (z *zlogger) SetLevel(level zerolog.Level) { z.l = z.l.Level(level) }

func (z *zlogger) SetDebug(debug bool) {
	if debug {
		z.SetLevel(zerolog.DebugLevel)
		return
	}

	z.SetLevel(zerolog.InfoLevel)
}

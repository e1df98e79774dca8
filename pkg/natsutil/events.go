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

// Package natsutil publishes device registry events to NATS JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/models"
)

const (
	// DeviceEventSubjectPrefix is followed by the event type, e.g. devices.events.added.
	DeviceEventSubjectPrefix = "devices.events"
	deviceEventWildcard      = DeviceEventSubjectPrefix + ".*"
	eventSource              = "devicelink/registry"
	eventTypePrefix          = "com.carverauto.devicelink.device."
)

// publisher is the slice of jetstream.JetStream the EventPublisher needs.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js            publisher
	stream        string
	subjectPrefix string
	logger        logger.Logger
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
// A non-empty subjectPrefix is prepended to every subject, e.g. "lab1".
func NewEventPublisher(js jetstream.JetStream, streamName, subjectPrefix string, log logger.Logger) *EventPublisher {
	return newEventPublisher(js, streamName, subjectPrefix, log)
}

func newEventPublisher(js publisher, streamName, subjectPrefix string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:            js,
		stream:        streamName,
		subjectPrefix: strings.Trim(subjectPrefix, "."),
		logger:        log,
	}
}

// Stream is the JetStream stream events land in.
func (p *EventPublisher) Stream() string {
	return p.stream
}

// SubjectFor returns the subject an event of type t is published on.
func (p *EventPublisher) SubjectFor(t models.DeviceEventType) string {
	subject := DeviceEventSubjectPrefix + "." + string(t)
	if p.subjectPrefix == "" {
		return subject
	}

	return p.subjectPrefix + "." + subject
}

// PublishDeviceEvent publishes a registry event as a CloudEvent.
func (p *EventPublisher) PublishDeviceEvent(ctx context.Context, ev models.DeviceEvent) error {
	ts := ev.Timestamp
	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            eventTypePrefix + string(ev.Type),
		DataContentType: "application/json",
		Subject:         p.SubjectFor(ev.Type),
		Time:            &ts,
		Data:            ev,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal device event: %w", err)
	}

	ack, err := p.js.Publish(ctx, event.Subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish device event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", event.Subject).
		Uint64("seq", ack.Sequence).
		Msg("Published device event")

	return nil
}

// ConnectWithEventPublisher connects to NATS, makes sure the stream carries
// the device event subjects and returns a publisher bound to it.
func ConnectWithEventPublisher(
	ctx context.Context, cfg *Config, log logger.Logger, extraOpts ...nats.Option,
) (*EventPublisher, *nats.Conn, error) {
	if cfg.NKeySeedFile != "" {
		nkeyOpt, err := NKeyOption(cfg.NKeySeedFile)
		if err != nil {
			return nil, nil, err
		}

		extraOpts = append([]nats.Option{nkeyOpt}, extraOpts...)
	}

	nc, err := ConnectWithSecurity(cfg.URL, cfg.TLS, log, extraOpts...)
	if err != nil {
		return nil, nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	pub := NewEventPublisher(js, cfg.Stream, cfg.SubjectPrefix, log)

	if err := ensureStream(ctx, js, cfg.Stream, pub.SubjectFor("*")); err != nil {
		nc.Close()

		return nil, nil, err
	}

	return pub, nc, nil
}

// ensureStream creates the stream, or adds subject to an existing one that
// does not already cover it.
func ensureStream(ctx context.Context, js jetstream.JetStream, streamName, subject string) error {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", streamName, err)
		}

		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream %s: %w", streamName, err)
	}

	subjects := ensureSubjectList(append([]string(nil), info.Config.Subjects...), subject)
	if len(subjects) == len(info.Config.Subjects) {
		return nil
	}

	cfg := info.Config
	cfg.Subjects = subjects

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add %s to stream %s: %w", subject, streamName, err)
	}

	return nil
}

// ConnectWithSecurity opens a NATS connection, using mTLS when tlsCfg is set.
func ConnectWithSecurity(natsURL string, tlsCfg *TLSFiles, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	var opts []nats.Option

	if tlsCfg != nil {
		tlsConf, err := TLSConfig(tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.Name("devicelink"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")

	return nc, nil
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}

// ensureSubjectList appends subject unless a pattern in subjects already matches it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether pattern covers subject using NATS token wildcards.
func matchesSubject(pattern, subject string) bool {
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, p := range pTokens {
		if p == ">" {
			return i < len(sTokens)
		}

		if i >= len(sTokens) {
			return false
		}

		if p == "*" {
			continue
		}

		if p != sTokens[i] {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

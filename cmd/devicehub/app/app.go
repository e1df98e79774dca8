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

package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/devicelink/pkg/adb"
	"github.com/carverauto/devicelink/pkg/api"
	"github.com/carverauto/devicelink/pkg/chat"
	"github.com/carverauto/devicelink/pkg/config"
	"github.com/carverauto/devicelink/pkg/lifecycle"
	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/natsutil"
	"github.com/carverauto/devicelink/pkg/registry"
	"github.com/carverauto/devicelink/pkg/session"
	"github.com/carverauto/devicelink/pkg/viewer"
)

const shutdownTimeout = 15 * time.Second

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// Run boots devicehub and blocks until ctx ends or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLogger, err := lifecycle.CreateComponentLogger("devicehub-config", logger.DefaultConfig())
	if err != nil {
		return err
	}

	cfg := config.NewAppConfig()
	if err := config.NewConfig(bootLogger).LoadAndValidate(ctx, opts.ConfigPath, cfg); err != nil {
		return err
	}

	if err := lifecycle.InitializeLogger(cfg.Logging); err != nil {
		return err
	}

	mainLogger, err := lifecycle.CreateComponentLogger("devicehub-main", cfg.Logging)
	if err != nil {
		return err
	}

	adbClient := adb.NewClient(cfg.ADBPath, lifecycle.Child(mainLogger, "adb"))

	reg, err := registry.New(cfg.Registry, adbClient, nil, lifecycle.Child(mainLogger, "registry"))
	if err != nil {
		return err
	}

	modelSource := config.NewModelSource(cfg.Model, cfg.ModelFile, lifecycle.Child(mainLogger, "model-config"))

	sessions := session.NewManager(
		chat.NewFactory(nil, lifecycle.Child(mainLogger, "chat")),
		lifecycle.Child(mainLogger, "sessions"),
		session.WithDeviceResolver(reg),
		session.WithGlobalConfig(modelSource),
	)
	reg.SetSessionIndex(sessions)

	if cfg.NATS != nil {
		publisher, nc, err := natsutil.ConnectWithEventPublisher(ctx, cfg.NATS, lifecycle.Child(mainLogger, "events"))
		if err != nil {
			return fmt.Errorf("device events: %w", err)
		}
		defer nc.Close()

		reg.SetEventSink(publisher)

		mainLogger.Info().
			Str("stream", publisher.Stream()).
			Msg("Publishing device events to NATS")
	}

	streams := viewer.NewStreamPool(
		viewer.DriverFactory(cfg.Capture, adbClient, lifecycle.Child(mainLogger, "capture")),
		reg,
		lifecycle.Child(mainLogger, "viewer"),
	)

	if err := reg.Start(ctx); err != nil {
		streams.Close()
		return err
	}

	apiServer := api.NewAPIServer(
		api.WithDeviceRegistry(reg),
		api.WithSessions(sessions),
		api.WithGlobalConfig(modelSource),
		api.WithStreamPool(streams),
		api.WithScreenshotter(adbClient),
		api.WithCORS(cfg.CORS),
		api.WithAPIKey(cfg.APIKey),
		api.WithLogger(lifecycle.Child(mainLogger, "api")),
	)

	serveErr := apiServer.Start(ctx, cfg.ListenAddr)
	if serveErr != nil {
		mainLogger.Error().Err(serveErr).Msg("HTTP API server error")
	}

	mainLogger.Info().Msg("Shutting down devicehub")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := reg.Stop(shutdownCtx); err != nil {
		mainLogger.Warn().Err(err).Msg("Registry did not stop cleanly")
	}

	streams.Close()
	sessions.DestroyAll(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}

	return nil
}

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

// Package api provides the HTTP API server for devicelink.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	srHttp "github.com/carverauto/devicelink/pkg/http"
	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/models"
	"github.com/carverauto/devicelink/pkg/session"
	"github.com/carverauto/devicelink/pkg/viewer"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	shutdownTimeout          = 10 * time.Second
)

// DeviceRegistry is the registry surface the API exposes.
type DeviceRegistry interface {
	Snapshot() []models.ManagedDevice
	ResolveByAnyPathID(id string) (models.ManagedDevice, error)
	ForceRefresh(ctx context.Context) error
	Running() bool
	AttachOverNetwork(ctx context.Context, pathID string, port int) (string, error)
	AttachAddress(ctx context.Context, ip string, port int) (string, error)
	DetachNetwork(ctx context.Context, address string) error
	PairAndAttach(ctx context.Context, ip string, pairingPort int, code string, connectPort int) (string, error)
}

// SessionService is the session manager surface the API exposes.
type SessionService interface {
	Initialize(ctx context.Context, deviceID string, cfg session.Configuration, opts session.InitOptions) (session.Info, error)
	GetOrAutoInitialize(ctx context.Context, deviceID string) (session.Info, error)
	UpdateConfig(ctx context.Context, deviceID string, model *session.ModelConfig, agent *session.AgentConfig) (session.Info, error)
	WithExclusiveAccess(ctx context.Context, deviceID string, policy session.AcquirePolicy,
		fn func(ctx context.Context, a session.Automation) error) error
	RunStreamingTurn(ctx context.Context, deviceID string, policy session.AcquirePolicy, sink session.ChunkFunc,
		token *session.CancelToken, fn session.StreamingTurnFunc) error
	Abort(deviceID string) bool
	IsStreamingActive(deviceID string) bool
	Reset(deviceID string) (session.Info, error)
	Destroy(ctx context.Context, deviceID string)
	Get(deviceID string) (session.Info, error)
	List() []session.Info
}

// Screenshotter captures a still PNG of a device screen.
type Screenshotter interface {
	Screenshot(ctx context.Context, pathID string) ([]byte, error)
}

// APIServer serves the device, session and media endpoints.
type APIServer struct {
	router   *mux.Router
	handler  http.Handler
	registry DeviceRegistry
	sessions SessionService
	global   session.GlobalConfigSource
	streams  *viewer.StreamPool
	shots    Screenshotter
	cors     srHttp.CORSConfig
	apiKey   string
	logger   logger.Logger
}

func NewAPIServer(options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router: mux.NewRouter(),
		logger: logger.NewTestLogger(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

func WithDeviceRegistry(r DeviceRegistry) func(server *APIServer) {
	return func(server *APIServer) {
		server.registry = r
	}
}

func WithSessions(m SessionService) func(server *APIServer) {
	return func(server *APIServer) {
		server.sessions = m
	}
}

// WithGlobalConfig supplies defaults for fields left out of /api/init.
func WithGlobalConfig(src session.GlobalConfigSource) func(server *APIServer) {
	return func(server *APIServer) {
		server.global = src
	}
}

func WithStreamPool(p *viewer.StreamPool) func(server *APIServer) {
	return func(server *APIServer) {
		server.streams = p
	}
}

func WithScreenshotter(sc Screenshotter) func(server *APIServer) {
	return func(server *APIServer) {
		server.shots = sc
	}
}

func WithCORS(cfg srHttp.CORSConfig) func(server *APIServer) {
	return func(server *APIServer) {
		server.cors = cfg
	}
}

func WithAPIKey(key string) func(server *APIServer) {
	return func(server *APIServer) {
		server.apiKey = key
	}
}

func WithLogger(log logger.Logger) func(server *APIServer) {
	return func(server *APIServer) {
		server.logger = log
	}
}

func (s *APIServer) setupRoutes() {
	auth := srHttp.APIKeyMiddlewareWithOptions(srHttp.APIKeyOptions{
		APIKey:          s.apiKey,
		ExcludePaths:    []string{"/health"},
		LogUnauthorized: true,
		Logger:          s.logger,
	})

	// CORS wraps the router so preflight requests never reach method matching.
	s.handler = srHttp.CommonMiddleware(auth(s.router), s.cors, s.logger)

	s.router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if s.registry != nil {
		s.setupDeviceRoutes()
	}

	if s.sessions != nil {
		s.setupSessionRoutes()
	}

	if s.streams != nil {
		s.setupMediaRoutes()
	}

	if s.shots != nil && s.registry != nil {
		s.router.HandleFunc("/api/screenshot", s.screenshot).Methods(http.MethodPost)
	}
}

// ServeHTTP implements http.Handler.
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start serves on addr until ctx ends, then shuts down gracefully.
func (s *APIServer) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("listen_addr", addr).Msg("Starting HTTP API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

type errorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, errorResponse{Message: message, Status: statusCode})
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	return dec.Decode(dst)
}

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

// Package api provides the HTTP API server for the repeater dashboard.
// It only reads the store and triggers the poller's reconnect and ping
// commands; it never drives the poll cycle itself.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/meshwatch/pkg/config"
	mwHttp "github.com/carverauto/meshwatch/pkg/http"
	"github.com/carverauto/meshwatch/pkg/logger"
	"github.com/carverauto/meshwatch/pkg/models"
	"github.com/carverauto/meshwatch/pkg/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownGrace     = 5 * time.Second
)

// Scheduler is the poller surface the API depends on.
type Scheduler interface {
	RequestReconnect()
	PingDevice(ctx context.Context, pubKey string) models.PingResult
}

// APIServer serves the dashboard's JSON API and event stream.
type APIServer struct {
	listenAddr string
	router     *mux.Router
	store      *store.Store
	settings   *config.SettingsManager
	scheduler  Scheduler
	logger     logger.Logger
	httpServer *http.Server
}

// NewAPIServer creates the API server and wires its routes.
func NewAPIServer(listenAddr string, options ...func(*APIServer)) *APIServer {
	s := &APIServer{
		listenAddr: listenAddr,
		router:     mux.NewRouter(),
		logger:     logger.NewTestLogger(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithStore sets the telemetry store the API reads from.
func WithStore(st *store.Store) func(*APIServer) {
	return func(s *APIServer) {
		s.store = st
	}
}

// WithSettings sets the settings manager backing the settings routes.
func WithSettings(m *config.SettingsManager) func(*APIServer) {
	return func(s *APIServer) {
		s.settings = m
	}
}

// WithScheduler sets the poller command surface.
func WithScheduler(sched Scheduler) func(*APIServer) {
	return func(s *APIServer) {
		s.scheduler = sched
	}
}

// WithLogger sets the request/handler logger.
func WithLogger(log logger.Logger) func(*APIServer) {
	return func(s *APIServer) {
		s.logger = log
	}
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return mwHttp.CommonMiddleware(s.logger, next)
	})

	s.router.HandleFunc("/api/repeaters", s.getRepeaters).Methods(http.MethodGet)
	s.router.HandleFunc("/api/history/{pubkey}", s.getHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/logs", s.getLogs).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stream", s.streamUpdates).Methods(http.MethodGet)
	s.router.HandleFunc("/api/settings", s.getSettings).Methods(http.MethodGet)
	s.router.HandleFunc("/api/settings", s.postSettings).Methods(http.MethodPost)
	s.router.HandleFunc("/api/ping/{pubkey}", s.pingRepeater).Methods(http.MethodPost)

	// CORS preflight; the middleware answers before this handler runs.
	s.router.PathPrefix("/api/").Methods(http.MethodOptions).
		HandlerFunc(func(http.ResponseWriter, *http.Request) {})
}

// Router exposes the handler for tests.
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Start implements the lifecycle.Service interface.
func (s *APIServer) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info().Str("addr", s.listenAddr).Msg("API server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop implements the lifecycle.Service interface.
func (s *APIServer) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

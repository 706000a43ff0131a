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

package meshcore

import (
	"context"
	"errors"
	"time"

	"github.com/carverauto/meshwatch/pkg/logger"
)

const (
	statusRequestTimeout    = 30 * time.Second
	telemetryRequestTimeout = 30 * time.Second

	// DefaultAdminPassword is the firmware default used when a
	// repeater has no admin password configured.
	DefaultAdminPassword = "password"
)

// Session owns one logical connection to the companion gateway and
// applies the per-request timeout and error contract on top of the raw
// command client.
type Session struct {
	client Commands
	logger logger.Logger
}

// Connect establishes a session. The transport performs its own
// bounded reconnect attempts; an error here means they were exhausted.
func Connect(ctx context.Context, host string, port int, log logger.Logger) (*Session, error) {
	client, err := Dial(ctx, host, port, log)
	if err != nil {
		return nil, err
	}

	return NewSession(client, log), nil
}

// NewSession wraps an already-connected command client.
func NewSession(client Commands, log logger.Logger) *Session {
	return &Session{client: client, logger: log}
}

// Disconnect closes the session. Best-effort: teardown never raises.
func (s *Session) Disconnect() {
	if err := s.client.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Ignoring error on disconnect")
	}
}

// Contacts fetches the companion's contact listing, normalized and in
// response order.
func (s *Session) Contacts(ctx context.Context) ([]string, map[string]Contact, error) {
	return s.client.GetContacts(ctx)
}

// Login authenticates against a repeater. A rejected login is logged
// as a warning and not escalated; the repeater may still answer
// unauthenticated requests.
func (s *Session) Login(ctx context.Context, contact Contact, name, password string) {
	err := s.client.SendLogin(ctx, contact, password)

	var protoErr *ProtocolError

	switch {
	case err == nil:
		s.logger.Info().Str("repeater", name).
			Bool("default_password", password == DefaultAdminPassword).
			Msg("Login sent")
	case errors.As(err, &protoErr):
		s.logger.Warn().Str("repeater", name).Str("detail", protoErr.Detail).Msg("Login failed")
	default:
		s.logger.Error().Err(err).Str("repeater", name).Msg("Login error")
	}
}

// ApplyPath pins the configured custom route for a contact, or resets
// it to flood routing when no custom path is configured. Failures are
// logged and isolated; the poll step sequence continues regardless.
func (s *Session) ApplyPath(ctx context.Context, contact Contact, pubKey, name, customPath string) {
	if customPath == "" {
		if err := s.client.ResetPath(ctx, pubKey); err != nil {
			s.logger.Error().Err(err).Str("repeater", name).Msg("Path reset error")
			return
		}

		s.logger.Debug().Str("repeater", name).Msg("Using flood routing")

		return
	}

	path, err := ParseRoutePath(customPath)
	if err != nil {
		s.logger.Error().Err(err).Str("repeater", name).Str("path", customPath).Msg("Invalid custom path")
		return
	}

	if err := s.client.SetPath(ctx, contact, path); err != nil {
		s.logger.Error().Err(err).Str("repeater", name).Msg("Path update error")
		return
	}

	s.logger.Info().Str("repeater", name).Str("path", FormatRoutePath(path)).Msg("Set custom path")
}

// RequestStatus performs a synchronous status query. Returns
// ErrRequestTimeout when the repeater stayed silent.
func (s *Session) RequestStatus(ctx context.Context, contact Contact) (*StatusPayload, error) {
	return s.client.RequestStatus(ctx, contact, statusRequestTimeout)
}

// RequestTelemetry performs a synchronous telemetry query.
func (s *Session) RequestTelemetry(ctx context.Context, contact Contact) ([]TelemetrySensor, error) {
	return s.client.RequestTelemetry(ctx, contact, telemetryRequestTimeout)
}

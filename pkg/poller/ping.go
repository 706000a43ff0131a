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

package poller

import (
	"context"
	"strings"

	"github.com/carverauto/meshwatch/pkg/meshcore"
	"github.com/carverauto/meshwatch/pkg/models"
)

// PingDevice refreshes one repeater on demand, outside the poll cycle.
// It may run concurrently with the cycle; the session and store are
// safe to share. Failures come back as a structured result, never a
// panic or a dropped session.
func (p *Poller) PingDevice(ctx context.Context, pubKey string) models.PingResult {
	sess := p.getSession()
	if sess == nil {
		return models.PingResult{OK: false, Error: errNotConnected.Error()}
	}

	contact, ok := p.directory.Resolve(pubKey)
	if !ok {
		// One refresh attempt: the contact may have appeared since
		// the cycle last listed them.
		if err := p.directory.Refresh(ctx, sess); err != nil {
			return models.PingResult{OK: false, Error: err.Error()}
		}

		contact, ok = p.directory.Resolve(pubKey)
	}

	if !ok {
		return models.PingResult{OK: false, Error: errContactNotFound.Error()}
	}

	name, password := p.lookupRepeater(pubKey)

	start := p.clock.Now()

	sess.Login(ctx, contact, name, password)
	p.sleep(ctx, pingSettleDelay)

	if err := p.requestStatus(ctx, sess, contact, pubKey, name); err != nil {
		return models.PingResult{OK: false, Error: err.Error()}
	}

	p.sleep(ctx, pingSettleDelay)

	if err := p.requestTelemetry(ctx, sess, contact, pubKey, name); err != nil {
		return models.PingResult{OK: false, Error: err.Error()}
	}

	latency := p.clock.Now().Sub(start).Milliseconds()

	p.logger.Info().Str("repeater", name).Int64("latency_ms", latency).Msg("Manual refresh completed")

	return models.PingResult{OK: true, LatencyMS: latency}
}

// lookupRepeater finds the configured name and admin password for a
// public key, falling back to a key-derived name and the default
// password when the key is not configured.
func (p *Poller) lookupRepeater(pubKey string) (name, password string) {
	name = pubKey
	if len(pubKey) > 8 {
		name = pubKey[:8]
	}

	password = meshcore.DefaultAdminPassword

	for _, r := range p.snapshot().Repeaters {
		if r.PubKey == pubKey || prefixEither(r.PubKey, pubKey) {
			if r.Name != "" {
				name = r.Name
			}

			if r.AdminPass != "" {
				password = r.AdminPass
			}

			break
		}
	}

	return name, password
}

func prefixEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}

	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

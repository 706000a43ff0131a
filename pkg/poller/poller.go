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

// Package poller drives the repeater poll cycle against the companion
// gateway. One sequential task polls devices one at a time, never
// concurrently: the radio network cannot tolerate concurrent bursts.
package poller

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/carverauto/meshwatch/pkg/meshcore"
	"github.com/carverauto/meshwatch/pkg/models"
)

// Start implements the lifecycle.Service interface. It runs the
// connect/poll loop until Stop is called, reconnecting with a fixed
// delay after any session failure.
func (p *Poller) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}

	for _, r := range p.snapshot().Repeaters {
		p.store.InitDevice(r.PubKey, r.Name)
	}

	for {
		if p.stopped(ctx) {
			return ctx.Err()
		}

		if err := p.connectAndPoll(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Poller error")
		}

		if p.stopped(ctx) {
			return ctx.Err()
		}

		p.logger.Info().Msg("Reconnecting in 10 seconds...")
		p.sleep(ctx, reconnectDelay)
	}
}

// Stop implements the lifecycle.Service interface. The poller
// disconnects and exits unconditionally; no further reconnect.
func (p *Poller) Stop(_ context.Context) error {
	p.closeOnce.Do(func() { close(p.done) })

	if sess := p.getSession(); sess != nil {
		sess.Disconnect()
	}

	return nil
}

func (p *Poller) stopped(ctx context.Context) bool {
	select {
	case <-p.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// connectAndPoll establishes one session and runs poll cycles on it
// until the session fails, settings change, or the poller stops.
func (p *Poller) connectAndPoll(ctx context.Context) error {
	snap := p.snapshot()

	p.currentHost = snap.CompanionHost
	p.currentPort = snap.CompanionPort
	p.needsReconnect.Store(false)

	p.logger.Info().
		Str("host", p.currentHost).
		Int("port", p.currentPort).
		Msg("Connecting to companion")

	sess, err := p.Dial(ctx, p.currentHost, p.currentPort, p.logger)
	if err != nil {
		return err
	}

	p.setSession(sess)

	defer func() {
		p.setSession(nil)
		sess.Disconnect()
	}()

	p.logger.Info().Msg("Connected to companion device")

	if err := p.directory.Refresh(ctx, sess); err != nil {
		return err
	}

	for !p.stopped(ctx) && !p.needsReconnect.Load() {
		snap := p.snapshot()

		p.store.SyncDevices(snap.Repeaters)

		if snap.CompanionHost != p.currentHost || snap.CompanionPort != p.currentPort {
			p.logger.Info().
				Str("host", snap.CompanionHost).
				Int("port", snap.CompanionPort).
				Msg("Companion address changed, reconnecting...")

			return nil
		}

		cycleStart := p.clock.Now()

		if err := p.pollAll(ctx, sess, &snap); err != nil {
			return err
		}

		elapsed := p.clock.Now().Sub(cycleStart)
		if remaining := snap.PollInterval() - elapsed; remaining > 0 {
			p.logger.Info().Dur("sleep", remaining).Msg("Cycle complete")
			p.sleep(ctx, remaining)
		}
	}

	return nil
}

// pollAll refreshes the contact directory and polls each configured
// repeater in list order with staggered delays. Only connection-level
// failures are returned; per-device failures are isolated.
func (p *Poller) pollAll(ctx context.Context, sess *meshcore.Session, snap *models.Settings) error {
	if err := p.directory.Refresh(ctx, sess); err != nil {
		return err
	}

	stagger := snap.StaggerDelay()
	repeaters := snap.Repeaters

	for i := range repeaters {
		if p.stopped(ctx) || p.needsReconnect.Load() {
			return nil
		}

		r := &repeaters[i]
		last := i == len(repeaters)-1

		contact, ok := p.directory.Resolve(r.PubKey)
		if !ok {
			p.logger.Warn().
				Str("repeater", r.Name).
				Str("pubkey", shortKey(r.PubKey)).
				Msg("No contact found; is the repeater in range?")

			if !last {
				p.sleep(ctx, stagger)
			}

			continue
		}

		// Route info is pushed before any request so the dashboard
		// shows the path even when the device stays silent.
		p.store.UpdateRoute(r.PubKey, contact.Hops, contact.RoutePath)

		p.logger.Info().
			Str("repeater", r.Name).
			Int("position", i+1).
			Int("total", len(repeaters)).
			Int("hops", contact.Hops).
			Str("route", routeOrFlood(contact.RoutePath)).
			Msg("Polling repeater")

		sess.ApplyPath(ctx, contact, r.PubKey, r.Name, strings.TrimSpace(r.Path))

		sess.Login(ctx, contact, r.Name, adminPassword(r))
		p.sleep(ctx, loginSettleDelay)

		_ = p.requestStatus(ctx, sess, contact, r.PubKey, r.Name)
		p.sleep(ctx, statusTelemetryGap)
		_ = p.requestTelemetry(ctx, sess, contact, r.PubKey, r.Name)

		if !last {
			p.logger.Debug().Dur("stagger", stagger).Msg("Waiting before next repeater")
			p.sleep(ctx, stagger)
		}
	}

	return nil
}

// requestStatus queries one repeater's status and merges the mapped
// fields into the store. The returned error is informational for
// on-demand callers; the poll cycle ignores it.
func (p *Poller) requestStatus(ctx context.Context, sess *meshcore.Session, contact meshcore.Contact, pubKey, name string) error {
	status, err := sess.RequestStatus(ctx, contact)

	switch {
	case err == nil:
	case errors.Is(err, meshcore.ErrRequestTimeout):
		p.logger.Warn().Str("repeater", name).Msg("Status request timed out")
		return nil
	default:
		var protoErr *meshcore.ProtocolError
		if errors.As(err, &protoErr) {
			p.logger.Error().Str("repeater", name).Str("detail", protoErr.Detail).Msg("Status request rejected")
			return nil
		}

		p.logger.Error().Err(err).Str("repeater", name).Msg("Status request error")

		return err
	}

	update := statusToUpdate(status)
	if update.IsEmpty() {
		return nil
	}

	p.store.ApplyUpdate(pubKey, update)

	p.logger.Info().
		Str("repeater", name).
		Interface("battery_mv", update.BatteryMV).
		Interface("rssi", update.RSSI).
		Interface("snr", update.SNR).
		Msg("Status received")

	return nil
}

// requestTelemetry queries the LPP sensor list and derives battery
// readings from a voltage sensor or channel-0 analog sensor.
func (p *Poller) requestTelemetry(ctx context.Context, sess *meshcore.Session, contact meshcore.Contact, pubKey, name string) error {
	sensors, err := sess.RequestTelemetry(ctx, contact)

	switch {
	case err == nil:
	case errors.Is(err, meshcore.ErrRequestTimeout):
		p.logger.Debug().Str("repeater", name).Msg("Telemetry request returned no data")
		return nil
	default:
		var protoErr *meshcore.ProtocolError
		if errors.As(err, &protoErr) {
			p.logger.Error().Str("repeater", name).Str("detail", protoErr.Detail).Msg("Telemetry request rejected")
			return nil
		}

		p.logger.Error().Err(err).Str("repeater", name).Msg("Telemetry request error")

		return err
	}

	update := telemetryToUpdate(sensors)
	if update.IsEmpty() {
		return nil
	}

	p.store.ApplyUpdate(pubKey, update)

	p.logger.Info().
		Str("repeater", name).
		Interface("battery_voltage", update.BatteryVoltage).
		Msg("Telemetry received")

	return nil
}

// sleep waits for d in slices of at most sleepSlice, returning early
// on stop, context cancellation, or a reconnect request.
func (p *Poller) sleep(ctx context.Context, d time.Duration) {
	for d > 0 {
		if p.needsReconnect.Load() {
			return
		}

		slice := d
		if slice > sleepSlice {
			slice = sleepSlice
		}

		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-p.clock.After(slice):
		}

		d -= slice
	}
}

func adminPassword(r *models.RepeaterConfig) string {
	if r.AdminPass == "" {
		return meshcore.DefaultAdminPassword
	}

	return r.AdminPass
}

func routeOrFlood(path string) string {
	if path == "" {
		return "flood"
	}

	return path
}

func shortKey(pubKey string) string {
	if len(pubKey) > 16 {
		return pubKey[:16] + "..."
	}

	return pubKey
}

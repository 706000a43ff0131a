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

// Package store holds the live repeater state map and the SQLite-backed
// telemetry history and activity log. The in-memory map is the source
// of truth for liveness; the database tables are best-effort and their
// write failures never propagate to callers.
package store

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/meshwatch/pkg/logger"
	"github.com/carverauto/meshwatch/pkg/models"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// ThresholdFunc reports the live stale threshold. It is consulted on
// every read so dashboard changes apply immediately.
type ThresholdFunc func() time.Duration

// Store owns all repeater state. The lock guards only the in-memory
// map; persistence writes happen outside the lock on a snapshot taken
// under it, so readers are never blocked by I/O.
type Store struct {
	mu        sync.Mutex
	devices   map[string]*models.DeviceState
	db        *sql.DB
	threshold ThresholdFunc
	now       func() time.Time
	logger    logger.Logger
}

// New opens (or creates) the history database at dbPath and returns a
// ready store. An empty dbPath disables persistence: state is kept in
// memory only and history queries return nothing.
func New(dbPath string, threshold ThresholdFunc, log logger.Logger) (*Store, error) {
	s := &Store{
		devices:   make(map[string]*models.DeviceState),
		threshold: threshold,
		now:       time.Now,
		logger:    log,
	}

	if dbPath == "" {
		return s, nil
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.db = db

	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// InitDevice registers a configured repeater. Idempotent: an existing
// entry only has its display name refreshed.
func (s *Store) InitDevice(pubKey, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[pubKey]; ok {
		d.Name = name
		return
	}

	s.devices[pubKey] = &models.DeviceState{Name: name, PubKey: pubKey}
}

// RemoveDevice drops the live entry. Historical rows are untouched.
func (s *Store) RemoveDevice(pubKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.devices, pubKey)
}

// SyncDevices reconciles the live map to exactly the configured list:
// entries absent from the list are removed, every listed entry is
// upserted with its current name.
func (s *Store) SyncDevices(configured []models.RepeaterConfig) {
	keep := make(map[string]struct{}, len(configured))
	for _, r := range configured {
		keep[r.PubKey] = struct{}{}
	}

	s.mu.Lock()

	for pk := range s.devices {
		if _, ok := keep[pk]; !ok {
			delete(s.devices, pk)
		}
	}

	s.mu.Unlock()

	for _, r := range configured {
		s.InitDevice(r.PubKey, r.Name)
	}
}

// UpdateHops records routing info without touching last-seen.
func (s *Store) UpdateHops(pubKey string, hops int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[pubKey]; ok {
		d.Hops = hops
	}
}

// UpdateRoute records hop count and route path without touching
// last-seen: learning a route is not the same as the device responding.
func (s *Store) UpdateRoute(pubKey string, hops int, routePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[pubKey]; ok {
		d.Hops = hops
		d.RoutePath = routePath
	}
}

// ApplyUpdate merges the non-nil fields of update into the device and
// advances last-seen. The device is created if missing. When
// persistence is enabled a history row is appended from a snapshot
// taken under the lock.
func (s *Store) ApplyUpdate(pubKey string, update *models.StatusUpdate) {
	now := s.now()

	s.mu.Lock()

	d, ok := s.devices[pubKey]
	if !ok {
		d = &models.DeviceState{PubKey: pubKey}
		s.devices[pubKey] = d
	}

	mergeUpdate(d, update)
	d.LastSeen = now

	sample := models.TelemetrySample{
		Timestamp:      timeToEpoch(now),
		PubKey:         d.PubKey,
		Name:           d.Name,
		BatteryMV:      d.BatteryMV,
		BatteryVoltage: d.BatteryVoltage,
		RSSI:           d.RSSI,
		SNR:            d.SNR,
		UptimeSeconds:  d.UptimeSeconds,
	}

	s.mu.Unlock()

	if s.db != nil {
		if err := s.appendSample(&sample); err != nil {
			s.logger.Error().Err(err).Str("pubkey", pubKey).Msg("History write failed")
		}
	}
}

func mergeUpdate(d *models.DeviceState, u *models.StatusUpdate) {
	if u.BatteryMV != nil {
		d.BatteryMV = *u.BatteryMV
	}

	if u.BatteryVoltage != nil {
		d.BatteryVoltage = *u.BatteryVoltage
	}

	if u.RSSI != nil {
		d.RSSI = *u.RSSI
	}

	if u.SNR != nil {
		d.SNR = *u.SNR
	}

	if u.NoiseFloor != nil {
		d.NoiseFloor = *u.NoiseFloor
	}

	if u.UptimeSeconds != nil {
		d.UptimeSeconds = *u.UptimeSeconds
	}

	if u.PacketsRecv != nil {
		d.PacketsRecv = *u.PacketsRecv
	}

	if u.PacketsSent != nil {
		d.PacketsSent = *u.PacketsSent
	}
}

// ListAll returns a copy of every device state with the derived fields
// freshly computed. Callers never see the internal map entries.
func (s *Store) ListAll() []models.DeviceState {
	now := s.now()
	threshold := s.threshold()

	s.mu.Lock()

	out := make([]models.DeviceState, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}

	s.mu.Unlock()

	for i := range out {
		out[i].ComputeDerived(now, threshold)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}

		return out[i].PubKey < out[j].PubKey
	})

	return out
}

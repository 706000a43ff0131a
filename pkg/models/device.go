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

// Package models defines the shared data types for the repeater monitor.
package models

import "time"

const pubKeyShortLen = 12

// DeviceState is the current known state of one configured repeater,
// keyed by its public key. Fields are partially updated as poll
// responses arrive; a poll response never clears an existing field.
type DeviceState struct {
	Name           string    `json:"name"`
	PubKey         string    `json:"pubkey"`
	PubKeyShort    string    `json:"pubkey_short"`
	BatteryMV      int       `json:"battery_mv"`
	BatteryVoltage float64   `json:"battery_voltage"`
	RSSI           int       `json:"rssi"`
	SNR            float64   `json:"snr"`
	NoiseFloor     int       `json:"noise_floor"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	PacketsRecv    int64     `json:"packets_recv"`
	PacketsSent    int64     `json:"packets_sent"`
	Hops           int       `json:"hops"`
	RoutePath      string    `json:"route_path"`
	LastSeen       time.Time `json:"last_seen"`
	Online         bool      `json:"online"`
}

// ComputeDerived fills Online and PubKeyShort from the stored fields.
// Online is never cached; it is recomputed against the live stale
// threshold on every read.
func (d *DeviceState) ComputeDerived(now time.Time, staleThreshold time.Duration) {
	d.Online = !d.LastSeen.IsZero() && now.Sub(d.LastSeen) < staleThreshold

	if len(d.PubKey) > pubKeyShortLen {
		d.PubKeyShort = d.PubKey[:pubKeyShortLen]
	} else {
		d.PubKeyShort = d.PubKey
	}
}

// StatusUpdate carries a partial device update. Nil fields are absent
// and leave the stored value untouched when merged.
type StatusUpdate struct {
	BatteryMV      *int
	BatteryVoltage *float64
	RSSI           *int
	SNR            *float64
	NoiseFloor     *int
	UptimeSeconds  *int64
	PacketsRecv    *int64
	PacketsSent    *int64
}

// IsEmpty reports whether the update carries no fields at all.
func (u *StatusUpdate) IsEmpty() bool {
	return u.BatteryMV == nil &&
		u.BatteryVoltage == nil &&
		u.RSSI == nil &&
		u.SNR == nil &&
		u.NoiseFloor == nil &&
		u.UptimeSeconds == nil &&
		u.PacketsRecv == nil &&
		u.PacketsSent == nil
}

// PingResult is the outcome of an on-demand repeater refresh.
type PingResult struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

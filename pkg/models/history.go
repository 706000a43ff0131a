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

package models

// TelemetrySample is one appended history row, written after each
// successful status/telemetry merge. Timestamps are epoch seconds,
// matching the on-disk schema. Rows are immutable once written.
type TelemetrySample struct {
	Timestamp      float64 `json:"ts"`
	PubKey         string  `json:"pubkey"`
	Name           string  `json:"name"`
	BatteryMV      int     `json:"battery_mv"`
	BatteryVoltage float64 `json:"battery_v"`
	RSSI           int     `json:"rssi"`
	SNR            float64 `json:"snr"`
	UptimeSeconds  int64   `json:"uptime"`
}

// ActivityLogEntry is one captured log line.
type ActivityLogEntry struct {
	ID        int64   `json:"id"`
	Timestamp float64 `json:"ts"`
	Level     string  `json:"level"`
	Source    string  `json:"logger"`
	Message   string  `json:"message"`
}

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

import "time"

// RepeaterConfig describes one configured repeater.
type RepeaterConfig struct {
	Name      string `json:"name"`
	PubKey    string `json:"pubkey"`
	Path      string `json:"path,omitempty"`
	AdminPass string `json:"admin_pass,omitempty"`
}

// Settings is an immutable snapshot of the dashboard-editable
// configuration. The poller fetches a fresh snapshot once per cycle so
// web UI changes take effect without a restart.
type Settings struct {
	CompanionHost         string           `json:"companion_host"`
	CompanionPort         int              `json:"companion_port"`
	Repeaters             []RepeaterConfig `json:"repeaters"`
	PollIntervalSeconds   int              `json:"poll_interval_seconds"`
	StaggerDelaySeconds   int              `json:"stagger_delay_seconds"`
	StaleThresholdSeconds int              `json:"stale_threshold_seconds"`
	LowBatteryPercent     int              `json:"low_battery_percent"`
	LogRetentionHours     int              `json:"log_retention_hours"`
}

func (s *Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s *Settings) StaggerDelay() time.Duration {
	return time.Duration(s.StaggerDelaySeconds) * time.Second
}

func (s *Settings) StaleThreshold() time.Duration {
	return time.Duration(s.StaleThresholdSeconds) * time.Second
}

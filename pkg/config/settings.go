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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/carverauto/meshwatch/pkg/logger"
	"github.com/carverauto/meshwatch/pkg/models"
)

// Minimums enforced when settings are saved from the dashboard. Values
// below these would hammer the radio network or flap the online state.
const (
	MinPollIntervalSeconds   = 30
	MinStaggerDelaySeconds   = 5
	MinStaleThresholdSeconds = 60
	MinLogRetentionHours     = 1
)

var (
	ErrCompanionHostRequired = errors.New("companion host is required")
	ErrRepeaterIncomplete    = errors.New("each repeater needs a name and public key")
)

// DefaultSettings returns the settings used before a settings file exists.
func DefaultSettings() models.Settings {
	return models.Settings{
		CompanionHost:         "",
		CompanionPort:         5000,
		Repeaters:             []models.RepeaterConfig{},
		PollIntervalSeconds:   120,
		StaggerDelaySeconds:   15,
		StaleThresholdSeconds: 900,
		LowBatteryPercent:     20,
		LogRetentionHours:     24,
	}
}

// SettingsManager owns the dashboard-editable settings file. Reads
// re-load the file every time so a snapshot taken at the top of a poll
// cycle always reflects the latest saved state; writers and readers
// serialize on the manager's lock.
type SettingsManager struct {
	mu     sync.Mutex
	path   string
	logger logger.Logger
}

func NewSettingsManager(path string, log logger.Logger) *SettingsManager {
	return &SettingsManager{
		path:   path,
		logger: log,
	}
}

// Snapshot returns the current settings merged over defaults. A missing
// or unreadable file yields the defaults; the snapshot is a value and
// never mutated after return.
func (m *SettingsManager) Snapshot() models.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings := DefaultSettings()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Str("path", m.path).Msg("Failed to read settings file, using defaults")
		}

		return settings
	}

	// Unmarshal over the defaults so keys added after the file was
	// written still get their default values.
	if err := json.Unmarshal(data, &settings); err != nil {
		m.logger.Warn().Err(err).Str("path", m.path).Msg("Failed to parse settings file, using defaults")
		return DefaultSettings()
	}

	return settings
}

// Save validates, normalizes and persists new settings atomically.
func (m *SettingsManager) Save(settings models.Settings) error {
	if err := ValidateSettings(&settings); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	m.logger.Info().
		Str("companion", fmt.Sprintf("%s:%d", settings.CompanionHost, settings.CompanionPort)).
		Int("repeaters", len(settings.Repeaters)).
		Msg("Settings saved")

	return nil
}

// StaleThreshold reads the live stale threshold. The store calls this
// on every read so threshold changes apply without touching stored data.
func (m *SettingsManager) StaleThreshold() time.Duration {
	s := m.Snapshot()
	return s.StaleThreshold()
}

// ValidateSettings checks required fields and clamps timing values to
// their minimums in place.
func ValidateSettings(s *models.Settings) error {
	if s.CompanionHost == "" {
		return ErrCompanionHostRequired
	}

	if s.CompanionPort == 0 {
		s.CompanionPort = 5000
	}

	for i := range s.Repeaters {
		if s.Repeaters[i].Name == "" || s.Repeaters[i].PubKey == "" {
			return ErrRepeaterIncomplete
		}
	}

	if s.PollIntervalSeconds < MinPollIntervalSeconds {
		s.PollIntervalSeconds = MinPollIntervalSeconds
	}

	if s.StaggerDelaySeconds < MinStaggerDelaySeconds {
		s.StaggerDelaySeconds = MinStaggerDelaySeconds
	}

	if s.StaleThresholdSeconds < MinStaleThresholdSeconds {
		s.StaleThresholdSeconds = MinStaleThresholdSeconds
	}

	if s.LogRetentionHours < MinLogRetentionHours {
		s.LogRetentionHours = MinLogRetentionHours
	}

	if s.LowBatteryPercent <= 0 {
		s.LowBatteryPercent = 20
	}

	return nil
}

// EnsureParentDir creates the directory holding the settings file so a
// first Save on a fresh install does not fail.
func (m *SettingsManager) EnsureParentDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}

	return os.MkdirAll(dir, 0o755)
}

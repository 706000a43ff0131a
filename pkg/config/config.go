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

// Package config handles loading and validation of the monitor's
// configuration: a static app config read once at startup, and the
// dashboard-editable settings file re-read as a snapshot each poll cycle.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/carverauto/meshwatch/pkg/logger"
)

var (
	errLoadConfigFailed = errors.New("failed to load configuration")
	errListenAddrEmpty  = errors.New("listen_addr must not be empty")
)

// Validator is implemented by config structs that can check themselves
// after loading.
type Validator interface {
	Validate() error
}

// AppConfig is the static process configuration, loaded once at startup.
type AppConfig struct {
	ListenAddr   string         `json:"listen_addr"`
	DatabasePath string         `json:"database_path"`
	SettingsPath string         `json:"settings_path"`
	Logging      *logger.Config `json:"logging,omitempty"`
}

func (c *AppConfig) Validate() error {
	if c.ListenAddr == "" {
		return errListenAddrEmpty
	}

	if c.DatabasePath == "" {
		c.DatabasePath = "repeater_history.db"
	}

	if c.SettingsPath == "" {
		c.SettingsPath = "settings.json"
	}

	return nil
}

// LoadAndValidate reads a JSON config file into dst and runs its
// Validate hook if it has one.
func LoadAndValidate(_ context.Context, path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read file '%s': %w", errLoadConfigFailed, path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: failed to unmarshal JSON from '%s': %w", errLoadConfigFailed, path, err)
	}

	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %w", errLoadConfigFailed, err)
		}
	}

	return nil
}

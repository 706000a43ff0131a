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

package store

import (
	"encoding/json"
	"io"
	"strings"
)

// activityWriter captures zerolog output lines into the activity_log
// table. It always reports success: a failed insert must never break
// logging or the caller that emitted the line.
type activityWriter struct {
	store *Store
}

// LogWriter returns an io.Writer suitable as an extra zerolog sink.
// Returns a discarding writer when persistence is disabled.
func (s *Store) LogWriter() io.Writer {
	if s.db == nil {
		return io.Discard
	}

	return &activityWriter{store: s}
}

type logLine struct {
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

func (w *activityWriter) Write(p []byte) (int, error) {
	var line logLine

	if err := json.Unmarshal(p, &line); err != nil {
		return len(p), nil
	}

	if line.Message == "" {
		return len(p), nil
	}

	source := line.Component
	if source == "" {
		source = "app"
	}

	_, err := w.store.db.Exec(
		"INSERT INTO activity_log (timestamp, level, logger_name, message) VALUES (?, ?, ?, ?)",
		timeToEpoch(w.store.now()), strings.ToUpper(line.Level), source, line.Message,
	)
	if err != nil {
		// Swallowed: the stdout copy of the line still exists.
		return len(p), nil
	}

	return len(p), nil
}

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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/meshwatch/pkg/models"
)

const (
	defaultWindowHours = 24
	defaultLogLimit    = 500
	streamInterval     = 5 * time.Second
)

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}

	return n
}

func (s *APIServer) getRepeaters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.ListAll())
}

func (s *APIServer) getHistory(w http.ResponseWriter, r *http.Request) {
	pubKey := mux.Vars(r)["pubkey"]
	hours := queryInt(r, "hours", defaultWindowHours)

	samples, err := s.store.QueryHistory(pubKey, hours)
	if err != nil {
		s.logger.Error().Err(err).Str("pubkey", pubKey).Msg("History query failed")
		http.Error(w, "history query failed", http.StatusInternalServerError)

		return
	}

	if samples == nil {
		samples = []models.TelemetrySample{}
	}

	s.writeJSON(w, http.StatusOK, samples)
}

func (s *APIServer) getLogs(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)
	limit := queryInt(r, "limit", defaultLogLimit)
	level := r.URL.Query().Get("level")
	search := r.URL.Query().Get("search")

	entries, err := s.store.QueryActivity(hours, level, search, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Activity query failed")
		http.Error(w, "activity query failed", http.StatusInternalServerError)

		return
	}

	if entries == nil {
		entries = []models.ActivityLogEntry{}
	}

	s.writeJSON(w, http.StatusOK, entries)
}

// streamUpdates pushes the full repeater list to the dashboard as
// server-sent events until the client goes away.
func (s *APIServer) streamUpdates(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		data, err := json.Marshal(s.store.ListAll())
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode stream update")
			return
		}

		fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *APIServer) getSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Snapshot())
}

type settingsResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// postSettings validates and saves new settings, reconciles the store
// with the new repeater list, and asks the poller to reconnect.
func (s *APIServer) postSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.Settings

	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeJSON(w, http.StatusBadRequest, settingsResponse{OK: false, Error: "invalid settings payload"})
		return
	}

	if err := s.settings.Save(settings); err != nil {
		s.writeJSON(w, http.StatusOK, settingsResponse{OK: false, Error: err.Error()})
		return
	}

	s.store.SyncDevices(settings.Repeaters)
	s.scheduler.RequestReconnect()

	s.writeJSON(w, http.StatusOK, settingsResponse{OK: true})
}

func (s *APIServer) pingRepeater(w http.ResponseWriter, r *http.Request) {
	pubKey := mux.Vars(r)["pubkey"]

	result := s.scheduler.PingDevice(r.Context(), pubKey)

	s.writeJSON(w, http.StatusOK, result)
}

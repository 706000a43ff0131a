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
	"database/sql"
	"strings"
	"time"

	"github.com/carverauto/meshwatch/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS telemetry_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp REAL NOT NULL,
	pubkey TEXT NOT NULL,
	name TEXT,
	battery_mv INTEGER,
	battery_voltage REAL,
	rssi INTEGER,
	snr REAL,
	uptime_seconds INTEGER
);
CREATE INDEX IF NOT EXISTS idx_telemetry_pubkey_ts
	ON telemetry_log (pubkey, timestamp);
CREATE TABLE IF NOT EXISTS activity_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp REAL NOT NULL,
	level TEXT NOT NULL,
	logger_name TEXT NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_log_ts
	ON activity_log (timestamp);
`

func initSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return err
	}

	_, err := db.Exec(schema)

	return err
}

func (s *Store) appendSample(sample *models.TelemetrySample) error {
	_, err := s.db.Exec(
		`INSERT INTO telemetry_log
			(timestamp, pubkey, name, battery_mv, battery_voltage, rssi, snr, uptime_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.Timestamp, sample.PubKey, sample.Name, sample.BatteryMV,
		sample.BatteryVoltage, sample.RSSI, sample.SNR, sample.UptimeSeconds,
	)

	return err
}

// QueryHistory returns telemetry rows for one repeater over the last
// given number of hours, ascending by timestamp.
func (s *Store) QueryHistory(pubKey string, hours int) ([]models.TelemetrySample, error) {
	if s.db == nil {
		return nil, nil
	}

	since := float64(s.now().Unix()) - float64(hours)*3600

	rows, err := s.db.Query(
		`SELECT timestamp, pubkey, name, battery_mv, battery_voltage, rssi, snr, uptime_seconds
			FROM telemetry_log
			WHERE pubkey = ? AND timestamp > ?
			ORDER BY timestamp`,
		pubKey, since,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var samples []models.TelemetrySample

	for rows.Next() {
		var t models.TelemetrySample

		if err := rows.Scan(&t.Timestamp, &t.PubKey, &t.Name, &t.BatteryMV,
			&t.BatteryVoltage, &t.RSSI, &t.SNR, &t.UptimeSeconds); err != nil {
			return nil, err
		}

		samples = append(samples, t)
	}

	return samples, rows.Err()
}

// QueryActivity returns the most recent activity rows within the time
// window, descending by timestamp. level filters by exact severity
// match (case-insensitive), search by substring match on the message.
func (s *Store) QueryActivity(hours int, level, search string, limit int) ([]models.ActivityLogEntry, error) {
	if s.db == nil {
		return nil, nil
	}

	since := float64(s.now().Unix()) - float64(hours)*3600

	query := `SELECT id, timestamp, level, logger_name, message
		FROM activity_log WHERE timestamp > ?`
	args := []interface{}{since}

	if level != "" {
		query += " AND level = ?"
		args = append(args, strings.ToUpper(level))
	}

	if search != "" {
		query += " AND message LIKE ?"
		args = append(args, "%"+search+"%")
	}

	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []models.ActivityLogEntry

	for rows.Next() {
		var e models.ActivityLogEntry

		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Source, &e.Message); err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// PruneActivity deletes activity rows older than the retention window.
// Idempotent; a second call with the same cutoff is a no-op.
func (s *Store) PruneActivity(retentionHours int) error {
	if s.db == nil {
		return nil
	}

	cutoff := float64(s.now().Unix()) - float64(retentionHours)*3600

	_, err := s.db.Exec("DELETE FROM activity_log WHERE timestamp < ?", cutoff)

	return err
}

// timeToEpoch converts a wall-clock time to fractional epoch seconds,
// the timestamp representation used across both tables.
func timeToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

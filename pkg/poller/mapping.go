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

package poller

import (
	"math"

	"github.com/carverauto/meshwatch/pkg/meshcore"
	"github.com/carverauto/meshwatch/pkg/models"
)

// Firmware builds that report SNR in quarter-dB fixed point produce
// integral values well outside the plausible dB range; anything whose
// magnitude exceeds this threshold is assumed to be fixed point.
// Possibly firmware-specific; the threshold and divisor match observed
// device behavior.
const (
	snrFixedPointThreshold = 50
	snrFixedPointDivisor   = 4
)

// normalizeSNR converts a raw SNR reading to dB. Integral values with
// magnitude above the threshold are quarter-dB fixed point; everything
// else is already scaled.
func normalizeSNR(raw float64) float64 {
	if raw == math.Trunc(raw) && math.Abs(raw) > snrFixedPointThreshold {
		return raw / snrFixedPointDivisor
	}

	return raw
}

// statusToUpdate maps a raw status payload onto the canonical update
// set. Battery voltage is derived from millivolts; SNR is unit
// normalized; everything else passes through.
func statusToUpdate(status *meshcore.StatusPayload) *models.StatusUpdate {
	u := &models.StatusUpdate{}

	if status.BatteryMV != nil {
		mv := *status.BatteryMV
		volts := float64(mv) / 1000.0
		u.BatteryMV = &mv
		u.BatteryVoltage = &volts
	}

	if status.LastRSSI != nil {
		rssi := *status.LastRSSI
		u.RSSI = &rssi
	}

	if status.LastSNR != nil {
		snr := normalizeSNR(*status.LastSNR)
		u.SNR = &snr
	}

	if status.NoiseFloor != nil {
		nf := *status.NoiseFloor
		u.NoiseFloor = &nf
	}

	if status.UptimeSeconds != nil {
		uptime := *status.UptimeSeconds
		u.UptimeSeconds = &uptime
	}

	if status.PacketsRecv != nil {
		recv := *status.PacketsRecv
		u.PacketsRecv = &recv
	}

	if status.PacketsSent != nil {
		sent := *status.PacketsSent
		u.PacketsSent = &sent
	}

	return u
}

// telemetryToUpdate scans an LPP sensor list for a voltage sensor, or
// an analog sensor on channel 0, and derives battery readings from it.
func telemetryToUpdate(sensors []meshcore.TelemetrySensor) *models.StatusUpdate {
	u := &models.StatusUpdate{}

	for i := range sensors {
		sensor := &sensors[i]
		if sensor.Value == nil {
			continue
		}

		if sensor.Type == "voltage" || (sensor.Type == "analog" && sensor.Channel == 0) {
			volts := *sensor.Value
			mv := int(volts * 1000)
			u.BatteryVoltage = &volts
			u.BatteryMV = &mv
		}
	}

	return u
}

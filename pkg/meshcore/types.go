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

// Package meshcore adapts the companion gateway's command/response
// protocol into canonical records. All wire-shape tolerance lives at
// this boundary; callers never branch on payload encodings.
package meshcore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Contact is the canonical form of one reachable node as reported by
// the companion's contact listing.
type Contact struct {
	PublicKey string
	Hops      int
	RoutePath string
}

// StatusPayload carries the raw fields of a repeater status response.
// Pointer fields are absent when the firmware did not report them.
// Values are unconverted; unit normalization happens in the poller.
type StatusPayload struct {
	BatteryMV     *int     `json:"bat"`
	LastRSSI      *int     `json:"last_rssi"`
	LastSNR       *float64 `json:"last_snr"`
	NoiseFloor    *int     `json:"noise_floor"`
	UptimeSeconds *int64   `json:"uptime"`
	PacketsRecv   *int64   `json:"nb_recv"`
	PacketsSent   *int64   `json:"nb_sent"`
}

// TelemetrySensor is one entry of an LPP telemetry response.
type TelemetrySensor struct {
	Channel int      `json:"channel"`
	Type    string   `json:"type"`
	Value   *float64 `json:"value"`
}

// wireContact tolerates the contact encodings seen from different
// companion firmware builds.
type wireContact struct {
	PublicKey string          `json:"public_key"`
	Hops      *int            `json:"hops"`
	PathLen   *int            `json:"path_len"`
	Path      json.RawMessage `json:"path"`
	Route     json.RawMessage `json:"route"`
}

func (w *wireContact) canonical(outerKey string) Contact {
	c := Contact{PublicKey: w.PublicKey}
	if c.PublicKey == "" {
		c.PublicKey = outerKey
	}

	switch {
	case w.Hops != nil:
		c.Hops = *w.Hops
	case w.PathLen != nil:
		c.Hops = *w.PathLen
	}

	raw := w.Path
	if len(raw) == 0 {
		raw = w.Route
	}

	c.RoutePath = decodeRoutePath(raw)

	return c
}

// decodeRoutePath renders a wire route into the canonical display form.
// Accepted encodings: an array of hop bytes, a mixed array of numbers
// and strings, or an already-formatted string.
func decodeRoutePath(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var asList []interface{}
	if err := json.Unmarshal(raw, &asList); err != nil {
		return ""
	}

	parts := make([]string, 0, len(asList))

	for _, v := range asList {
		switch hop := v.(type) {
		case float64:
			parts = append(parts, fmt.Sprintf("%02x", int(hop)&0xff))
		case string:
			parts = append(parts, hop)
		}
	}

	return strings.Join(parts, RoutePathSeparator)
}

// decodeContacts normalizes the two contact listing shapes (a mapping
// keyed by public key, or a sequence of records) into canonical
// contacts, preserving the response's own ordering.
func decodeContacts(raw json.RawMessage) ([]string, map[string]Contact, error) {
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")

	if strings.HasPrefix(trimmed, "[") {
		var list []wireContact
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, nil, err
		}

		keys := make([]string, 0, len(list))
		contacts := make(map[string]Contact, len(list))

		for i := range list {
			c := list[i].canonical("")
			if c.PublicKey == "" {
				continue
			}

			if _, seen := contacts[c.PublicKey]; !seen {
				keys = append(keys, c.PublicKey)
			}

			contacts[c.PublicKey] = c
		}

		return keys, contacts, nil
	}

	// Mapping shape: walk tokens so key order survives, unlike a map
	// unmarshal.
	dec := json.NewDecoder(strings.NewReader(string(raw)))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("unexpected contacts payload: %s", trimmed[:min(len(trimmed), 32)])
	}

	var (
		keys     []string
		contacts = make(map[string]Contact)
	)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}

		key, _ := keyTok.(string)

		var wc wireContact
		if err := dec.Decode(&wc); err != nil {
			return nil, nil, err
		}

		if _, seen := contacts[key]; !seen {
			keys = append(keys, key)
		}

		contacts[key] = wc.canonical(key)
	}

	return keys, contacts, nil
}

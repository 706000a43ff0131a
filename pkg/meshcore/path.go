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

package meshcore

import (
	"fmt"
	"strconv"
	"strings"
)

// RoutePathSeparator joins rendered hop bytes in the human-readable
// route form, e.g. "4d > 3c > ee".
const RoutePathSeparator = " > "

// ParseRoutePath parses a comma-separated list of hex hop bytes as
// entered in the dashboard ("4d,3c,ee"). Case-insensitive and tolerant
// of whitespace. An empty string yields an empty path.
func ParseRoutePath(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	path := make([]byte, 0, len(parts))

	for _, p := range parts {
		if p == "" {
			continue
		}

		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hop byte %q: %w", p, err)
		}

		path = append(path, byte(b))
	}

	return path, nil
}

// FormatRoutePath renders hop bytes as lowercase two-digit hex joined
// by the route separator.
func FormatRoutePath(path []byte) string {
	if len(path) == 0 {
		return ""
	}

	parts := make([]string, len(path))
	for i, b := range path {
		parts[i] = fmt.Sprintf("%02x", b)
	}

	return strings.Join(parts, RoutePathSeparator)
}

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
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/carverauto/meshwatch/pkg/logger"
)

// Directory is a refreshable snapshot of the contacts currently known
// to the companion. It is owned by the poll scheduler and rebuilt
// wholesale on every refresh; no other component mutates it.
type Directory struct {
	mu       sync.RWMutex
	keys     []string
	contacts map[string]Contact
	logger   logger.Logger
}

func NewDirectory(log logger.Logger) *Directory {
	return &Directory{
		contacts: make(map[string]Contact),
		logger:   log,
	}
}

// Refresh replaces the snapshot with the companion's current contact
// listing. A protocol-level error response is logged and leaves the
// previous snapshot untouched; transport errors propagate so the
// scheduler can reconnect.
func (d *Directory) Refresh(ctx context.Context, session *Session) error {
	keys, contacts, err := session.Contacts(ctx)
	if err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			d.logger.Error().Str("detail", protoErr.Detail).Msg("get_contacts failed")
			return nil
		}

		return err
	}

	d.mu.Lock()
	d.keys = keys
	d.contacts = contacts
	d.mu.Unlock()

	d.logger.Info().Int("count", len(contacts)).Msg("Loaded contacts from companion")

	return nil
}

// Resolve finds the contact for a configured public key. Exact match
// wins; otherwise keys and inner identifiers are prefix-matched in
// both directions, first match in snapshot order. A miss means the
// device is currently unreachable, not an error.
func (d *Directory) Resolve(pubKey string) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if c, ok := d.contacts[pubKey]; ok {
		return c, true
	}

	for _, key := range d.keys {
		c := d.contacts[key]

		if prefixMatch(key, pubKey) || prefixMatch(c.PublicKey, pubKey) {
			return c, true
		}
	}

	return Contact{}, false
}

// Len reports the size of the current snapshot.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.contacts)
}

func prefixMatch(stored, query string) bool {
	if stored == "" || query == "" {
		return false
	}

	return strings.HasPrefix(stored, query) || strings.HasPrefix(query, stored)
}

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
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/meshwatch/pkg/logger"
	"github.com/carverauto/meshwatch/pkg/meshcore"
	"github.com/carverauto/meshwatch/pkg/models"
	"github.com/carverauto/meshwatch/pkg/store"
)

const (
	// Delay before re-entering Connecting after a session failure.
	reconnectDelay = 10 * time.Second

	// Repeaters need a moment after login before they answer queries.
	loginSettleDelay = 3 * time.Second

	// Gap between the status and telemetry requests of one device.
	statusTelemetryGap = 2 * time.Second

	// On-demand pings use shorter settle delays than the cycle.
	pingSettleDelay = time.Second

	// Long sleeps are cut into slices this size so stop and reconnect
	// requests are honored promptly.
	sleepSlice = 2 * time.Second
)

// SnapshotFunc returns the current configuration snapshot. It is
// called once per cycle so dashboard edits apply without a restart.
type SnapshotFunc func() models.Settings

// SessionFactory establishes a companion session. Overridable in tests.
type SessionFactory func(ctx context.Context, host string, port int, log logger.Logger) (*meshcore.Session, error)

// Poller drives the poll cycle: it owns the companion session and the
// contact directory, polls every configured repeater in list order
// with staggered delays, and writes results into the store.
type Poller struct {
	store     *store.Store
	snapshot  SnapshotFunc
	directory *meshcore.Directory
	clock     Clock
	logger    logger.Logger

	// Dial is the session factory. Tests replace it to inject a fake
	// companion.
	Dial SessionFactory

	sessionMu sync.Mutex
	session   *meshcore.Session

	currentHost string
	currentPort int

	needsReconnect atomic.Bool
	started        atomic.Bool
	done           chan struct{}
	closeOnce      sync.Once
}

// New creates a poller. A nil clock defaults to the real clock.
func New(s *store.Store, snapshot SnapshotFunc, clock Clock, log logger.Logger) *Poller {
	if clock == nil {
		clock = realClock{}
	}

	return &Poller{
		store:     s,
		snapshot:  snapshot,
		directory: meshcore.NewDirectory(log),
		clock:     clock,
		logger:    log,
		Dial:      meshcore.Connect,
		done:      make(chan struct{}),
	}
}

// RequestReconnect asks the poller to drop the session and reconnect
// with fresh settings. Consumed at the next safe checkpoint: the top
// of a per-device iteration or an interruptible sleep.
func (p *Poller) RequestReconnect() {
	p.needsReconnect.Store(true)
}

func (p *Poller) setSession(s *meshcore.Session) {
	p.sessionMu.Lock()
	p.session = s
	p.sessionMu.Unlock()
}

func (p *Poller) getSession() *meshcore.Session {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()

	return p.session
}

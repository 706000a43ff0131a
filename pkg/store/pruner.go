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
	"context"
	"sync"
	"time"

	"github.com/carverauto/meshwatch/pkg/logger"
	"github.com/carverauto/meshwatch/pkg/models"
)

const defaultPruneInterval = time.Hour

// RetentionPruner periodically deletes activity rows older than the
// configured retention window. It reads the retention setting fresh on
// every tick so dashboard changes apply without a restart.
type RetentionPruner struct {
	store     *Store
	snapshot  func() models.Settings
	interval  time.Duration
	logger    logger.Logger
	done      chan struct{}
	closeOnce sync.Once
}

func NewRetentionPruner(s *Store, snapshot func() models.Settings, log logger.Logger) *RetentionPruner {
	return &RetentionPruner{
		store:    s,
		snapshot: snapshot,
		interval: defaultPruneInterval,
		logger:   log,
		done:     make(chan struct{}),
	}
}

// Start implements the lifecycle.Service interface. It blocks until
// Stop is called or the context is cancelled.
func (p *RetentionPruner) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case <-ticker.C:
			retention := p.snapshot().LogRetentionHours
			if err := p.store.PruneActivity(retention); err != nil {
				p.logger.Error().Err(err).Int("retention_hours", retention).Msg("Activity log prune failed")
			}
		}
	}
}

// Stop implements the lifecycle.Service interface.
func (p *RetentionPruner) Stop(_ context.Context) error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

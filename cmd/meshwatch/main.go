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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/carverauto/meshwatch/pkg/api"
	"github.com/carverauto/meshwatch/pkg/config"
	"github.com/carverauto/meshwatch/pkg/lifecycle"
	"github.com/carverauto/meshwatch/pkg/logger"
	"github.com/carverauto/meshwatch/pkg/poller"
	"github.com/carverauto/meshwatch/pkg/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/meshwatch/meshwatch.json", "Path to app config file")
	flag.Parse()

	ctx := context.Background()

	cfg := config.AppConfig{}
	if err := config.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		// A missing app config is not fatal: run on defaults so a
		// fresh install comes up and is configured from the dashboard.
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "config: %v, using defaults\n", err)
		}

		cfg = config.AppConfig{ListenAddr: ":8080"}
		_ = cfg.Validate()
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	// Bootstrap logger for components built before the activity sink
	// exists. The store's own messages go to stdout only.
	bootLog, err := lifecycle.CreateComponentLogger("store", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	settings := config.NewSettingsManager(cfg.SettingsPath, bootLog)
	if err := settings.EnsureParentDir(); err != nil {
		return err
	}

	st, err := store.New(cfg.DatabasePath, settings.StaleThreshold, bootLog)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Application logger: every line also lands in the activity log.
	appLog, err := lifecycle.CreateLogger(logConfig, st.LogWriter())
	if err != nil {
		return err
	}

	p := poller.New(st, settings.Snapshot, nil, appLog.WithComponent("meshcore_poller"))

	pruner := store.NewRetentionPruner(st, settings.Snapshot, appLog.WithComponent("pruner"))

	apiServer := api.NewAPIServer(cfg.ListenAddr,
		api.WithStore(st),
		api.WithSettings(settings),
		api.WithScheduler(p),
		api.WithLogger(appLog.WithComponent("api")),
	)

	return lifecycle.Run(ctx, appLog.WithComponent("app"), p, pruner, apiServer)
}

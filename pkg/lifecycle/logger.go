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

package lifecycle

import (
	"io"

	"github.com/carverauto/meshwatch/pkg/logger"
)

// CreateLogger creates a logger instance that can be injected into
// services. Extra sinks receive a copy of every log line.
func CreateLogger(config *logger.Config, sinks ...io.Writer) (logger.Logger, error) {
	return logger.New(config, sinks...)
}

// CreateComponentLogger creates a logger tagged with a component name.
func CreateComponentLogger(component string, config *logger.Config, sinks ...io.Writer) (logger.Logger, error) {
	log, err := logger.New(config, sinks...)
	if err != nil {
		return nil, err
	}

	return log.WithComponent(component), nil
}

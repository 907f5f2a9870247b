// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import "fmt"

// ValidateConfig returns a non-nil error if the config is unusable.
func ValidateConfig(config *Config) error {
	if config.Device.Path == "" {
		return fmt.Errorf("device.path must be set")
	}
	if config.Device.CacheSlots < 0 {
		return fmt.Errorf("device.cache-slots cannot be negative")
	}
	if !validSeverities[config.Logging.Severity] {
		return fmt.Errorf("invalid logging.severity: %s", config.Logging.Severity)
	}
	if config.Logging.Format != TextLogFormat && config.Logging.Format != JSONLogFormat {
		return fmt.Errorf("invalid logging.format: %s", config.Logging.Format)
	}
	return nil
}

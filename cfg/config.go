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

// Package cfg is blockfsctl's configuration surface: flags bound through
// pflag, read through viper, and unmarshaled into a Config with
// mapstructure, the same three-library pipeline cmd/root.go uses for
// gcsfuse's much larger configuration.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for one blockfsctl
// invocation.
type Config struct {
	Device     DeviceConfig     `mapstructure:"device" yaml:"device"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// DeviceConfig names the backing device and its format-time geometry.
type DeviceConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	SectorCount uint32 `mapstructure:"sector-count" yaml:"sector-count"`
	CacheSlots  int    `mapstructure:"cache-slots" yaml:"cache-slots"`
}

// LoggingConfig controls internal/logger's severity and output format.
type LoggingConfig struct {
	Severity LogSeverity `mapstructure:"severity" yaml:"severity"`
	Format   LogFormat   `mapstructure:"format" yaml:"format"`
}

// BindFlags registers every flag blockfsctl subcommands share and binds
// each to its viper key; cmd/root.go calls it on the root command's
// persistent flags.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.StringP("device", "d", "", "Path to the backing device file.")
	if err := viper.BindPFlag("device.path", flagSet.Lookup("device")); err != nil {
		return err
	}

	flagSet.Uint32P("sectors", "", DefaultSectorCount, "Number of sectors in the device (format creates it with this many; mount and stat open it with this many).")
	if err := viper.BindPFlag("device.sector-count", flagSet.Lookup("sectors")); err != nil {
		return err
	}

	flagSet.IntP("cache-slots", "", 0, "Number of buffer-cache slots (0 uses the built-in default).")
	if err := viper.BindPFlag("device.cache-slots", flagSet.Lookup("cache-slots")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", string(TextLogFormat), "Log output format: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	return nil
}

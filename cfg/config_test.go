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

package cfg_test

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/ondiskfs/blockfs/cfg"
)

func TestBindFlagsThenUnmarshal(t *testing.T) {
	viper.Reset()
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, cfg.BindFlags(flagSet))
	require.NoError(t, flagSet.Parse([]string{"--device", "/tmp/disk.img", "--log-severity", "debug"}))

	var c cfg.Config
	require.NoError(t, viper.Unmarshal(&c, viper.DecodeHook(cfg.DecodeHook())))

	require.Equal(t, "/tmp/disk.img", c.Device.Path)
	require.Equal(t, cfg.DebugLogSeverity, c.Logging.Severity)
}

func TestValidateConfigRejectsMissingDevice(t *testing.T) {
	c := cfg.Config{Logging: cfg.GetDefaultLoggingConfig()}
	require.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	c := cfg.Config{
		Device:  cfg.DeviceConfig{Path: "/tmp/disk.img"},
		Logging: cfg.GetDefaultLoggingConfig(),
	}
	require.NoError(t, cfg.ValidateConfig(&c))
}

func TestLogSeverityUnmarshalRejectsUnknown(t *testing.T) {
	var s cfg.LogSeverity
	require.Error(t, s.UnmarshalText([]byte("VERBOSE")))
}

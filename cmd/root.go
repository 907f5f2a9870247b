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

// Package cmd is blockfsctl's cobra command tree: format, mount and stat
// subcommands over a single backing device, bound through cfg.BindFlags
// the same way gcsfuse's cmd/root.go binds its mount flags.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ondiskfs/blockfs/cfg"
	"github.com/ondiskfs/blockfs/internal/logger"
)

var (
	cfgFile      string
	bindErr      error
	unmarshalErr error
	MountConfig  cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "blockfsctl",
	Short: "Format, mount and inspect a blockfs volume",
	Long: `blockfsctl operates on a single backing device file formatted with
the blockfs on-disk layout: a buffer-cached, free-map-backed inode file
system with direct, indirect and doubly-indirect block maps.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return cfg.ValidateConfig(&MountConfig)
	},
}

// Execute runs the command tree, exiting the process with status 1 on
// error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(statCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			unmarshalErr = fmt.Errorf("error while reading config file: %w", err)
			return
		}
	}
	unmarshalErr = viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook()))
	if unmarshalErr == nil {
		logger.SetSeverity(string(MountConfig.Logging.Severity))
		logger.SetFormat(string(MountConfig.Logging.Format))
	}
}

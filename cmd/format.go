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

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ondiskfs/blockfs/internal/device"
	"github.com/ondiskfs/blockfs/internal/logger"
	"github.com/ondiskfs/blockfs/fs"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Create and format a new backing device file",
	RunE: func(cmd *cobra.Command, args []string) error {
		sectors := MountConfig.Device.SectorCount
		dev, err := device.OpenFileDevice(MountConfig.Device.Path, sectors, true)
		if err != nil {
			return fmt.Errorf("format: open device: %w", err)
		}
		defer dev.Close()

		fsys, err := fs.Format(dev, MountConfig.Device.CacheSlots)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		if err := fsys.Shutdown(); err != nil {
			return fmt.Errorf("format: shutdown: %w", err)
		}

		logger.Infof("formatted %s with %d sectors", MountConfig.Device.Path, sectors)
		return nil
	},
}

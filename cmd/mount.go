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
	"context"
	"fmt"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"

	"github.com/ondiskfs/blockfs/internal/device"
	"github.com/ondiskfs/blockfs/internal/fuseadapter"
	"github.com/ondiskfs/blockfs/internal/logger"
	"github.com/ondiskfs/blockfs/fs"
)

var mountCmd = &cobra.Command{
	Use:   "mount [mount point]",
	Short: "Mount the backing device as a FUSE file system",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint := args[0]

		dev, err := device.OpenFileDevice(MountConfig.Device.Path, MountConfig.Device.SectorCount, false)
		if err != nil {
			return fmt.Errorf("mount: open device: %w", err)
		}
		defer dev.Close()

		fsys, err := fs.Mount(dev, MountConfig.Device.CacheSlots)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		defer fsys.Shutdown()

		adapter := fuseadapter.New(fsys)
		server := fuseutil.NewFileSystemServer(adapter)

		mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{})
		if err != nil {
			return fmt.Errorf("mount: fuse.Mount: %w", err)
		}
		logger.Infof("mounted %s at %s", MountConfig.Device.Path, mountPoint)

		return mfs.Join(context.Background())
	},
}

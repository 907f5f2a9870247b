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
	"github.com/ondiskfs/blockfs/fs"
)

var statCmd = &cobra.Command{
	Use:   "stat [path]",
	Short: "Print an inode's sector number, type and length, and cache diagnostics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		dev, err := device.OpenFileDevice(MountConfig.Device.Path, MountConfig.Device.SectorCount, false)
		if err != nil {
			return fmt.Errorf("stat: open device: %w", err)
		}
		defer dev.Close()

		fsys, err := fs.Mount(dev, MountConfig.Device.CacheSlots)
		if err != nil {
			return fmt.Errorf("stat: %w", err)
		}
		defer fsys.Shutdown()

		s := fsys.NewSession()
		h, err := s.Open(path, false)
		if err != nil {
			return fmt.Errorf("stat: %w", err)
		}
		defer h.Close()

		fmt.Printf("inumber: %d\n", h.Inumber())
		fmt.Printf("isdir:   %v\n", h.IsDir())
		fmt.Printf("length:  %d\n", h.Length())
		fmt.Printf("cache_tries:  %d\n", fsys.CacheTries())
		fmt.Printf("cache_hits:   %d\n", fsys.CacheHits())
		fmt.Printf("disk_reads:   %d\n", fsys.DiskReads())
		fmt.Printf("disk_writes:  %d\n", fsys.DiskWrites())
		return nil
	},
}

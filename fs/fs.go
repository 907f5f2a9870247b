// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package fs is the file-system facade: it wires internal/cache,
// internal/freemap, fs/inode, fs/directory and fs/resolver together behind
// the create/open/remove/read/write/readdir surface a system-call layer
// would bind to. It plays the role gcsfuse's fs.FileSystem plays over a
// GCS bucket, but over a single backing device.Device instead.
package fs

import (
	"fmt"
	"sync"

	"github.com/ondiskfs/blockfs/internal/blockerr"
	"github.com/ondiskfs/blockfs/internal/cache"
	"github.com/ondiskfs/blockfs/internal/device"
	"github.com/ondiskfs/blockfs/internal/freemap"
	"github.com/ondiskfs/blockfs/internal/logger"
	"github.com/ondiskfs/blockfs/internal/metrics"
	"github.com/ondiskfs/blockfs/fs/directory"
	"github.com/ondiskfs/blockfs/fs/inode"
	"github.com/ondiskfs/blockfs/fs/resolver"
)

// Well-known sectors reserved at format time.
const (
	freeMapSector   uint32 = 0
	rootSector      uint32 = 1
	firstFreeSector uint32 = 2
)

// FileSystem owns the on-disk state for one mounted device: the cache, the
// free map, the resident inode table and the resolver built on top of
// them.
type FileSystem struct {
	dev     device.Device
	cache   *cache.Cache
	alloc   *freemap.Bitmap
	table   *inode.Table
	resolve *resolver.Resolver
	metrics *metrics.CacheMetrics

	mu sync.Mutex // serializes create/remove against each other
}

// Format initializes a fresh device: a free map with the reserved sectors
// marked allocated, and an empty root directory containing "." and "..".
// It returns a FileSystem ready to mount the freshly-formatted device.
// cacheSlots sizes the buffer cache; 0 selects cache.DefaultSlotCount.
func Format(dev device.Device, cacheSlots int) (*FileSystem, error) {
	total := dev.SectorCount()
	if total < firstFreeSector+1 {
		return nil, fmt.Errorf("fs: device too small to format: %d sectors", total)
	}

	m := metrics.NewCacheMetrics()
	c := cache.New(dev, cacheSlots, m)
	alloc := freemap.New(total)
	alloc.MarkAllocated(freeMapSector)
	alloc.MarkAllocated(rootSector)

	table := inode.NewTable(c, alloc)
	root := inode.New(c, alloc, rootSector, true)
	if err := root.Persist(); err != nil {
		return nil, fmt.Errorf("fs: format: %w", err)
	}
	table.Put(root)

	rootDir := directory.New(root)
	if err := rootDir.Add(".", rootSector); err != nil {
		return nil, fmt.Errorf("fs: format: %w", err)
	}
	if err := rootDir.Add("..", rootSector); err != nil {
		return nil, fmt.Errorf("fs: format: %w", err)
	}

	if err := persistFreeMap(c, alloc); err != nil {
		return nil, err
	}
	if err := c.FlushAll(); err != nil {
		return nil, fmt.Errorf("fs: format: %w", err)
	}

	logger.Infof("fs: formatted device with %d sectors", total)
	return newFileSystem(dev, c, alloc, table, m), nil
}

// Mount reconstructs a FileSystem from an already-formatted device,
// reloading the free map from its reserved sector. cacheSlots sizes the
// buffer cache; 0 selects cache.DefaultSlotCount.
func Mount(dev device.Device, cacheSlots int) (*FileSystem, error) {
	total := dev.SectorCount()
	m := metrics.NewCacheMetrics()
	c := cache.New(dev, cacheSlots, m)

	raw := make([]byte, device.SectorSize)
	if err := c.Read(freeMapSector, raw, 0, device.SectorSize); err != nil {
		return nil, fmt.Errorf("fs: mount: read free map: %w", err)
	}
	bitBytes := (int(total) + 7) / 8
	full := make([]byte, bitBytes)
	copy(full, raw)
	// The free map may span more than one sector for large devices; only
	// the first is modeled here since the reserved-sector layout
	// assumes a small volume. A production build would chain sectors.
	alloc, err := freemap.Load(total, full)
	if err != nil {
		return nil, fmt.Errorf("fs: mount: %w", err)
	}

	table := inode.NewTable(c, alloc)
	return newFileSystem(dev, c, alloc, table, m), nil
}

func newFileSystem(dev device.Device, c *cache.Cache, alloc *freemap.Bitmap, table *inode.Table, m *metrics.CacheMetrics) *FileSystem {
	return &FileSystem{
		dev:     dev,
		cache:   c,
		alloc:   alloc,
		table:   table,
		resolve: resolver.New(table, rootSector),
		metrics: m,
	}
}

func persistFreeMap(c *cache.Cache, alloc *freemap.Bitmap) error {
	raw := alloc.Persist()
	buf := make([]byte, device.SectorSize)
	copy(buf, raw)
	return c.Write(freeMapSector, buf, 0, device.SectorSize)
}

// RootSector returns the inode sector of the root directory, the starting
// current directory for a freshly-created Session.
func (fs *FileSystem) RootSector() uint32 { return rootSector }

// Create allocates a new inode at the path resolved from (parentPath under
// cwdSector), adding it to the containing directory. If isDir is true, the
// new inode's own "." and ".." entries are populated too. On any failure
// the allocated inode sector is released back to the free map.
func (fs *FileSystem) Create(path string, cwdSector uint32, isDir bool) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, name, err := fs.resolve.Resolve(path, cwdSector)
	if err != nil {
		return 0, err
	}
	if name == "" {
		return 0, blockerr.ErrExists
	}

	sector, ok := fs.alloc.Allocate()
	if !ok {
		return 0, blockerr.ErrNoSpace
	}

	in := inode.New(fs.cache, fs.alloc, sector, isDir)
	if err := in.Persist(); err != nil {
		fs.alloc.Release(sector)
		return 0, err
	}
	fs.table.Put(in)

	if err := dir.Add(name, sector); err != nil {
		fs.table.Forget(sector)
		fs.alloc.Release(sector)
		return 0, err
	}

	if isDir {
		child := directory.New(in)
		if err := child.Add(".", sector); err != nil {
			fs.rollbackCreate(dir, name, sector)
			return 0, err
		}
		if err := child.Add("..", dir.In.Sector); err != nil {
			fs.rollbackCreate(dir, name, sector)
			return 0, err
		}
	}

	if err := persistFreeMap(fs.cache, fs.alloc); err != nil {
		return 0, err
	}
	return sector, nil
}

func (fs *FileSystem) rollbackCreate(dir *directory.Directory, name string, sector uint32) {
	_ = dir.Remove(name)
	fs.table.Forget(sector)
	fs.alloc.Release(sector)
}

// Open resolves path to an inode sector. Passing "/" returns the root
// directory.
func (fs *FileSystem) Open(path string, cwdSector uint32) (uint32, error) {
	dir, name, err := fs.resolve.Resolve(path, cwdSector)
	if err != nil {
		return 0, err
	}
	if name == "" {
		return dir.In.Sector, nil
	}
	return dir.Lookup(name)
}

// Remove unlinks path's directory entry. If nobody has the target inode
// open, its sectors are returned to the free map immediately; otherwise the
// inode is marked unlinked and reclaimed when its last opener closes it
// (Handle.Close / Free).
func (fs *FileSystem) Remove(path string, cwdSector uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, name, err := fs.resolve.Resolve(path, cwdSector)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("fs: remove: target is the root directory: %w", blockerr.ErrBusy)
	}

	sector, err := dir.Lookup(name)
	if err != nil {
		return err
	}
	if sector == cwdSector {
		return fmt.Errorf("fs: remove: target is caller's current directory: %w", blockerr.ErrBusy)
	}

	target, err := fs.table.Get(sector)
	if err != nil {
		return err
	}

	if target.IsDir {
		// Empty takes the target's lock itself, so it is not held here.
		empty, err := directory.New(target).Empty()
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("fs: remove: directory not empty: %w", blockerr.ErrBusy)
		}
		// Unlike a file, a directory may not be unlinked out from under a
		// caller who still has it open elsewhere (e.g. as another
		// session's current directory); there is no deferred-reclaim path
		// for directories.
		target.Lock()
		open := target.OpenCount() > 0
		target.Unlock()
		if open {
			return fmt.Errorf("fs: remove: directory still open: %w", blockerr.ErrBusy)
		}
	}

	if err := dir.Remove(name); err != nil {
		return err
	}

	target.Lock()
	defer target.Unlock()
	if target.OpenCount() == 0 {
		// Nobody has this inode open: its sectors can be reclaimed now.
		if err := target.Free(); err != nil {
			return err
		}
		fs.table.Forget(sector)
		return persistFreeMap(fs.cache, fs.alloc)
	}
	// Someone still has it open; mark it for reclamation on their Close.
	target.Unlink()
	return nil
}

// Mkdir is sugar for Create(path, cwdSector, true).
func (fs *FileSystem) Mkdir(path string, cwdSector uint32) (uint32, error) {
	return fs.Create(path, cwdSector, true)
}

// Diagnostic accessors: cache_tries, cache_hits, disk_reads,
// disk_writes, cache_reset.
func (fs *FileSystem) CacheTries() uint64      { return fs.metrics.Snapshot().Tries }
func (fs *FileSystem) CacheHits() uint64       { return fs.metrics.Snapshot().Hits }
func (fs *FileSystem) DiskReads() uint64       { return fs.metrics.Snapshot().DeviceReads }
func (fs *FileSystem) DiskWrites() uint64      { return fs.metrics.Snapshot().DeviceWrites }
func (fs *FileSystem) CacheReset() {
	_ = fs.cache.FlushAll()
	fs.cache.Reset()
}

// Shutdown flushes every dirty cache slot. A FileSystem should not be used
// after Shutdown.
func (fs *FileSystem) Shutdown() error {
	return fs.cache.Shutdown()
}

// Table exposes the resident inode table for package-internal callers
// (Session, the FUSE adapter) that need direct inode access beyond what
// the path-based methods above offer.
func (fs *FileSystem) Table() *inode.Table { return fs.table }

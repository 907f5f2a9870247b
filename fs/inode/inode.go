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

// Package inode implements the on-disk inode: a fixed-size record mapping a
// byte length to a tree of direct, single-indirect and doubly-indirect data
// sector pointers, plus the in-memory bookkeeping (open count, deny-write
// count, growth) layered on top of it. The package is grounded on gcsfuse's
// fs/inode package (Inode interface, InvariantMutex-guarded mutable state,
// GUARDED_BY comment discipline) with the GCS object backing replaced by
// internal/cache sectors.
package inode

import (
	"fmt"
	"sync"

	"github.com/jacobsa/syncutil"

	"github.com/ondiskfs/blockfs/internal/blockerr"
	"github.com/ondiskfs/blockfs/internal/cache"
	"github.com/ondiskfs/blockfs/internal/freemap"
)

// Inode is one open or resident file or directory. Every exported mutating
// method requires mu to be held; ReadAt/WriteAt document their own locking.
type Inode struct {
	cache *cache.Cache
	alloc freemap.Allocator

	// Sector is the inode's own on-disk location. It never changes after
	// creation.
	Sector uint32

	// IsDir is fixed at creation time.
	IsDir bool

	// mu guards everything below and is invariant-checked on every
	// Lock/Unlock, the same discipline gcsfuse's DirInode.mu uses.
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	disk onDiskInode
	// GUARDED_BY(mu)
	openCount uint32
	// GUARDED_BY(mu)
	denyWriteCount uint32
	// unlinked is set once the directory entry pointing at this inode has
	// been removed; its sectors are freed when openCount next reaches
	// zero. GUARDED_BY(mu)
	unlinked bool
}

// New wraps a freshly allocated, zero-length inode at sector. It writes
// nothing to the device; the caller writes the record with Persist (as
// fs.FileSystem.Create does).
func New(c *cache.Cache, alloc freemap.Allocator, sector uint32, isDir bool) *Inode {
	in := &Inode{
		cache: c,
		alloc: alloc,
		Sector: sector,
		IsDir:  isDir,
		disk:   onDiskInode{IsDir: boolToUint32(isDir)},
	}
	in.mu = syncutil.NewInvariantMutex(in.checkInvariants)
	return in
}

// Load reads the inode already resident at sector back into memory.
func Load(c *cache.Cache, alloc freemap.Allocator, sector uint32) (*Inode, error) {
	buf := make([]byte, 512)
	if err := c.Read(sector, buf, 0, len(buf)); err != nil {
		return nil, fmt.Errorf("inode: load sector %d: %w", sector, err)
	}
	disk, err := decodeOnDiskInode(buf)
	if err != nil {
		return nil, fmt.Errorf("inode: load sector %d: %w", sector, err)
	}

	in := &Inode{
		cache:  c,
		alloc:  alloc,
		Sector: sector,
		IsDir:  disk.IsDir != 0,
		disk:   disk,
	}
	in.mu = syncutil.NewInvariantMutex(in.checkInvariants)
	return in, nil
}

func (in *Inode) checkInvariants() {
	if in.denyWriteCount > in.openCount {
		panic(fmt.Sprintf("inode %d: denyWriteCount %d > openCount %d", in.Sector, in.denyWriteCount, in.openCount))
	}
}

func (in *Inode) Lock()   { in.mu.Lock() }
func (in *Inode) Unlock() { in.mu.Unlock() }

var _ sync.Locker = (*Inode)(nil)

// Length returns the file's current byte length. LOCKS_REQUIRED(in)
func (in *Inode) Length() int64 { return int64(in.disk.Length) }

// Persist writes the inode's own 512-byte record back to its sector.
// LOCKS_REQUIRED(in)
func (in *Inode) Persist() error {
	return in.cache.Write(in.Sector, in.disk.encode(), 0, 512)
}

// Open registers one more open reference. LOCKS_REQUIRED(in)
func (in *Inode) Open(denyWrite bool) {
	in.openCount++
	if denyWrite {
		in.denyWriteCount++
	}
}

// Close drops one open reference, returning whether the inode has no
// remaining openers (if it has also been unlinked, the caller should then
// free its sectors and remove it from its Table). LOCKS_REQUIRED(in)
func (in *Inode) Close(hadDeniedWrite bool) (noOpenersLeft bool) {
	if in.openCount == 0 {
		panic(fmt.Sprintf("inode %d: Close with openCount already 0", in.Sector))
	}
	in.openCount--
	if hadDeniedWrite {
		in.denyWriteCount--
	}
	return in.openCount == 0
}

// OpenCount returns the number of currently-open references.
// LOCKS_REQUIRED(in)
func (in *Inode) OpenCount() uint32 { return in.openCount }

// Unlink marks the inode as having had its last directory entry removed:
// once its open count reaches zero it should be Free'd. LOCKS_REQUIRED(in)
func (in *Inode) Unlink() { in.unlinked = true }

// IsUnlinked reports whether Unlink has been called. LOCKS_REQUIRED(in)
func (in *Inode) IsUnlinked() bool { return in.unlinked }

// WritesAllowed reports whether the file may currently be written: the
// deny-write rule is "no write succeeds while any opener holds a deny-write
// pin," regardless of which opener is doing the writing. LOCKS_REQUIRED(in)
func (in *Inode) WritesAllowed() bool { return in.denyWriteCount == 0 }

// ReadAt copies len(dst) bytes starting at off into dst. Unlike
// io.ReaderAt, a request that would run past the file's end is rejected
// wholesale: if off+len(dst) > length, it returns (0, nil) rather than a
// conventional short read. LOCKS_REQUIRED(in)
func (in *Inode) ReadAt(dst []byte, off int64) (int, error) {
	length := int64(in.disk.Length)
	if off+int64(len(dst)) > length {
		return 0, nil
	}

	var n int
	for n < len(dst) {
		sectorIndex := int((off + int64(n)) / 512)
		sectorOff := int((off + int64(n)) % 512)
		size := 512 - sectorOff
		if size > len(dst)-n {
			size = len(dst) - n
		}

		sector, err := in.mapSectorTracking(sectorIndex, nil)
		if err != nil {
			return n, err
		}
		if sector == 0 {
			// A hole in a sparse region that was never written; gcsfuse's
			// file inode has no analogue since GCS objects are dense, but
			// extend_to zero-fills new sectors eagerly so this should not
			// occur for sectorIndex < sectorsForLength(length).
			for i := 0; i < size; i++ {
				dst[n+i] = 0
			}
		} else if err := in.cache.Read(sector, dst[n:n+size], sectorOff, size); err != nil {
			return n, err
		}
		n += size
	}
	return n, nil
}

// WriteAt writes len(src) bytes at off, extending the file (and allocating
// new sectors) if necessary. LOCKS_REQUIRED(in)
func (in *Inode) WriteAt(src []byte, off int64) (int, error) {
	if !in.WritesAllowed() {
		return 0, blockerr.ErrPermission
	}

	end := off + int64(len(src))
	if end > MaxFileBytes {
		return 0, blockerr.ErrTooBig
	}
	if end > int64(in.disk.Length) {
		if err := in.extendTo(end); err != nil {
			return 0, err
		}
	}

	var n int
	for n < len(src) {
		sectorIndex := int((off + int64(n)) / 512)
		sectorOff := int((off + int64(n)) % 512)
		size := 512 - sectorOff
		if size > len(src)-n {
			size = len(src) - n
		}

		sector, err := in.mapSectorTracking(sectorIndex, nil)
		if err != nil {
			return n, err
		}
		if err := in.cache.Write(sector, src[n:n+size], sectorOff, size); err != nil {
			return n, err
		}
		n += size
	}
	return n, nil
}

// extendTo grows the file to newLength bytes, allocating every data sector
// and intermediate index sector needed to cover it and zero-filling them.
// If allocation fails partway through, every sector allocated during this
// call is released and the inode's on-disk length is left unchanged: the
// file either grows completely or not at all. LOCKS_REQUIRED(in)
func (in *Inode) extendTo(newLength int64) (err error) {
	oldLength := in.disk.Length
	oldSectors := sectorsForLength(int64(oldLength))
	newSectors := sectorsForLength(newLength)

	saved := in.disk
	var allocated []uint32
	rollback := func() {
		for _, s := range allocated {
			in.alloc.Release(s)
		}
		// Drop the in-memory pointers to the sectors just released.
		in.disk = saved
	}

	for idx := oldSectors; idx < newSectors; idx++ {
		sector, err := in.mapSectorTracking(idx, &allocated)
		if err != nil {
			rollback()
			return err
		}
		zero := make([]byte, 512)
		if err := in.cache.Write(sector, zero, 0, 512); err != nil {
			rollback()
			return err
		}
	}

	in.disk.Length = uint32(newLength)
	if err := in.Persist(); err != nil {
		rollback()
		in.disk.Length = oldLength
		return err
	}
	return nil
}

// mapSectorTracking resolves the data sector for a zero-based sector index
// within the file, allocating index and data sectors along the way when
// tracked is non-nil. When tracked is non-nil every newly allocated sector
// is appended to it so a caller (extendTo) can roll the whole operation
// back on failure.
func (in *Inode) mapSectorTracking(index int, tracked *[]uint32) (uint32, error) {
	switch {
	case index < directCount:
		return in.resolvePointer(&in.disk.Direct[index], tracked)

	case index < directCount+pointerCount:
		slot := index - directCount
		indirectSector, err := in.resolvePointer(&in.disk.Indirect, tracked)
		if err != nil || indirectSector == 0 {
			return 0, err
		}
		return in.resolveLeafSlot(indirectSector, slot, tracked)

	default:
		rel := index - directCount - pointerCount
		if rel >= pointerCount*pointerCount {
			return 0, fmt.Errorf("inode: sector index %d exceeds max file size", index)
		}
		leafIdx := rel / pointerCount
		slot := rel % pointerCount

		doublySector, err := in.resolvePointer(&in.disk.Doubly, tracked)
		if err != nil || doublySector == 0 {
			return 0, err
		}
		leafSector, err := in.resolveLeafSlot(doublySector, leafIdx, tracked)
		if err != nil || leafSector == 0 {
			return 0, err
		}
		return in.resolveLeafSlot(leafSector, slot, tracked)
	}
}

// resolvePointer returns *ptr, allocating a fresh sector into it if it's
// zero and tracked is non-nil (the caller wants one allocated). If tracked
// is nil and *ptr is zero, it returns (0, nil): a read of an unallocated
// region.
func (in *Inode) resolvePointer(ptr *uint32, tracked *[]uint32) (uint32, error) {
	if *ptr != 0 {
		return *ptr, nil
	}
	if tracked == nil {
		return 0, nil
	}
	sector, ok := in.alloc.Allocate()
	if !ok {
		return 0, blockerr.ErrNoSpace
	}
	*tracked = append(*tracked, sector)
	*ptr = sector
	return sector, nil
}

// resolveLeafSlot resolves pointer slot `slot` inside the indirect block
// stored at indirectSector, allocating the data/leaf sector if needed.
func (in *Inode) resolveLeafSlot(indirectSector uint32, slot int, tracked *[]uint32) (uint32, error) {
	raw := make([]byte, 512)
	if err := in.cache.Read(indirectSector, raw, 0, 512); err != nil {
		return 0, err
	}
	block, err := decodeIndirectBlock(raw)
	if err != nil {
		return 0, err
	}

	if block[slot] != 0 {
		return block[slot], nil
	}
	if tracked == nil {
		return 0, nil
	}

	sector, ok := in.alloc.Allocate()
	if !ok {
		return 0, blockerr.ErrNoSpace
	}
	*tracked = append(*tracked, sector)
	block[slot] = sector
	if err := in.cache.Write(indirectSector, block.encode(), 0, 512); err != nil {
		in.alloc.Release(sector)
		return 0, err
	}
	return sector, nil
}

// Free releases every sector this inode owns (its data, its indirect and
// doubly-indirect index sectors, and its own inode sector). fs.FileSystem's
// Remove calls this when the removed inode has no openers, and
// Handle.Close calls it when the last opener of an unlinked inode closes.
// LOCKS_REQUIRED(in)
func (in *Inode) Free() error {
	n := sectorsForLength(int64(in.disk.Length))

	for i := 0; i < n && i < directCount; i++ {
		if in.disk.Direct[i] != 0 {
			in.alloc.Release(in.disk.Direct[i])
		}
	}
	if in.disk.Indirect != 0 {
		if err := in.freeLeaf(in.disk.Indirect, min(n-directCount, pointerCount)); err != nil {
			return err
		}
		in.alloc.Release(in.disk.Indirect)
	}
	if in.disk.Doubly != 0 {
		remaining := n - directCount - pointerCount
		leaves := (remaining + pointerCount - 1) / pointerCount
		raw := make([]byte, 512)
		if err := in.cache.Read(in.disk.Doubly, raw, 0, 512); err != nil {
			return err
		}
		block, err := decodeIndirectBlock(raw)
		if err != nil {
			return err
		}
		for i := 0; i < leaves && i < pointerCount; i++ {
			if block[i] == 0 {
				continue
			}
			count := remaining - i*pointerCount
			if err := in.freeLeaf(block[i], min(count, pointerCount)); err != nil {
				return err
			}
			in.alloc.Release(block[i])
		}
		in.alloc.Release(in.disk.Doubly)
	}

	in.alloc.Release(in.Sector)
	return nil
}

func (in *Inode) freeLeaf(sector uint32, count int) error {
	if count <= 0 {
		return nil
	}
	raw := make([]byte, 512)
	if err := in.cache.Read(sector, raw, 0, 512); err != nil {
		return err
	}
	block, err := decodeIndirectBlock(raw)
	if err != nil {
		return err
	}
	for i := 0; i < count && i < pointerCount; i++ {
		if block[i] != 0 {
			in.alloc.Release(block[i])
		}
	}
	return nil
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

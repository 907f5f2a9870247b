// Package freemap is the external free-space allocator kept out of
// scope ("the free map"): allocate-one-sector, release-one-sector,
// internally serialized. Bitmap backs it with github.com/boljen/go-bitmap,
// the same bitmap library dargueta-disko/file_systems/common/blockcache
// pulls in for its loaded/dirty block bitmaps, repurposed here for the
// free-map's own sector bitmap, which is itself persisted to a reserved
// sector of the device.
package freemap

import (
	"fmt"
	"sync"

	"github.com/boljen/go-bitmap"

	"github.com/ondiskfs/blockfs/internal/device"
)

// Allocator allocates and releases single sectors. The core assumes its
// operations are mutually-exclusive safe; Bitmap provides that
// with a single mutex, matching the single-process "host environment" assumption.
type Allocator interface {
	Allocate() (sector uint32, ok bool)
	Release(sector uint32)
	Count() uint32    // total sectors managed
	FreeCount() uint32 // sectors currently free
	IsAllocated(sector uint32) bool
}

// Bitmap is the real free-map implementation: one bit per sector, 1 meaning
// allocated. Sector 0 and the reserved free-map/root-directory sectors
// are marked allocated at format time by the caller via
// MarkAllocated before any Allocate call, so Allocate never hands them out.
type Bitmap struct {
	mu    sync.Mutex
	bits  bitmap.Bitmap
	total uint32
	free  uint32
	// nextHint is the first bit index worth scanning from, an optimization
	// over always rescanning from 0 after a burst of allocations.
	nextHint int
}

var _ Allocator = (*Bitmap)(nil)

// New creates a free map over `total` sectors, all initially free.
func New(total uint32) *Bitmap {
	return &Bitmap{
		bits:  bitmap.NewSlice(int(total)),
		total: total,
		free:  total,
	}
}

// Load reconstructs a Bitmap from a previously-persisted sector's raw
// bytes (see Persist), the shape format persists on format/mount.
func Load(total uint32, raw []byte) (*Bitmap, error) {
	needed := (int(total) + 7) / 8
	if len(raw) < needed {
		return nil, fmt.Errorf("freemap: raw bitmap too short: have %d bytes, need %d", len(raw), needed)
	}

	b := &Bitmap{bits: bitmap.Bitmap(append([]byte(nil), raw[:needed]...)), total: total}
	for i := 0; i < int(total); i++ {
		if !b.bits.Get(i) {
			b.free++
		}
	}
	return b, nil
}

// Persist returns the raw bytes to write back to the free map's reserved
// sector.
func (b *Bitmap) Persist() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.bits...)
}

// MarkAllocated reserves a sector (e.g. the free-map sector itself, or the
// root directory sector) without going through Allocate, for use at format
// time.
func (b *Bitmap) MarkAllocated(sector uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bits.Get(int(sector)) {
		b.bits.Set(int(sector), true)
		b.free--
	}
}

// Allocate finds and reserves a single free sector, scanning from the
// clock-like nextHint so repeated allocations don't all rescan from 0.
func (b *Bitmap) Allocate() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.free == 0 {
		return 0, false
	}

	for i := 0; i < int(b.total); i++ {
		idx := (b.nextHint + i) % int(b.total)
		if !b.bits.Get(idx) {
			b.bits.Set(idx, true)
			b.free--
			b.nextHint = (idx + 1) % int(b.total)
			return uint32(idx), true
		}
	}
	return 0, false
}

// Release returns a sector to the free pool. Releasing an already-free
// sector is a no-op (double release is a caller bug, but silently
// tolerated to keep rollback paths simple).
func (b *Bitmap) Release(sector uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(sector) >= int(b.total) {
		return
	}
	if b.bits.Get(int(sector)) {
		b.bits.Set(int(sector), false)
		b.free++
	}
}

func (b *Bitmap) Count() uint32 {
	return b.total
}

func (b *Bitmap) FreeCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free
}

func (b *Bitmap) IsAllocated(sector uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(sector) >= int(b.total) {
		return false
	}
	return b.bits.Get(int(sector))
}

// sectorSizeBits is how many sectors' worth of bits fit in one on-disk
// sector of the free map.
const sectorSizeBits = device.SectorSize * 8

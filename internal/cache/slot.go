package cache

import (
	"sync"

	"github.com/ondiskfs/blockfs/internal/device"
)

// slot is one resident buffer-cache entry. Each slot has its own mutex so a
// data copy against one sector never blocks a lookup or copy against
// another, the same per-slot locking shape vsrinivas-fuchsia's thinio
// conductor.go uses over its keyed block cache.
type slot struct {
	mu sync.Mutex

	sector uint32
	data   [device.SectorSize]byte

	valid        bool
	dirty        bool
	recentlyUsed bool
}

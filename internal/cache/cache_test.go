package cache_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ondiskfs/blockfs/internal/cache"
	"github.com/ondiskfs/blockfs/internal/device"
	"github.com/ondiskfs/blockfs/internal/device/fakedevice"
	"github.com/ondiskfs/blockfs/internal/metrics"
)

type CacheTest struct {
	suite.Suite
	dev *fakedevice.Device
	c   *cache.Cache
}

func TestCacheSuite(t *testing.T) { suite.Run(t, new(CacheTest)) }

func (t *CacheTest) SetupTest() {
	t.dev = fakedevice.New(16)
	t.c = cache.New(t.dev, 4, metrics.NewCacheMetrics())
}

func (t *CacheTest) TestReadMissesDeviceOnce() {
	buf := make([]byte, device.SectorSize)
	t.Require().NoError(t.c.Read(0, buf, 0, device.SectorSize))
	t.Equal(1, t.dev.Reads())

	// A second read of the same sector must hit the cache, not the device.
	t.Require().NoError(t.c.Read(0, buf, 0, device.SectorSize))
	t.Equal(1, t.dev.Reads())
}

func (t *CacheTest) TestWriteIsDeferredUntilFlush() {
	payload := make([]byte, device.SectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	t.Require().NoError(t.c.Write(1, payload, 0, device.SectorSize))
	t.Equal(0, t.dev.Writes(), "write-back cache must not write through immediately")

	t.Require().NoError(t.c.FlushAll())
	t.Equal(1, t.dev.Writes())
}

func (t *CacheTest) TestWriteThenReadSeesWriteWithoutDeviceRead() {
	payload := make([]byte, device.SectorSize)
	payload[0] = 0x42
	t.Require().NoError(t.c.Write(2, payload, 0, device.SectorSize))

	out := make([]byte, device.SectorSize)
	t.Require().NoError(t.c.Read(2, out, 0, device.SectorSize))
	t.Equal(byte(0x42), out[0])
	// The single device read is the write's own miss loading sector 2.
	t.Equal(1, t.dev.Reads(), "reading back a dirty resident sector must not touch the device")
}

func (t *CacheTest) TestEvictionFlushesDirtyVictim() {
	payload := make([]byte, device.SectorSize)
	payload[0] = 0x7

	// Fill all 4 slots with dirty sectors, then force a 5th distinct
	// sector in to guarantee an eviction.
	for sector := uint32(0); sector < 4; sector++ {
		t.Require().NoError(t.c.Write(sector, payload, 0, device.SectorSize))
	}
	t.Require().NoError(t.c.Write(4, payload, 0, device.SectorSize))

	t.GreaterOrEqual(t.dev.Writes(), 1, "evicting a dirty slot must flush it first")
}

func (t *CacheTest) TestConcurrentAccessToDistinctSectorsDoesNotDeadlock() {
	var wg sync.WaitGroup
	buf := make([]byte, device.SectorSize)
	for sector := uint32(0); sector < 8; sector++ {
		wg.Add(1)
		go func(sector uint32) {
			defer wg.Done()
			_ = t.c.Read(sector, buf, 0, device.SectorSize)
		}(sector)
	}
	wg.Wait()
}

func (t *CacheTest) TestStatsCountTriesAndHits() {
	buf := make([]byte, device.SectorSize)
	t.Require().NoError(t.c.Read(0, buf, 0, device.SectorSize))
	t.Require().NoError(t.c.Read(0, buf, 0, device.SectorSize))

	snap := t.c.Stats()
	t.Equal(uint64(2), snap.Tries)
	t.Equal(uint64(1), snap.Hits)
	t.Equal(uint64(1), snap.DeviceReads)
}

func (t *CacheTest) TestResetForcesReload() {
	buf := make([]byte, device.SectorSize)
	t.Require().NoError(t.c.Read(0, buf, 0, device.SectorSize))
	t.c.Reset()
	t.Require().NoError(t.c.Read(0, buf, 0, device.SectorSize))
	t.Equal(2, t.dev.Reads())
}

func (t *CacheTest) TestShutdownFlushesAndInvalidates() {
	payload := make([]byte, device.SectorSize)
	payload[0] = 0x1
	t.Require().NoError(t.c.Write(3, payload, 0, device.SectorSize))
	t.Require().NoError(t.c.Shutdown())
	t.Equal(1, t.dev.Writes())
}

func (t *CacheTest) TestOutOfRangeRejected() {
	buf := make([]byte, device.SectorSize)
	err := t.c.Read(0, buf, device.SectorSize-1, 4)
	t.Error(err)
}

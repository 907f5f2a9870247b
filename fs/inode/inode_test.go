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

package inode_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ondiskfs/blockfs/internal/cache"
	"github.com/ondiskfs/blockfs/internal/device"
	"github.com/ondiskfs/blockfs/internal/device/fakedevice"
	"github.com/ondiskfs/blockfs/internal/blockerr"
	"github.com/ondiskfs/blockfs/internal/freemap"
	"github.com/ondiskfs/blockfs/internal/metrics"
	"github.com/ondiskfs/blockfs/fs/inode"
)

const testSectorCount = 2048

type InodeTest struct {
	suite.Suite
	dev   *fakedevice.Device
	cache *cache.Cache
	alloc *freemap.Bitmap
}

func TestInodeSuite(t *testing.T) { suite.Run(t, new(InodeTest)) }

func (t *InodeTest) SetupTest() {
	t.dev = fakedevice.New(testSectorCount)
	t.cache = cache.New(t.dev, cache.DefaultSlotCount, metrics.NewCacheMetrics())
	t.alloc = freemap.New(testSectorCount)
}

func (t *InodeTest) createFile() *inode.Inode {
	sector, ok := t.alloc.Allocate()
	t.Require().True(ok)
	in := inode.New(t.cache, t.alloc, sector, false)
	t.Require().NoError(in.Persist())
	return in
}

func (t *InodeTest) TestNewFileIsEmpty() {
	in := t.createFile()
	in.Lock()
	defer in.Unlock()
	t.EqualValues(0, in.Length())
}

func (t *InodeTest) TestWriteThenReadRoundTrips() {
	in := t.createFile()
	in.Lock()
	defer in.Unlock()

	payload := []byte("hello, block device")
	n, err := in.WriteAt(payload, 100)
	t.Require().NoError(err)
	t.Equal(len(payload), n)
	t.EqualValues(100+len(payload), in.Length())

	out := make([]byte, len(payload))
	n, err = in.ReadAt(out, 100)
	t.Require().NoError(err)
	t.Equal(len(payload), n)
	t.Equal(payload, out)
}

func (t *InodeTest) TestReadPastEndOfFileReturnsNothing() {
	in := t.createFile()
	in.Lock()
	defer in.Unlock()

	_, err := in.WriteAt([]byte("abc"), 0)
	t.Require().NoError(err)

	// A request spanning past the file's length is rejected wholesale,
	// not truncated to a conventional short read.
	buf := make([]byte, 10)
	n, err := in.ReadAt(buf, 0)
	t.Require().NoError(err)
	t.Equal(0, n)

	buf3 := make([]byte, 3)
	n, err = in.ReadAt(buf3, 0)
	t.Require().NoError(err)
	t.Equal(3, n)

	n, err = in.ReadAt(make([]byte, 1), 3)
	t.Require().NoError(err)
	t.Equal(0, n)
}

func (t *InodeTest) TestWriteSpanningMultipleSectors() {
	in := t.createFile()
	in.Lock()
	defer in.Unlock()

	payload := make([]byte, device.SectorSize*3+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := in.WriteAt(payload, 0)
	t.Require().NoError(err)
	t.Equal(len(payload), n)

	out := make([]byte, len(payload))
	_, err = in.ReadAt(out, 0)
	t.Require().NoError(err)
	t.Equal(payload, out)
}

func (t *InodeTest) TestWriteUsingIndirectBlock() {
	in := t.createFile()
	in.Lock()
	defer in.Unlock()

	// Offset past the 123 direct sectors forces use of the single
	// indirect block.
	off := int64(130 * device.SectorSize)
	payload := []byte("indirect-block-data")
	_, err := in.WriteAt(payload, off)
	t.Require().NoError(err)

	out := make([]byte, len(payload))
	_, err = in.ReadAt(out, off)
	t.Require().NoError(err)
	t.Equal(payload, out)
}

func (t *InodeTest) TestWriteBeyondMaxFileSizeFails() {
	in := t.createFile()
	in.Lock()
	defer in.Unlock()

	_, err := in.WriteAt([]byte("x"), inode.MaxFileBytes)
	t.Error(err)
}

func (t *InodeTest) TestExtendRollsBackOnAllocationFailure() {
	// Exhaust the free map down to a handful of sectors so extendTo runs
	// out of space partway through a multi-sector grow, and assert the
	// length and free count are both left unchanged.
	small := freemap.New(10)
	for small.FreeCount() > 2 {
		small.Allocate()
	}
	sector, ok := small.Allocate()
	t.Require().True(ok)

	in := inode.New(t.cache, small, sector, false)
	t.Require().NoError(in.Persist())

	in.Lock()
	defer in.Unlock()

	freeBefore := small.FreeCount()
	_, err := in.WriteAt(make([]byte, device.SectorSize*8), 0)
	t.Error(err)
	t.EqualValues(0, in.Length())
	t.Equal(freeBefore, small.FreeCount())
}

func (t *InodeTest) TestFreeReleasesAllSectors() {
	in := t.createFile()
	in.Lock()
	_, err := in.WriteAt(make([]byte, device.SectorSize*200), 0)
	t.Require().NoError(err)
	in.Unlock()

	freeBefore := t.alloc.FreeCount()

	in.Lock()
	t.Require().NoError(in.Free())
	in.Unlock()

	t.Greater(t.alloc.FreeCount(), freeBefore)
}

func (t *InodeTest) TestOpenCloseTracksDenyWrite() {
	in := t.createFile()
	in.Lock()
	in.Open(true)
	t.False(in.WritesAllowed())
	destroyed := in.Close(true)
	t.True(destroyed)
	t.True(in.WritesAllowed())
	in.Unlock()
}

func (t *InodeTest) TestWriteAtRejectedWhileDenyWritePinned() {
	in := t.createFile()
	in.Lock()
	in.Open(true) // pin against writes, the way an executing image would
	n, err := in.WriteAt([]byte("x"), 0)
	in.Unlock()

	t.Equal(0, n)
	t.ErrorIs(err, blockerr.ErrPermission)
}

func (t *InodeTest) TestTableSharesInodeAcrossGets() {
	tbl := inode.NewTable(t.cache, t.alloc)
	sector, ok := t.alloc.Allocate()
	t.Require().True(ok)

	in := inode.New(t.cache, t.alloc, sector, false)
	t.Require().NoError(in.Persist())
	tbl.Put(in)

	got, err := tbl.Get(sector)
	t.Require().NoError(err)
	t.Same(in, got)
}

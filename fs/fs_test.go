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

package fs_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ondiskfs/blockfs/internal/blockerr"
	"github.com/ondiskfs/blockfs/internal/device/fakedevice"
	"github.com/ondiskfs/blockfs/fs"
)

type FileSystemTest struct {
	suite.Suite
	dev *fakedevice.Device
	fs  *fs.FileSystem
}

func TestFileSystemSuite(t *testing.T) { suite.Run(t, new(FileSystemTest)) }

func (t *FileSystemTest) SetupTest() {
	t.dev = fakedevice.New(4096)
	fsys, err := fs.Format(t.dev, 0)
	t.Require().NoError(err)
	t.fs = fsys
}

func (t *FileSystemTest) TestCreateOpenWriteReadFile() {
	s := t.fs.NewSession()

	sector, err := s.Create("/hello.txt", false)
	t.Require().NoError(err)
	t.NotZero(sector)

	h, err := s.Open("/hello.txt", false)
	t.Require().NoError(err)
	defer h.Close()

	n, err := h.Write([]byte("hello, world"))
	t.Require().NoError(err)
	t.Equal(12, n)

	h.Seek(0)
	buf := make([]byte, 12)
	n, err = h.Read(buf)
	t.Require().NoError(err)
	t.Equal("hello, world", string(buf[:n]))
}

func (t *FileSystemTest) TestCreateDuplicateFails() {
	s := t.fs.NewSession()
	_, err := s.Create("/a", false)
	t.Require().NoError(err)
	_, err = s.Create("/a", false)
	t.Error(err)
}

func (t *FileSystemTest) TestMkdirAndNestedCreate() {
	s := t.fs.NewSession()
	_, err := s.Mkdir("/sub")
	t.Require().NoError(err)

	_, err = s.Create("/sub/leaf", false)
	t.Require().NoError(err)

	h, err := s.Open("/sub/leaf", false)
	t.Require().NoError(err)
	defer h.Close()
	t.False(h.IsDir())
}

func (t *FileSystemTest) TestChdirThenRelativeOpen() {
	s := t.fs.NewSession()
	_, err := s.Mkdir("/sub")
	t.Require().NoError(err)
	_, err = s.Create("/sub/leaf", false)
	t.Require().NoError(err)

	t.Require().NoError(s.Chdir("/sub"))
	h, err := s.Open("leaf", false)
	t.Require().NoError(err)
	defer h.Close()
}

func (t *FileSystemTest) TestRemoveFile() {
	s := t.fs.NewSession()
	_, err := s.Create("/gone", false)
	t.Require().NoError(err)

	t.Require().NoError(s.Remove("/gone"))
	_, err = s.Open("/gone", false)
	t.Error(err)
}

func (t *FileSystemTest) TestRemoveNonEmptyDirFails() {
	s := t.fs.NewSession()
	_, err := s.Mkdir("/sub")
	t.Require().NoError(err)
	_, err = s.Create("/sub/leaf", false)
	t.Require().NoError(err)

	t.Error(s.Remove("/sub"))
}

func (t *FileSystemTest) TestRemoveOpenEmptyDirFailsBusy() {
	s := t.fs.NewSession()
	_, err := s.Mkdir("/held")
	t.Require().NoError(err)

	h, err := s.Open("/held", false)
	t.Require().NoError(err)
	defer h.Close()

	err = s.Remove("/held")
	t.Require().Error(err)
	t.ErrorIs(err, blockerr.ErrBusy)
}

func (t *FileSystemTest) TestRemoveEmptyDirSucceeds() {
	s := t.fs.NewSession()
	_, err := s.Mkdir("/sub")
	t.Require().NoError(err)
	t.Require().NoError(s.Remove("/sub"))
}

func (t *FileSystemTest) TestRemoveWhileOpenDefersReclamation() {
	s := t.fs.NewSession()
	_, err := s.Create("/open-then-gone", false)
	t.Require().NoError(err)

	h, err := s.Open("/open-then-gone", false)
	t.Require().NoError(err)

	t.Require().NoError(s.Remove("/open-then-gone"))
	// The entry is gone from the directory, but the handle is still valid
	// until Close.
	_, err = h.Write([]byte("still writable"))
	t.Require().NoError(err)

	t.Require().NoError(h.Close())
}

func (t *FileSystemTest) TestDiagnosticCountersAdvance() {
	s := t.fs.NewSession()
	_, err := s.Create("/counted", false)
	t.Require().NoError(err)
	h, err := s.Open("/counted", false)
	t.Require().NoError(err)
	defer h.Close()

	_, err = h.Write(make([]byte, 1024))
	t.Require().NoError(err)

	t.Greater(t.fs.CacheTries(), uint64(0))
}

func (t *FileSystemTest) TestCacheResetForcesReload() {
	s := t.fs.NewSession()
	_, err := s.Create("/reset-me", false)
	t.Require().NoError(err)
	h, err := s.Open("/reset-me", false)
	t.Require().NoError(err)
	_, err = h.Write(make([]byte, 1024))
	t.Require().NoError(err)
	t.Require().NoError(h.Close())

	h, err = s.Open("/reset-me", false)
	t.Require().NoError(err)
	buf := make([]byte, 1024)
	_, err = h.Read(buf)
	t.Require().NoError(err)
	hits0 := t.fs.CacheHits()
	t.Require().NoError(h.Close())

	t.fs.CacheReset()
	reads0 := t.fs.DiskReads()

	h, err = s.Open("/reset-me", false)
	t.Require().NoError(err)
	_, err = h.Read(buf)
	t.Require().NoError(err)
	hits1 := t.fs.CacheHits()
	t.Require().NoError(h.Close())

	t.Greater(hits1, hits0)
	t.Greater(t.fs.DiskReads(), reads0, "after a reset the second pass must reload sectors from the device")
}

func (t *FileSystemTest) TestMountReopensFormattedDevice() {
	s := t.fs.NewSession()
	_, err := s.Create("/persisted", false)
	t.Require().NoError(err)
	h, err := s.Open("/persisted", false)
	t.Require().NoError(err)
	_, err = h.Write([]byte("durable"))
	t.Require().NoError(err)
	t.Require().NoError(h.Close())
	t.Require().NoError(t.fs.Shutdown())

	reopened, err := fs.Mount(t.dev, 0)
	t.Require().NoError(err)

	rs := reopened.NewSession()
	h2, err := rs.Open("/persisted", false)
	t.Require().NoError(err)
	defer h2.Close()

	buf := make([]byte, 7)
	_, err = h2.Read(buf)
	t.Require().NoError(err)
	t.Equal("durable", string(buf))
}

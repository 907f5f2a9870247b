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

package fs

import (
	"sync"

	"github.com/ondiskfs/blockfs/fs/directory"
	"github.com/ondiskfs/blockfs/fs/inode"
)

// Handle is one caller's open reference to a file or directory, playing
// the role gcsfuse's dirHandle/fileHandle pair plays per-fuseops.HandleID:
// it owns a read/write or readdir cursor, independent of any other
// handle's cursor on the same inode.
type Handle struct {
	fs        *FileSystem
	in        *inode.Inode
	denyWrite bool

	mu     sync.Mutex
	pos    int64
	cursor directory.Cursor
}

// OpenHandle resolves path under cwdSector and returns a Handle for it,
// bumping the inode's open (and optionally deny-write) count.
func (fs *FileSystem) OpenHandle(path string, cwdSector uint32, denyWrite bool) (*Handle, error) {
	sector, err := fs.Open(path, cwdSector)
	if err != nil {
		return nil, err
	}
	return fs.OpenSector(sector, denyWrite)
}

// OpenSector is like OpenHandle but against an already-resolved inode
// sector (e.g. one returned by Create).
func (fs *FileSystem) OpenSector(sector uint32, denyWrite bool) (*Handle, error) {
	in, err := fs.table.Get(sector)
	if err != nil {
		return nil, err
	}

	in.Lock()
	in.Open(denyWrite)
	in.Unlock()

	return &Handle{fs: fs, in: in, denyWrite: denyWrite}, nil
}

// Sector returns the inode sector backing h, the stable identifier
// calls `inumber`.
func (h *Handle) Sector() uint32 { return h.in.Sector }

func (h *Handle) Inumber() uint32 { return h.Sector() }

func (h *Handle) IsDir() bool { return h.in.IsDir }

// Length returns the file's current byte length.
func (h *Handle) Length() int64 {
	h.in.Lock()
	defer h.in.Unlock()
	return h.in.Length()
}

// Read reads up to len(buf) bytes at the handle's current position,
// advancing it by the number of bytes actually read.
func (h *Handle) Read(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.in.Lock()
	n, err := h.in.ReadAt(buf, h.pos)
	h.in.Unlock()
	h.pos += int64(n)
	return n, err
}

// ReadAt reads without disturbing the handle's seek position, mirroring
// io.ReaderAt.
func (h *Handle) ReadAt(buf []byte, off int64) (int, error) {
	h.in.Lock()
	defer h.in.Unlock()
	return h.in.ReadAt(buf, off)
}

// Write writes len(buf) bytes at the handle's current position, advancing
// it. Returns blockerr.ErrPermission if any opener of the inode (this
// handle or another) currently holds a deny-write pin.
func (h *Handle) Write(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.in.Lock()
	n, err := h.in.WriteAt(buf, h.pos)
	h.in.Unlock()
	h.pos += int64(n)
	return n, err
}

// WriteAt writes without disturbing the handle's seek position.
func (h *Handle) WriteAt(buf []byte, off int64) (int, error) {
	h.in.Lock()
	defer h.in.Unlock()
	return h.in.WriteAt(buf, off)
}

// Seek repositions the handle's cursor to off and returns the new
// position, matching lseek(SEEK_SET) semantics.
func (h *Handle) Seek(off int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = off
	return h.pos
}

// Tell returns the handle's current position.
func (h *Handle) Tell() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// ReadDir advances the handle's own readdir cursor, returning the next
// entry name.
func (h *Handle) ReadDir() (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return directory.New(h.in).ReadDir(&h.cursor)
}

// Close drops the handle's open (and deny-write) reference. If this was
// the last opener of an inode already marked unlinked, its sectors are
// reclaimed now.
func (h *Handle) Close() error {
	h.in.Lock()
	defer h.in.Unlock()

	noOpenersLeft := h.in.Close(h.denyWrite)
	if !noOpenersLeft || !h.in.IsUnlinked() {
		return nil
	}

	if err := h.in.Free(); err != nil {
		return err
	}
	h.fs.table.Forget(h.in.Sector)
	return persistFreeMap(h.fs.cache, h.fs.alloc)
}

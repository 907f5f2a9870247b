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

// Package fuseadapter exposes a FileSystem as a jacobsa/fuse mountable
// file system: an optional syscall-layer binding on top of the core
// facade. It is grounded on gcsfuse's internal/fs.FileSystem (the
// fuseutil.FileSystem implementation over fuseops), with GCS object
// names replaced by inode sectors and fuseops.InodeID used directly as the
// sector number (the `inumber`).
package fuseadapter

import (
	"context"
	"os"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/ondiskfs/blockfs/fs"
	"github.com/ondiskfs/blockfs/internal/blockerr"
	"github.com/ondiskfs/blockfs/internal/logger"
)

// FileSystem adapts an *fs.FileSystem to fuseutil.FileSystem. Every
// unimplemented method returns ENOSYS via the embedded
// NotImplementedFileSystem, the same inheritance gcsfuse's own adapter
// uses.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	core *fs.FileSystem

	mu      sync.Mutex
	handles map[fuseops.HandleID]*fs.Handle
	nextID  fuseops.HandleID
}

// New wraps core for mounting. core must already be Format'd or Mount'd.
func New(core *fs.FileSystem) *FileSystem {
	return &FileSystem{core: core, handles: make(map[fuseops.HandleID]*fs.Handle)}
}

func (fsys *FileSystem) registerHandle(h *fs.Handle) fuseops.HandleID {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fsys.nextID++
	fsys.handles[fsys.nextID] = h
	return fsys.nextID
}

func (fsys *FileSystem) handle(id fuseops.HandleID) *fs.Handle {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.handles[id]
}

func (fsys *FileSystem) dropHandle(id fuseops.HandleID) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	delete(fsys.handles, id)
}

func toErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case isErr(err, blockerr.ErrNotFound):
		return syscall.ENOENT
	case isErr(err, blockerr.ErrExists):
		return syscall.EEXIST
	case isErr(err, blockerr.ErrNoSpace):
		return syscall.ENOSPC
	case isErr(err, blockerr.ErrTooBig):
		return syscall.EFBIG
	case isErr(err, blockerr.ErrBusy):
		return syscall.EBUSY
	case isErr(err, blockerr.ErrPermission):
		return syscall.EPERM
	case isErr(err, blockerr.ErrNotADirectory):
		return syscall.ENOTDIR
	case isErr(err, blockerr.ErrInvalidName):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrap.Unwrap()
	}
	return false
}

func sectorAttributes(h *fs.Handle) fuseops.InodeAttributes {
	mode := os.FileMode(0o644)
	if h.IsDir() {
		mode = os.FileMode(0o755) | os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:  uint64(h.Length()),
		Nlink: 1,
		Mode:  mode,
	}
}

func (fsys *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	h, err := fsys.core.OpenSector(uint32(op.Inode), false)
	if err != nil {
		return toErrno(err)
	}
	defer h.Close()
	op.Attributes = sectorAttributes(h)
	return nil
}

func (fsys *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent, err := fsys.core.OpenSector(uint32(op.Parent), false)
	if err != nil {
		return toErrno(err)
	}
	defer parent.Close()

	sector, err := fsys.core.Open(op.Name, parent.Sector())
	if err != nil {
		return toErrno(err)
	}

	child, err := fsys.core.OpenSector(sector, false)
	if err != nil {
		return toErrno(err)
	}
	defer child.Close()

	op.Entry.Child = fuseops.InodeID(sector)
	op.Entry.Attributes = sectorAttributes(child)
	return nil
}

func (fsys *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	sector, err := fsys.core.Create(op.Name, uint32(op.Parent), true)
	if err != nil {
		return toErrno(err)
	}
	h, err := fsys.core.OpenSector(sector, false)
	if err != nil {
		return toErrno(err)
	}
	defer h.Close()
	op.Entry.Child = fuseops.InodeID(sector)
	op.Entry.Attributes = sectorAttributes(h)
	return nil
}

func (fsys *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	sector, err := fsys.core.Create(op.Name, uint32(op.Parent), false)
	if err != nil {
		return toErrno(err)
	}
	h, err := fsys.core.OpenSector(sector, false)
	if err != nil {
		return toErrno(err)
	}
	op.Handle = fsys.registerHandle(h)
	op.Entry.Child = fuseops.InodeID(sector)
	op.Entry.Attributes = sectorAttributes(h)
	return nil
}

func (fsys *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	h, err := fsys.core.OpenSector(uint32(op.Inode), false)
	if err != nil {
		return toErrno(err)
	}
	op.Handle = fsys.registerHandle(h)
	return nil
}

func (fsys *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	h := fsys.handle(op.Handle)
	if h == nil {
		return syscall.EBADF
	}
	n, err := h.ReadAt(op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil {
		return toErrno(err)
	}
	return nil
}

func (fsys *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	h := fsys.handle(op.Handle)
	if h == nil {
		return syscall.EBADF
	}
	_, err := h.WriteAt(op.Data, op.Offset)
	return toErrno(err)
}

func (fsys *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	h := fsys.handle(op.Handle)
	fsys.dropHandle(op.Handle)
	if h == nil {
		return nil
	}
	return toErrno(h.Close())
}

func (fsys *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	h, err := fsys.core.OpenSector(uint32(op.Inode), false)
	if err != nil {
		return toErrno(err)
	}
	op.Handle = fsys.registerHandle(h)
	return nil
}

func (fsys *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	h := fsys.handle(op.Handle)
	if h == nil {
		return syscall.EBADF
	}

	var n int
	for {
		name, ok, err := h.ReadDir()
		if err != nil {
			return toErrno(err)
		}
		if !ok {
			break
		}
		entry := fuseutil.Dirent{
			Offset: fuseops.DirOffset(n + 1),
			Name:   name,
			Type:   fuseutil.DT_File,
		}
		written := fuseutil.WriteDirent(op.Dst[n:], entry)
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

func (fsys *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	h := fsys.handle(op.Handle)
	fsys.dropHandle(op.Handle)
	if h == nil {
		return nil
	}
	return toErrno(h.Close())
}

func (fsys *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return toErrno(fsys.core.Remove(op.Name, uint32(op.Parent)))
}

func (fsys *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return toErrno(fsys.core.Remove(op.Name, uint32(op.Parent)))
}

func (fsys *FileSystem) Destroy() {
	if err := fsys.core.Shutdown(); err != nil {
		logger.Errorf("fuseadapter: shutdown: %v", err)
	}
}

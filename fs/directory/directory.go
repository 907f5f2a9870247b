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

// Package directory implements the directory layer: a directory is just an
// inode whose payload is a sequence of fixed-width name-to-sector entries,
// grounded on gcsfuse's fs/dir_handle.go (cursor-owned-by-caller readdir,
// lookup-before-mutate discipline) with GCS listing replaced by a linear
// scan over inode.ReadAt.
package directory

import (
	"fmt"
	"strings"

	"github.com/ondiskfs/blockfs/internal/blockerr"
	"github.com/ondiskfs/blockfs/fs/inode"
)

const (
	maxNameLen = 14
	nameField  = 16 // NUL-padded, room for maxNameLen plus terminator(s)
	// entrySize is the fixed on-disk width of one directory entry:
	// in_use (1) + pad (3) + inode_sector (4) + name (16) = 24.
	entrySize  = 1 + 3 + 4 + nameField
	sectorOff  = 4
	nameOffset = sectorOff + 4
)

// Entry is one decoded directory entry.
type Entry struct {
	InUse  bool
	Sector uint32
	Name   string
}

func (e Entry) encode() []byte {
	buf := make([]byte, entrySize)
	if e.InUse {
		buf[0] = 1
	}
	buf[sectorOff] = byte(e.Sector)
	buf[sectorOff+1] = byte(e.Sector >> 8)
	buf[sectorOff+2] = byte(e.Sector >> 16)
	buf[sectorOff+3] = byte(e.Sector >> 24)
	copy(buf[nameOffset:nameOffset+nameField], e.Name)
	return buf
}

func decodeEntry(raw []byte) Entry {
	sector := uint32(raw[sectorOff]) | uint32(raw[sectorOff+1])<<8 |
		uint32(raw[sectorOff+2])<<16 | uint32(raw[sectorOff+3])<<24
	nameBytes := raw[nameOffset : nameOffset+nameField]
	n := 0
	for n < len(nameBytes) && nameBytes[n] != 0 {
		n++
	}
	return Entry{InUse: raw[0] != 0, Sector: sector, Name: string(nameBytes[:n])}
}

// Directory is a handle onto a directory inode. Its methods acquire and
// release the inode's lock themselves; callers should not hold it across
// calls.
type Directory struct {
	In *inode.Inode
}

// New wraps an already-open directory inode.
func New(in *inode.Inode) *Directory { return &Directory{In: in} }

// Create wraps a freshly-allocated, zero-length directory inode; it writes
// nothing itself. The caller adds "." and ".." afterward via Add.
func Create(in *inode.Inode) *Directory {
	return &Directory{In: in}
}

func validateName(name string) error {
	if name == "" || len(name) > maxNameLen || strings.Contains(name, "/") {
		return blockerr.ErrInvalidName
	}
	return nil
}

// Lookup linearly scans for an in-use entry named name, returning its
// inode sector.
func (d *Directory) Lookup(name string) (uint32, error) {
	d.In.Lock()
	defer d.In.Unlock()

	length := d.In.Length()
	buf := make([]byte, entrySize)
	for off := int64(0); off+int64(entrySize) <= length; off += int64(entrySize) {
		if _, err := d.In.ReadAt(buf, off); err != nil {
			return 0, err
		}
		e := decodeEntry(buf)
		if e.InUse && e.Name == name {
			return e.Sector, nil
		}
	}
	return 0, blockerr.ErrNotFound
}

// Add writes a new entry binding name to sector, reusing the first
// not-in-use slot if one exists, else appending.
func (d *Directory) Add(name string, sector uint32) error {
	if err := validateName(name); err != nil {
		return err
	}

	d.In.Lock()
	defer d.In.Unlock()

	length := d.In.Length()
	buf := make([]byte, entrySize)
	var freeOffset int64 = -1

	for off := int64(0); off+int64(entrySize) <= length; off += int64(entrySize) {
		if _, err := d.In.ReadAt(buf, off); err != nil {
			return err
		}
		e := decodeEntry(buf)
		if e.InUse {
			if e.Name == name {
				return blockerr.ErrExists
			}
			continue
		}
		if freeOffset < 0 {
			freeOffset = off
		}
	}

	entry := Entry{InUse: true, Sector: sector, Name: name}
	target := freeOffset
	if target < 0 {
		target = length
	}
	if _, err := d.In.WriteAt(entry.encode(), target); err != nil {
		return fmt.Errorf("directory: add %q: %w", name, err)
	}
	return nil
}

// Remove clears the in_use byte of name's entry without compacting the
// directory.
func (d *Directory) Remove(name string) error {
	d.In.Lock()
	defer d.In.Unlock()

	length := d.In.Length()
	buf := make([]byte, entrySize)
	for off := int64(0); off+int64(entrySize) <= length; off += int64(entrySize) {
		if _, err := d.In.ReadAt(buf, off); err != nil {
			return err
		}
		e := decodeEntry(buf)
		if e.InUse && e.Name == name {
			cleared := Entry{InUse: false, Sector: e.Sector, Name: e.Name}
			_, err := d.In.WriteAt(cleared.encode(), off)
			return err
		}
	}
	return blockerr.ErrNotFound
}

// Cursor tracks readdir progress through a directory; it is owned by the
// caller and not touched by any other Directory method.
type Cursor struct {
	Offset int64
}

// ReadDir advances cur past the next in-use entry other than "." or "..",
// returning its name. ok is false once the directory is exhausted.
func (d *Directory) ReadDir(cur *Cursor) (name string, ok bool, err error) {
	d.In.Lock()
	defer d.In.Unlock()

	length := d.In.Length()
	buf := make([]byte, entrySize)
	for cur.Offset+int64(entrySize) <= length {
		off := cur.Offset
		cur.Offset += int64(entrySize)

		if _, err := d.In.ReadAt(buf, off); err != nil {
			return "", false, err
		}
		e := decodeEntry(buf)
		if !e.InUse || e.Name == "." || e.Name == ".." {
			continue
		}
		return e.Name, true, nil
	}
	return "", false, nil
}

// Empty reports whether the directory holds no in-use entries besides "."
// and "..".
func (d *Directory) Empty() (bool, error) {
	d.In.Lock()
	defer d.In.Unlock()

	length := d.In.Length()
	buf := make([]byte, entrySize)
	for off := int64(0); off+int64(entrySize) <= length; off += int64(entrySize) {
		if _, err := d.In.ReadAt(buf, off); err != nil {
			return false, err
		}
		e := decodeEntry(buf)
		if e.InUse && e.Name != "." && e.Name != ".." {
			return false, nil
		}
	}
	return true, nil
}

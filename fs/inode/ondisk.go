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

package inode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ondiskfs/blockfs/internal/device"
)

// magicNumber identifies a sector as holding a valid on-disk inode, the same
// role direktiv-vorteil's xfs structures.go gives its own superblock magic:
// a cheap sanity check against reading garbage as an inode.
const magicNumber = 0x494e4f44 // "INOD"

// The inode holds directCount direct pointers; every index sector (the
// single-indirect block and each block of the doubly-indirect tree) holds
// pointerCount uint32 sector numbers. A zero entry means "unallocated".
const (
	directCount  = 123
	pointerCount = device.SectorSize / 4 // 128 pointers per index sector

	// MaxFileBytes is the largest length a file can grow to: directCount
	// direct sectors, plus one indirect sector of pointerCount sectors,
	// plus one doubly-indirect sector of pointerCount indirect sectors of
	// pointerCount sectors each.
	MaxFileBytes = int64(directCount+pointerCount+pointerCount*pointerCount) * device.SectorSize
)

// onDiskInode is the exact 512-byte, on-disk representation of one inode.
// Field order and widths are fixed: this struct is read and written as raw
// bytes via encoding/binary, the same on-the-wire discipline
// direktiv-vorteil's xfs structures.go uses for its superblock and inode
// records.
type onDiskInode struct {
	Length   uint32
	Magic    uint32
	Direct   [directCount]uint32
	Indirect uint32
	Doubly   uint32
	IsDir    uint32 // 0 or 1; stored as uint32 to keep the layout word-aligned
}

// indirectBlock is one sector's worth of sector pointers, used for both the
// single-indirect block and each leaf of the doubly-indirect block.
type indirectBlock [pointerCount]uint32

func decodeOnDiskInode(raw []byte) (onDiskInode, error) {
	var d onDiskInode
	if len(raw) != device.SectorSize {
		return d, fmt.Errorf("inode: decode: got %d bytes, want %d", len(raw), device.SectorSize)
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &d); err != nil {
		return d, fmt.Errorf("inode: decode: %w", err)
	}
	if d.Magic != magicNumber {
		return d, fmt.Errorf("inode: decode: bad magic %#x", d.Magic)
	}
	return d, nil
}

func (d onDiskInode) encode() []byte {
	d.Magic = magicNumber
	buf := new(bytes.Buffer)
	buf.Grow(device.SectorSize)
	// binary.Write returns an error only for unsupported types, never for a
	// fixed struct of uint32s, so the error is intentionally discarded here.
	_ = binary.Write(buf, binary.LittleEndian, d)
	out := buf.Bytes()
	if len(out) < device.SectorSize {
		out = append(out, make([]byte, device.SectorSize-len(out))...)
	}
	return out
}

func decodeIndirectBlock(raw []byte) (indirectBlock, error) {
	var b indirectBlock
	if len(raw) != device.SectorSize {
		return b, fmt.Errorf("inode: decode indirect block: got %d bytes, want %d", len(raw), device.SectorSize)
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &b); err != nil {
		return b, fmt.Errorf("inode: decode indirect block: %w", err)
	}
	return b, nil
}

func (b indirectBlock) encode() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(device.SectorSize)
	_ = binary.Write(buf, binary.LittleEndian, b)
	return buf.Bytes()
}

// sectorsForLength returns the number of data sectors a file of the given
// byte length occupies, rounding up.
func sectorsForLength(length int64) int {
	if length <= 0 {
		return 0
	}
	return int((length + device.SectorSize - 1) / device.SectorSize)
}

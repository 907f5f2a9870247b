// Package device is the external block-device collaborator kept
// out of scope: fixed-size sector read/write. internal/cache is the only
// caller; everything above the cache talks in sectors, never bytes on a
// raw file descriptor.
package device

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SectorSize is the fixed sector size of the device.
const SectorSize = 512

// Device reads and writes whole, fixed-size sectors. Implementations must
// be safe for concurrent calls on different sectors, since internal/cache
// loads missed sectors concurrently; they need not handle two concurrent
// calls on the same sector, because internal/cache only ever has one read
// or write in flight per sector (the owning slot's mutex is held for the
// duration).
type Device interface {
	// ReadSector reads exactly SectorSize bytes into dst, which must have
	// length SectorSize.
	ReadSector(sector uint32, dst []byte) error

	// WriteSector writes exactly SectorSize bytes from src, which must have
	// length SectorSize.
	WriteSector(sector uint32, src []byte) error

	// SectorCount returns the fixed size of the device, in sectors.
	SectorCount() uint32
}

// FileDevice backs a Device with a regular file or block device node,
// addressed with pread/pwrite at sector*SectorSize so concurrent callers on
// distinct sectors don't serialize on a shared file offset (grounded on
// thinio's device wrapper, which does the analogous thing over
// block.Device.ReadAt/WriteAt).
type FileDevice struct {
	f       *os.File
	sectors uint32
}

var _ Device = (*FileDevice)(nil)

// OpenFileDevice opens (or creates, if create is true) path as a
// sector-addressable device of the given sector count.
func OpenFileDevice(path string, sectorCount uint32, create bool) (*FileDevice, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open device file: %w", err)
	}

	size := int64(sectorCount) * SectorSize
	if fi, statErr := f.Stat(); statErr == nil && fi.Size() < size {
		if truncErr := f.Truncate(size); truncErr != nil {
			f.Close()
			return nil, fmt.Errorf("grow device file: %w", truncErr)
		}
	}

	return &FileDevice{f: f, sectors: sectorCount}, nil
}

func (d *FileDevice) ReadSector(sector uint32, dst []byte) error {
	if len(dst) != SectorSize {
		return fmt.Errorf("read sector %d: buffer length %d != %d", sector, len(dst), SectorSize)
	}

	n, err := unix.Pread(int(d.f.Fd()), dst, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("pread sector %d: %w", sector, err)
	}
	if n != SectorSize {
		return fmt.Errorf("pread sector %d: short read of %d bytes", sector, n)
	}
	return nil
}

func (d *FileDevice) WriteSector(sector uint32, src []byte) error {
	if len(src) != SectorSize {
		return fmt.Errorf("write sector %d: buffer length %d != %d", sector, len(src), SectorSize)
	}

	n, err := unix.Pwrite(int(d.f.Fd()), src, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("pwrite sector %d: %w", sector, err)
	}
	if n != SectorSize {
		return fmt.Errorf("pwrite sector %d: short write of %d bytes", sector, n)
	}
	return nil
}

func (d *FileDevice) SectorCount() uint32 { return d.sectors }

// Close releases the underlying file descriptor; it does not fsync. Callers
// must have already shut down any cache layered over this device.
func (d *FileDevice) Close() error {
	return d.f.Close()
}

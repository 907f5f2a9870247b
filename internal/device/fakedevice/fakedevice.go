// Package fakedevice provides an in-memory device.Device for tests, the
// same role clock.FakeClock plays for gcsfuse's timeutil.Clock.
package fakedevice

import (
	"fmt"
	"sync"

	"github.com/ondiskfs/blockfs/internal/device"
)

// Device is a sector-addressable byte slice. It additionally counts total
// reads and writes so tests can assert on device traffic the way
// this package's testable properties do (e.g. "no device read is required
// during the write").
type Device struct {
	mu      sync.Mutex
	sectors [][device.SectorSize]byte
	reads   int
	writes  int

	// FailSectors, if non-nil, names sectors whose reads and writes fail
	// for as long as they stay in the map, for exercising rollback paths.
	FailSectors map[uint32]bool
}

var _ device.Device = (*Device)(nil)

// New creates a fake device with the given number of sectors, all
// zero-filled.
func New(sectorCount uint32) *Device {
	return &Device{sectors: make([][device.SectorSize]byte, sectorCount)}
}

func (d *Device) ReadSector(sector uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkBounds(sector); err != nil {
		return err
	}
	if d.FailSectors[sector] {
		return fmt.Errorf("fakedevice: injected read failure on sector %d", sector)
	}
	if len(dst) != device.SectorSize {
		return fmt.Errorf("fakedevice: bad buffer length %d", len(dst))
	}

	d.reads++
	copy(dst, d.sectors[sector][:])
	return nil
}

func (d *Device) WriteSector(sector uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkBounds(sector); err != nil {
		return err
	}
	if d.FailSectors[sector] {
		return fmt.Errorf("fakedevice: injected write failure on sector %d", sector)
	}
	if len(src) != device.SectorSize {
		return fmt.Errorf("fakedevice: bad buffer length %d", len(src))
	}

	d.writes++
	copy(d.sectors[sector][:], src)
	return nil
}

func (d *Device) checkBounds(sector uint32) error {
	if int(sector) >= len(d.sectors) {
		return fmt.Errorf("fakedevice: sector %d out of range [0,%d)", sector, len(d.sectors))
	}
	return nil
}

func (d *Device) SectorCount() uint32 { return uint32(len(d.sectors)) }

// Reads and Writes report the number of ReadSector/WriteSector calls that
// have reached the device (as opposed to being served by a cache slot).
func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

func (d *Device) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// internal/flash/file.go
package flash

import (
	"errors"
	"fmt"
	"os"
)

// FileDevice keeps the flash image in a regular file so stored blocks
// survive daemon restarts the way on-chip flash survives reboots.
// Same NOR semantics as MemDevice.
type FileDevice struct {
	f         *os.File
	capacity  uint32
	eraseSize uint32
}

// OpenFileDevice opens (or creates) an image file of exactly capacity
// bytes. A newly created image starts fully erased.
func OpenFileDevice(path string, capacity, eraseSize uint32) (*FileDevice, error) {
	if eraseSize == 0 || capacity == 0 || capacity%eraseSize != 0 {
		return nil, errors.New("flash: capacity must be a positive multiple of erase size")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("flash: open image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flash: stat image: %w", err)
	}

	d := &FileDevice{f: f, capacity: capacity, eraseSize: eraseSize}

	switch {
	case info.Size() == 0:
		if err := d.EraseRange(0, capacity); err != nil {
			f.Close()
			return nil, err
		}
	case info.Size() != int64(capacity):
		f.Close()
		return nil, fmt.Errorf("flash: image %s is %d bytes, want %d", path, info.Size(), capacity)
	}

	return d, nil
}

func (d *FileDevice) ReadAt(off uint32, buf []byte) error {
	if int64(off)+int64(len(buf)) > int64(d.capacity) {
		return ErrOutOfRange
	}
	if _, err := d.f.ReadAt(buf, int64(off)); err != nil {
		return fmt.Errorf("flash: read: %w", err)
	}
	return nil
}

func (d *FileDevice) WriteAt(off uint32, data []byte) error {
	if int64(off)+int64(len(data)) > int64(d.capacity) {
		return ErrOutOfRange
	}
	existing := make([]byte, len(data))
	if _, err := d.f.ReadAt(existing, int64(off)); err != nil {
		return fmt.Errorf("flash: read-modify-write: %w", err)
	}
	for i := range existing {
		existing[i] &= data[i]
	}
	if _, err := d.f.WriteAt(existing, int64(off)); err != nil {
		return fmt.Errorf("flash: write: %w", err)
	}
	return nil
}

func (d *FileDevice) EraseRange(off, length uint32) error {
	if off%d.eraseSize != 0 || length%d.eraseSize != 0 {
		return ErrUnaligned
	}
	if int64(off)+int64(length) > int64(d.capacity) {
		return ErrOutOfRange
	}
	blank := make([]byte, d.eraseSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	for cur := off; cur < off+length; cur += d.eraseSize {
		if _, err := d.f.WriteAt(blank, int64(cur)); err != nil {
			return fmt.Errorf("flash: erase: %w", err)
		}
	}
	return nil
}

func (d *FileDevice) Capacity() uint32 { return d.capacity }

func (d *FileDevice) EraseSize() uint32 { return d.eraseSize }

// Close syncs and closes the backing file.
func (d *FileDevice) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return fmt.Errorf("flash: sync image: %w", err)
	}
	return d.f.Close()
}

// internal/flash/mem.go
package flash

import "errors"

// MemDevice is an in-memory flash image with NOR semantics: erase sets
// bytes to 0xFF, writes AND into the existing contents. A write over a
// non-erased region silently produces garbage, exactly like the hardware,
// so a store that forgets to erase first fails its own CRC check in tests.
type MemDevice struct {
	buf       []byte
	eraseSize uint32
}

// NewMemDevice creates an image of capacity bytes, fully erased.
func NewMemDevice(capacity, eraseSize uint32) (*MemDevice, error) {
	if eraseSize == 0 || capacity == 0 || capacity%eraseSize != 0 {
		return nil, errors.New("flash: capacity must be a positive multiple of erase size")
	}
	buf := make([]byte, capacity)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &MemDevice{buf: buf, eraseSize: eraseSize}, nil
}

func (d *MemDevice) ReadAt(off uint32, buf []byte) error {
	if int(off)+len(buf) > len(d.buf) {
		return ErrOutOfRange
	}
	copy(buf, d.buf[off:int(off)+len(buf)])
	return nil
}

func (d *MemDevice) WriteAt(off uint32, data []byte) error {
	if int(off)+len(data) > len(d.buf) {
		return ErrOutOfRange
	}
	for i, b := range data {
		d.buf[int(off)+i] &= b
	}
	return nil
}

func (d *MemDevice) EraseRange(off, length uint32) error {
	if off%d.eraseSize != 0 || length%d.eraseSize != 0 {
		return ErrUnaligned
	}
	if int(off)+int(length) > len(d.buf) {
		return ErrOutOfRange
	}
	for i := off; i < off+length; i++ {
		d.buf[i] = 0xFF
	}
	return nil
}

func (d *MemDevice) Capacity() uint32 { return uint32(len(d.buf)) }

func (d *MemDevice) EraseSize() uint32 { return d.eraseSize }

// Corrupt flips one bit at the given absolute offset. Test hook.
func (d *MemDevice) Corrupt(off uint32, bit uint8) error {
	if int(off) >= len(d.buf) {
		return ErrOutOfRange
	}
	d.buf[off] ^= 1 << (bit % 8)
	return nil
}

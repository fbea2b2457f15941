// internal/flash/device.go
package flash

import "errors"

// Errors surfaced by flash devices.
var (
	ErrOutOfRange = errors.New("flash: access outside device capacity")
	ErrUnaligned  = errors.New("flash: erase not aligned to erase unit")
)

// Device is the minimal flash contract the stores need.
// Writes can only clear bits; a prior erase of the whole unit is required
// to set bits back to 1.
type Device interface {
	// ReadAt fills buf from the device starting at off.
	ReadAt(off uint32, buf []byte) error
	// WriteAt programs data into the device starting at off.
	WriteAt(off uint32, data []byte) error
	// EraseRange resets [off, off+length) to the erased value (0xFF).
	// off and length must be multiples of EraseSize.
	EraseRange(off, length uint32) error
	// Capacity is the device size in bytes.
	Capacity() uint32
	// EraseSize is the erase unit in bytes.
	EraseSize() uint32
}

// internal/blockstore/store.go
package blockstore

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"hash/fnv"
	"reflect"

	"github.com/tamzrod/wifi-onboard/internal/flash"
)

// Errors reported by the store. Absent is not an error: Load returns
// (false, nil) for a block that was never written, was cleared, or holds a
// different payload type.
var (
	// ErrCorrupted means the block header said data is present but the
	// length or CRC check failed: the medium degraded or a write was
	// interrupted. Distinct from absent on purpose.
	ErrCorrupted = errors.New("blockstore: stored data corrupted")
	// ErrFormat means the caller's payload does not fit the block.
	ErrFormat = errors.New("blockstore: payload does not fit block")
)

const (
	magic      uint32 = 0x424C_4B53 // 'BLKS'
	headerSize        = 4 + 4 + 2   // magic + type tag + payload length
	crcSize           = 4
)

// Store provides type-tagged, CRC-validated records in fixed-size erase
// blocks counted backward from the top of the flash device. Whiteboard
// semantics: data written as one type reads as absent under any other type.
// Callers keep block ids disjoint; the store does not track allocation.
type Store struct {
	dev flash.Device
}

// New binds a store to a flash device.
func New(dev flash.Device) (*Store, error) {
	if dev == nil {
		return nil, errors.New("blockstore: device required")
	}
	if dev.EraseSize() <= headerSize+crcSize {
		return nil, errors.New("blockstore: erase unit too small for block header")
	}
	return &Store{dev: dev}, nil
}

// MaxPayload is the largest payload Save accepts on this device.
func (s *Store) MaxPayload() int {
	return int(s.dev.EraseSize()) - headerSize - crcSize
}

// Save serializes v and writes it to the block in one erase-then-write
// pass. v must implement encoding.BinaryMarshaler.
func (s *Store) Save(block uint32, v encoding.BinaryMarshaler) error {
	off, err := s.blockOffset(block)
	if err != nil {
		return err
	}

	payload, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(payload) > s.MaxPayload() {
		return ErrFormat
	}

	eraseSize := s.dev.EraseSize()
	buf := make([]byte, eraseSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], typeTag(v))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(payload)))
	copy(buf[headerSize:], payload)

	crcOff := headerSize + len(payload)
	binary.LittleEndian.PutUint32(buf[crcOff:crcOff+crcSize], crc32.ChecksumIEEE(buf[:crcOff]))

	if err := s.dev.EraseRange(off, eraseSize); err != nil {
		return fmt.Errorf("blockstore: erase block %d: %w", block, err)
	}
	if err := s.dev.WriteAt(off, buf); err != nil {
		return fmt.Errorf("blockstore: write block %d: %w", block, err)
	}
	return nil
}

// Load reads the block into v, which must implement
// encoding.BinaryUnmarshaler. Returns false when nothing of v's type is
// stored there.
func (s *Store) Load(block uint32, v encoding.BinaryUnmarshaler) (bool, error) {
	off, err := s.blockOffset(block)
	if err != nil {
		return false, err
	}

	buf := make([]byte, s.dev.EraseSize())
	if err := s.dev.ReadAt(off, buf); err != nil {
		return false, fmt.Errorf("blockstore: read block %d: %w", block, err)
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return false, nil
	}
	if binary.LittleEndian.Uint32(buf[4:8]) != typeTag(v) {
		return false, nil
	}

	payloadLen := int(binary.LittleEndian.Uint16(buf[8:10]))
	if payloadLen > s.MaxPayload() {
		return false, ErrCorrupted
	}

	crcOff := headerSize + payloadLen
	stored := binary.LittleEndian.Uint32(buf[crcOff : crcOff+crcSize])
	if stored != crc32.ChecksumIEEE(buf[:crcOff]) {
		return false, ErrCorrupted
	}

	if err := v.UnmarshalBinary(buf[headerSize:crcOff]); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return true, nil
}

// Clear erases the block. Load afterwards reports absent.
func (s *Store) Clear(block uint32) error {
	off, err := s.blockOffset(block)
	if err != nil {
		return err
	}
	if err := s.dev.EraseRange(off, s.dev.EraseSize()); err != nil {
		return fmt.Errorf("blockstore: erase block %d: %w", block, err)
	}
	return nil
}

// Blocks count backward from the top of flash so they never collide with
// code stored at the bottom.
func (s *Store) blockOffset(block uint32) (uint32, error) {
	eraseSize := s.dev.EraseSize()
	capacity := s.dev.Capacity()
	need := (block + 1) * eraseSize
	if need > capacity {
		return 0, fmt.Errorf("blockstore: block %d exceeds device capacity", block)
	}
	return capacity - need, nil
}

// typeTag hashes the payload's Go type with FNV-1a so a block written as
// one type never deserializes as another.
func typeTag(v any) uint32 {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	h := fnv.New32a()
	h.Write([]byte(t.String()))
	return h.Sum32()
}

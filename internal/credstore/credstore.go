// internal/credstore/credstore.go
package credstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"unicode/utf8"

	"github.com/tamzrod/wifi-onboard/internal/flash"
)

// Errors mirror the block store taxonomy. Absent is (false, nil) from Load.
var (
	ErrCorrupted = errors.New("credstore: stored credentials corrupted")
	ErrFormat    = errors.New("credstore: credentials do not fit storage layout")
)

// Field capacities. SSID must be non-empty; the password may be empty
// (open networks).
const (
	SSIDCapacity     = 32
	PasswordCapacity = 64
)

// Fixed byte layout. This block deliberately does not use the generic
// type-tagged format: credentials must stay readable even if the generic
// serialization changes in a later firmware.
const (
	magic   uint32 = 0x5749_4649 // 'WIFI'
	version uint16 = 1

	crcOffset      = 4
	versionOffset  = 8
	lengthsOffset  = 10
	reservedOffset = 12
	ssidOffset     = 16
	passwordOffset = ssidOffset + SSIDCapacity
	dataEnd        = passwordOffset + PasswordCapacity
)

// Credentials is a WiFi SSID and password pair.
type Credentials struct {
	SSID     string
	Password string
}

// Valid reports whether the pair fits the storage layout.
func (c Credentials) Valid() bool {
	return len(c.SSID) >= 1 && len(c.SSID) <= SSIDCapacity && len(c.Password) <= PasswordCapacity
}

// Store persists one Credentials value in a reserved flash block.
type Store struct {
	dev   flash.Device
	block uint32
}

// New binds the store to a device and block id (conventionally block 0).
func New(dev flash.Device, block uint32) (*Store, error) {
	if dev == nil {
		return nil, errors.New("credstore: device required")
	}
	if dev.EraseSize() < dataEnd {
		return nil, errors.New("credstore: erase unit too small for credential layout")
	}
	if (block+1)*dev.EraseSize() > dev.Capacity() {
		return nil, fmt.Errorf("credstore: block %d exceeds device capacity", block)
	}
	return &Store{dev: dev, block: block}, nil
}

// Load reads stored credentials. (false, nil) means none are stored or the
// block was written by an incompatible version.
func (s *Store) Load() (Credentials, bool, error) {
	buf := make([]byte, s.dev.EraseSize())
	if err := s.dev.ReadAt(s.offset(), buf); err != nil {
		return Credentials{}, false, fmt.Errorf("credstore: read: %w", err)
	}

	if binary.LittleEndian.Uint32(buf[:crcOffset]) != magic {
		return Credentials{}, false, nil
	}
	if binary.LittleEndian.Uint16(buf[versionOffset:lengthsOffset]) != version {
		return Credentials{}, false, nil
	}

	ssidLen := int(buf[lengthsOffset])
	passwordLen := int(buf[lengthsOffset+1])
	if ssidLen == 0 || ssidLen > SSIDCapacity || passwordLen > PasswordCapacity {
		return Credentials{}, false, ErrCorrupted
	}

	stored := binary.LittleEndian.Uint32(buf[crcOffset:versionOffset])
	if crc32.ChecksumIEEE(buf[versionOffset:dataEnd]) != stored {
		return Credentials{}, false, ErrCorrupted
	}

	ssid := buf[ssidOffset : ssidOffset+ssidLen]
	password := buf[passwordOffset : passwordOffset+passwordLen]
	if !utf8.Valid(ssid) || !utf8.Valid(password) {
		return Credentials{}, false, ErrCorrupted
	}

	return Credentials{SSID: string(ssid), Password: string(password)}, true, nil
}

// Save writes the credentials in one erase-then-write pass.
func (s *Store) Save(c Credentials) error {
	if !c.Valid() {
		return ErrFormat
	}

	buf := make([]byte, s.dev.EraseSize())
	for i := range buf {
		buf[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(buf[:crcOffset], magic)
	binary.LittleEndian.PutUint16(buf[versionOffset:lengthsOffset], version)
	buf[lengthsOffset] = uint8(len(c.SSID))
	buf[lengthsOffset+1] = uint8(len(c.Password))
	for i := reservedOffset; i < ssidOffset; i++ {
		buf[i] = 0
	}
	copy(buf[ssidOffset:], c.SSID)
	for i := ssidOffset + len(c.SSID); i < passwordOffset; i++ {
		buf[i] = 0xFF
	}
	copy(buf[passwordOffset:], c.Password)
	for i := passwordOffset + len(c.Password); i < dataEnd; i++ {
		buf[i] = 0xFF
	}

	crc := crc32.ChecksumIEEE(buf[versionOffset:dataEnd])
	binary.LittleEndian.PutUint32(buf[crcOffset:versionOffset], crc)

	eraseSize := s.dev.EraseSize()
	if err := s.dev.EraseRange(s.offset(), eraseSize); err != nil {
		return fmt.Errorf("credstore: erase: %w", err)
	}
	if err := s.dev.WriteAt(s.offset(), buf); err != nil {
		return fmt.Errorf("credstore: write: %w", err)
	}
	return nil
}

// Clear erases the block. Load afterwards reports absent.
func (s *Store) Clear() error {
	if err := s.dev.EraseRange(s.offset(), s.dev.EraseSize()); err != nil {
		return fmt.Errorf("credstore: erase: %w", err)
	}
	return nil
}

func (s *Store) offset() uint32 {
	return s.dev.Capacity() - (s.block+1)*s.dev.EraseSize()
}

// internal/flash/device_test.go
package flash

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestMemDevice_EraseThenWriteRoundTrip(t *testing.T) {
	d, err := NewMemDevice(16*4096, 4096)
	if err != nil {
		t.Fatalf("NewMemDevice: %v", err)
	}

	if err := d.EraseRange(0, 4096); err != nil {
		t.Fatalf("EraseRange: %v", err)
	}
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := d.WriteAt(0, want); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, 4)
	if err := d.ReadAt(0, got); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read back %x, want %x", got, want)
	}
}

func TestMemDevice_WriteWithoutEraseOnlyClearsBits(t *testing.T) {
	d, err := NewMemDevice(4096, 4096)
	if err != nil {
		t.Fatalf("NewMemDevice: %v", err)
	}

	if err := d.WriteAt(0, []byte{0xF0}); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := d.WriteAt(0, []byte{0x0F}); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, 1)
	if err := d.ReadAt(0, got); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	// 0xF0 & 0x0F: a second write cannot set bits back to 1.
	if got[0] != 0x00 {
		t.Fatalf("got %#x, want 0x00", got[0])
	}
}

func TestMemDevice_UnalignedEraseRejected(t *testing.T) {
	d, err := NewMemDevice(2*4096, 4096)
	if err != nil {
		t.Fatalf("NewMemDevice: %v", err)
	}
	if err := d.EraseRange(1, 4096); err != ErrUnaligned {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}
	if err := d.EraseRange(0, 100); err != ErrUnaligned {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}
}

func TestMemDevice_OutOfRange(t *testing.T) {
	d, err := NewMemDevice(4096, 4096)
	if err != nil {
		t.Fatalf("NewMemDevice: %v", err)
	}
	if err := d.WriteAt(4090, make([]byte, 10)); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := d.ReadAt(4096, make([]byte, 1)); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestFileDevice_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")

	d, err := OpenFileDevice(path, 4*4096, 4096)
	if err != nil {
		t.Fatalf("OpenFileDevice: %v", err)
	}
	if err := d.WriteAt(8192, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d2, err := OpenFileDevice(path, 4*4096, 4096)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d2.Close()

	got := make([]byte, 3)
	if err := d2.ReadAt(8192, got); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("read back %v", got)
	}
}

func TestFileDevice_SizeMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")

	d, err := OpenFileDevice(path, 2*4096, 4096)
	if err != nil {
		t.Fatalf("OpenFileDevice: %v", err)
	}
	d.Close()

	if _, err := OpenFileDevice(path, 4*4096, 4096); err == nil {
		t.Fatal("expected size mismatch error, got nil")
	}
}

// internal/timesync/client_test.go
package timesync

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"
)

func TestUnixFromNTPSeconds(t *testing.T) {
	cases := []struct {
		ntp     uint32
		want    int64
		wantErr bool
	}{
		{ntp: 2_208_988_800, want: 0},              // exactly the unix epoch
		{ntp: 2_208_988_801, want: 1},
		{ntp: 2_208_988_799, wantErr: true},        // one second before 1970
		{ntp: 0, wantErr: true},
		{ntp: 3_913_056_000, want: 1_704_067_200},  // 2024-01-01T00:00:00Z
	}

	for _, c := range cases {
		got, err := UnixFromNTPSeconds(c.ntp)
		if c.wantErr {
			if !errors.Is(err, ErrBadTimestamp) {
				t.Errorf("UnixFromNTPSeconds(%d): expected ErrBadTimestamp, got %v", c.ntp, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("UnixFromNTPSeconds(%d): %v", c.ntp, err)
			continue
		}
		if got != c.want {
			t.Errorf("UnixFromNTPSeconds(%d) = %d, want %d", c.ntp, got, c.want)
		}
	}
}

// fakeNTPServer answers one request with the given transmit timestamp,
// truncating the reply to replyLen bytes.
func fakeNTPServer(t *testing.T, ntpSeconds uint32, replyLen int) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, packetSize)
		n, remote, err := conn.ReadFrom(buf)
		if err != nil || n != packetSize || buf[0] != 0x1B {
			return
		}
		reply := make([]byte, packetSize)
		reply[0] = 0x1C // LI=0, VN=3, Mode=4 (server)
		binary.BigEndian.PutUint32(reply[txTimestampOffset:], ntpSeconds)
		conn.WriteTo(reply[:replyLen], remote)
	}()

	return conn.LocalAddr().String()
}

func TestSyncOnce_Success(t *testing.T) {
	addr := fakeNTPServer(t, 3_913_056_000, packetSize)

	c, err := NewClient(addr, 2*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	got, err := c.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if got != 1_704_067_200 {
		t.Fatalf("got %d, want 1704067200", got)
	}
}

func TestSyncOnce_PreEpochTimestampRejected(t *testing.T) {
	addr := fakeNTPServer(t, 100, packetSize)

	c, err := NewClient(addr, 2*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.SyncOnce(context.Background()); !errors.Is(err, ErrBadTimestamp) {
		t.Fatalf("expected ErrBadTimestamp, got %v", err)
	}
}

func TestSyncOnce_ShortReplyRejected(t *testing.T) {
	addr := fakeNTPServer(t, 3_913_056_000, 20)

	c, err := NewClient(addr, 2*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.SyncOnce(context.Background()); !errors.Is(err, ErrShortReply) {
		t.Fatalf("expected ErrShortReply, got %v", err)
	}
}

func TestSyncOnce_Timeout(t *testing.T) {
	// A bound socket that never answers.
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer conn.Close()

	c, err := NewClient(conn.LocalAddr().String(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.SyncOnce(context.Background()); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestRunner_EmitsSuccessThenKeepsRunning(t *testing.T) {
	addr := fakeNTPServer(t, 3_913_056_000, packetSize)

	c, err := NewClient(addr, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	r := NewRunner(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Event, 1)
	done := make(chan struct{})
	go func() {
		r.Run(ctx, out)
		close(done)
	}()

	select {
	case ev := <-out:
		if ev.Err != nil {
			t.Fatalf("first event is a failure: %v", ev.Err)
		}
		if ev.UnixSeconds != 1_704_067_200 {
			t.Fatalf("unix seconds %d", ev.UnixSeconds)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event emitted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

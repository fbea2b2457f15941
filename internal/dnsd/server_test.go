// internal/dnsd/server_test.go
package dnsd

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"testing"
	"time"
)

// exampleQuery is a standard A query for "portal.local".
func exampleQuery() []byte {
	q := []byte{
		0xAB, 0xCD, // id
		0x01, 0x00, // RD=1
		0x00, 0x01, // QDCOUNT
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	for _, label := range []string{"portal", "local"} {
		q = append(q, byte(len(label)))
		q = append(q, label...)
	}
	q = append(q, 0x00, 0x00, 0x01, 0x00, 0x01)
	return q
}

func TestBuildAnswer_AppendsSingleARecord(t *testing.T) {
	query := exampleQuery()
	ip := [4]byte{192, 168, 4, 1}

	reply, ok := buildAnswer(query, ip)
	if !ok {
		t.Fatal("buildAnswer rejected a valid query")
	}

	if len(reply) != len(query)+16 {
		t.Fatalf("reply length %d, want %d", len(reply), len(query)+16)
	}
	if reply[0] != query[0] || reply[1] != query[1] {
		t.Fatal("transaction id not echoed")
	}
	if reply[2] != 0x84 || reply[3] != 0x00 {
		t.Fatalf("flags %#x %#x, want 0x84 0x00", reply[2], reply[3])
	}
	if reply[6] != 0 || reply[7] != 1 {
		t.Fatal("answer count not 1")
	}

	answer := reply[len(query):]
	want := []byte{
		0xC0, 0x0C,
		0x00, 0x01,
		0x00, 0x01,
		0x00, 0x00, 0x00, 60,
		0x00, 0x04,
		192, 168, 4, 1,
	}
	if !bytes.Equal(answer, want) {
		t.Fatalf("answer record %x, want %x", answer, want)
	}
}

func TestBuildAnswer_DropsShortQuery(t *testing.T) {
	if _, ok := buildAnswer(make([]byte, 11), [4]byte{1, 2, 3, 4}); ok {
		t.Fatal("11-byte datagram must be dropped")
	}
}

func TestBuildAnswer_DropsOversizeQuery(t *testing.T) {
	if _, ok := buildAnswer(make([]byte, maxPacket-8), [4]byte{1, 2, 3, 4}); ok {
		t.Fatal("query with no room for the answer must be dropped")
	}
}

func TestServer_AnswersOverUDP(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}

	srv, err := New(conn, netip.AddrFrom4([4]byte{192, 168, 4, 1}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	client, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Write(exampleQuery()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply := make([]byte, maxPacket)
	n, err := client.Read(reply)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(reply[n-4:n], []byte{192, 168, 4, 1}) {
		t.Fatalf("RDATA %v, want the AP address", reply[n-4:n])
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

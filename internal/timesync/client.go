// internal/timesync/client.go
package timesync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	packetSize = 48
	// Seconds between the NTP epoch (1900) and the Unix epoch (1970).
	ntpUnixDelta = 2_208_988_800
	// Transmit timestamp position in the reply.
	txTimestampOffset = 40
)

// DefaultTimeout bounds the wait for a reply.
const DefaultTimeout = 5 * time.Second

var (
	ErrShortReply   = errors.New("timesync: reply shorter than 48 bytes")
	ErrBadTimestamp = errors.New("timesync: transmit timestamp predates the unix epoch")
)

// Client fetches network time from one fixed NTP server.
type Client struct {
	serverAddr string
	timeout    time.Duration
}

// NewClient takes the server as host:port (conventionally port 123).
func NewClient(serverAddr string, timeout time.Duration) (*Client, error) {
	if serverAddr == "" {
		return nil, errors.New("timesync: server address required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{serverAddr: serverAddr, timeout: timeout}, nil
}

// SyncOnce performs one request/reply exchange and returns the server's
// idea of Unix time. One attempt only; the caller owns retry cadence.
func (c *Client) SyncOnce(ctx context.Context) (int64, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", c.serverAddr)
	if err != nil {
		return 0, fmt.Errorf("timesync: dial %s: %w", c.serverAddr, err)
	}
	defer conn.Close()

	// LI=0, VN=3, Mode=3 (client).
	request := make([]byte, packetSize)
	request[0] = 0x1B
	if _, err := conn.Write(request); err != nil {
		return 0, fmt.Errorf("timesync: send: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("timesync: set deadline: %w", err)
	}

	reply := make([]byte, packetSize)
	n, err := conn.Read(reply)
	if err != nil {
		return 0, fmt.Errorf("timesync: receive: %w", err)
	}
	if n < packetSize {
		return 0, ErrShortReply
	}

	ntpSeconds := uint32(reply[txTimestampOffset])<<24 |
		uint32(reply[txTimestampOffset+1])<<16 |
		uint32(reply[txTimestampOffset+2])<<8 |
		uint32(reply[txTimestampOffset+3])

	return UnixFromNTPSeconds(ntpSeconds)
}

// UnixFromNTPSeconds converts an NTP timestamp to Unix seconds. Pre-1970
// values mean a malformed reply and are rejected.
func UnixFromNTPSeconds(ntpSeconds uint32) (int64, error) {
	s := int64(ntpSeconds) - ntpUnixDelta
	if s < 0 {
		return 0, ErrBadTimestamp
	}
	return s, nil
}

// internal/dnsd/server.go
package dnsd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"

	"github.com/tamzrod/wifi-onboard/internal/metrics"
)

const (
	// Every answer carries a short TTL; clients should keep asking while
	// the portal is up.
	answerTTL = 60

	maxPacket = 512
	headerLen = 12
)

// Server answers every DNS query with one A record pointing at the access
// point so phones detect the captive portal. Malformed queries are dropped
// without a response; there is no negative-answer path.
type Server struct {
	conn     net.PacketConn
	answerIP [4]byte
	log      *slog.Logger
}

// New wraps an already-bound UDP socket (conventionally port 53).
func New(conn net.PacketConn, answerIP netip.Addr) (*Server, error) {
	if conn == nil {
		return nil, errors.New("dnsd: socket required")
	}
	if !answerIP.Is4() {
		return nil, errors.New("dnsd: answer address must be IPv4")
	}
	return &Server{
		conn:     conn,
		answerIP: answerIP.As4(),
		log:      slog.With("component", "dnsd"),
	}, nil
}

// Run serves queries until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	s.log.Info("dns responder listening", "addr", s.conn.LocalAddr().String())

	frame := make([]byte, maxPacket)
	for {
		n, remote, err := s.conn.ReadFrom(frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		reply, ok := buildAnswer(frame[:n], s.answerIP)
		if !ok {
			continue
		}
		if _, err := s.conn.WriteTo(reply, remote); err != nil {
			s.log.Warn("send failed", "remote", remote.String(), "error", err)
			continue
		}
		metrics.DNSQueriesAnswered.Inc()
	}
}

// buildAnswer copies the query and appends a single A record answering
// with ip. Returns false for queries too short to carry a DNS header or
// too large to fit the appended record.
func buildAnswer(query []byte, ip [4]byte) ([]byte, bool) {
	if len(query) < headerLen {
		return nil, false
	}
	if len(query)+16 > maxPacket {
		return nil, false
	}

	reply := make([]byte, len(query), len(query)+16)
	copy(reply, query)

	// QR=1, AA=1; everything else cleared.
	reply[2] = 0x84
	reply[3] = 0x00

	// ANCOUNT = 1.
	reply[6] = 0x00
	reply[7] = 0x01

	reply = append(reply,
		0xC0, 0x0C, // name: pointer to the question name
		0x00, 0x01, // type A
		0x00, 0x01, // class IN
		0x00, 0x00, 0x00, answerTTL,
		0x00, 0x04, // RDLENGTH
		ip[0], ip[1], ip[2], ip[3],
	)
	return reply, true
}

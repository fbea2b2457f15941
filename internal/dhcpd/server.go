// internal/dhcpd/server.go
package dhcpd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/tamzrod/wifi-onboard/internal/metrics"
)

// DefaultLeaseTime keeps captive-portal clients refreshing quickly.
const DefaultLeaseTime = 30 * time.Second

const clientPort = 68

// Config is the caller-supplied server identity and pool geometry.
type Config struct {
	ServerIP  netip.Addr
	Netmask   netip.Addr
	PoolStart netip.Addr
	PoolSize  uint8
	LeaseTime time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Server leases short-lived addresses to captive-portal clients.
// It owns its socket and lease table exclusively.
type Server struct {
	conn      net.PacketConn
	cfg       Config
	table     *leaseTable
	broadcast netip.Addr
	// replyDest overrides the broadcast destination in tests, where real
	// subnet broadcasts cannot be received on loopback.
	replyDest net.Addr
	log       *slog.Logger
}

// New wraps an already-bound UDP socket (conventionally port 67).
func New(conn net.PacketConn, cfg Config) (*Server, error) {
	if conn == nil {
		return nil, errors.New("dhcpd: socket required")
	}
	if !cfg.ServerIP.Is4() || !cfg.Netmask.Is4() || !cfg.PoolStart.Is4() {
		return nil, errors.New("dhcpd: server, netmask, and pool start must be IPv4")
	}
	if cfg.PoolSize == 0 {
		return nil, errors.New("dhcpd: pool size must be > 0")
	}
	if cfg.LeaseTime <= 0 {
		cfg.LeaseTime = DefaultLeaseTime
	}

	server := cfg.ServerIP.As4()
	broadcast := netip.AddrFrom4([4]byte{server[0], server[1], server[2], 255})

	return &Server{
		conn:      conn,
		cfg:       cfg,
		table:     newLeaseTable(cfg.PoolStart, cfg.PoolSize, cfg.LeaseTime, cfg.Now),
		broadcast: broadcast,
		log:       slog.With("component", "dhcpd"),
	}, nil
}

// Run serves requests until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	s.log.Info("dhcp responder listening",
		"server", s.cfg.ServerIP.String(),
		"pool_start", s.cfg.PoolStart.String(),
		"pool_size", s.cfg.PoolSize)

	frame := make([]byte, 768)
	for {
		n, _, err := s.conn.ReadFrom(frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		reply, ok := s.handle(frame[:n])
		if !ok {
			continue
		}

		dest := s.replyDest
		if dest == nil {
			// The client has no address yet; all replies go to the
			// subnet broadcast on the client port.
			dest = &net.UDPAddr{IP: s.broadcast.AsSlice(), Port: clientPort}
		}
		if _, err := s.conn.WriteTo(reply, dest); err != nil {
			s.log.Warn("send failed", "error", err)
		}
	}
}

// handle parses one frame and produces the reply, if any.
func (s *Server) handle(frame []byte) ([]byte, bool) {
	msg, ok := parseMessage(frame)
	if !ok {
		return nil, false
	}
	metrics.DHCPMessages.WithLabelValues(typeName(msg.msgType)).Inc()

	s.log.Debug("message received",
		"type", typeName(msg.msgType),
		"mac", macString(msg.clientMAC),
		"xid", fmt.Sprintf("%08x", msg.transactionID))

	// A Request naming another server belongs to that server.
	if msg.msgType == TypeRequest && msg.serverID.IsValid() && msg.serverID != s.cfg.ServerIP {
		return nil, false
	}

	var replyType uint8
	switch msg.msgType {
	case TypeDiscover:
		replyType = TypeOffer
	case TypeRequest:
		replyType = TypeAck
	case TypeDecline, TypeRelease:
		s.table.drop(msg.clientMAC)
		metrics.DHCPActiveLeases.Set(float64(s.table.active()))
		return nil, false
	default: // Inform and unrecognized types
		return nil, false
	}

	requested := msg.requestedIP
	if !requested.IsValid() {
		requested = msg.clientIP
	}
	offered, ok := s.table.ensure(msg.clientMAC, requested)
	if !ok {
		// Pool exhausted. Offering an address already leased to someone
		// else would hand two clients the same IP, so stay silent until
		// a lease expires.
		s.log.Warn("lease pool exhausted", "mac", macString(msg.clientMAC))
		return nil, false
	}
	metrics.DHCPActiveLeases.Set(float64(s.table.active()))

	leaseSeconds := uint32(s.cfg.LeaseTime / time.Second)
	reply := buildReply(msg, replyType, offered, s.cfg.ServerIP, s.cfg.Netmask, s.broadcast, leaseSeconds)

	s.log.Debug("lease offered", "ip", offered.String(), "mac", macString(msg.clientMAC))
	return reply, true
}

func typeName(t uint8) string {
	switch t {
	case TypeDiscover:
		return "discover"
	case TypeOffer:
		return "offer"
	case TypeRequest:
		return "request"
	case TypeDecline:
		return "decline"
	case TypeAck:
		return "ack"
	case TypeRelease:
		return "release"
	case TypeInform:
		return "inform"
	default:
		return "other"
	}
}

func macString(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

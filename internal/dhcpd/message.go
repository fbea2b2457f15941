// internal/dhcpd/message.go
package dhcpd

import (
	"encoding/binary"
	"net/netip"
)

// DHCP message type codes (option 53).
const (
	TypeDiscover uint8 = 1
	TypeOffer    uint8 = 2
	TypeRequest  uint8 = 3
	TypeDecline  uint8 = 4
	TypeAck      uint8 = 5
	TypeRelease  uint8 = 7
	TypeInform   uint8 = 8
)

// Option codes the responder reads or writes.
const (
	optSubnetMask   = 1
	optRouter       = 3
	optDNSServer    = 6
	optBroadcast    = 28
	optRequestedIP  = 50
	optLeaseTime    = 51
	optMessageType  = 53
	optServerID     = 54
	optRenewalT1    = 58
	optRebindingT2  = 59
	optEnd          = 255
	optPad          = 0
)

// Fixed BOOTP geometry.
const (
	minFrameLen     = 240
	cookieOffset    = 236
	chaddrOffset    = 28
	ciaddrOffset    = 12
	yiaddrOffset    = 16
	siaddrOffset    = 20
	replyBufferSize = 300
)

var magicCookie = [4]byte{99, 130, 83, 99}

// message is one parsed BOOTREQUEST.
type message struct {
	msgType       uint8
	transactionID uint32
	hardwareType  uint8
	hardwareLen   uint8
	flags         uint16
	clientMAC     [6]byte
	clientIP      netip.Addr // unset when ciaddr is 0.0.0.0
	requestedIP   netip.Addr // option 50, unset if absent
	serverID      netip.Addr // option 54, unset if absent
}

// parseMessage extracts the fields the responder cares about. Anything
// that is not an Ethernet BOOTREQUEST with the DHCP cookie parses as
// (zero, false) and is dropped by the caller.
func parseMessage(frame []byte) (message, bool) {
	var m message

	if len(frame) < minFrameLen {
		return m, false
	}
	if frame[0] != 1 { // BOOTREQUEST only
		return m, false
	}
	m.hardwareType = frame[1]
	m.hardwareLen = frame[2]
	if m.hardwareType != 1 || m.hardwareLen != 6 {
		return m, false
	}
	if [4]byte(frame[cookieOffset:cookieOffset+4]) != magicCookie {
		return m, false
	}

	m.transactionID = binary.BigEndian.Uint32(frame[4:8])
	m.flags = binary.BigEndian.Uint16(frame[10:12])

	ciaddr := netip.AddrFrom4([4]byte(frame[ciaddrOffset : ciaddrOffset+4]))
	if ciaddr != netip.AddrFrom4([4]byte{0, 0, 0, 0}) {
		m.clientIP = ciaddr
	}
	copy(m.clientMAC[:], frame[chaddrOffset:chaddrOffset+6])

	haveType := false
	idx := minFrameLen
	for idx < len(frame) {
		opt := frame[idx]
		idx++
		switch opt {
		case optPad:
			continue
		case optEnd:
			idx = len(frame)
		default:
			if idx >= len(frame) {
				return m, false
			}
			length := int(frame[idx])
			idx++
			if idx+length > len(frame) {
				return m, false
			}
			data := frame[idx : idx+length]
			switch {
			case opt == optRequestedIP && length == 4:
				m.requestedIP = netip.AddrFrom4([4]byte(data))
			case opt == optMessageType && length == 1:
				m.msgType = data[0]
				haveType = true
			case opt == optServerID && length == 4:
				m.serverID = netip.AddrFrom4([4]byte(data))
			}
			idx += length
		}
	}

	if !haveType {
		return m, false
	}
	return m, true
}

// buildReply assembles a BOOTREPLY for the given request. The reply type
// is Offer for Discover and Ack for Request; all lease parameters point
// back at the server.
func buildReply(req message, replyType uint8, offeredIP, serverIP, netmask, broadcast netip.Addr, leaseSeconds uint32) []byte {
	buf := make([]byte, replyBufferSize)

	buf[0] = 2 // BOOTREPLY
	buf[1] = req.hardwareType
	buf[2] = req.hardwareLen
	binary.BigEndian.PutUint32(buf[4:8], req.transactionID)
	binary.BigEndian.PutUint16(buf[10:12], req.flags)

	offered := offeredIP.As4()
	server := serverIP.As4()
	mask := netmask.As4()
	bcast := broadcast.As4()

	copy(buf[yiaddrOffset:], offered[:])
	copy(buf[siaddrOffset:], server[:])
	copy(buf[chaddrOffset:], req.clientMAC[:])
	copy(buf[cookieOffset:], magicCookie[:])

	renewal := leaseSeconds / 2
	rebinding := uint32(uint64(leaseSeconds) * 7 / 8)

	var lease, t1, t2 [4]byte
	binary.BigEndian.PutUint32(lease[:], leaseSeconds)
	binary.BigEndian.PutUint32(t1[:], renewal)
	binary.BigEndian.PutUint32(t2[:], rebinding)

	idx := minFrameLen
	idx = appendOption(buf, idx, optMessageType, []byte{replyType})
	idx = appendOption(buf, idx, optServerID, server[:])
	idx = appendOption(buf, idx, optLeaseTime, lease[:])
	idx = appendOption(buf, idx, optRenewalT1, t1[:])
	idx = appendOption(buf, idx, optRebindingT2, t2[:])
	idx = appendOption(buf, idx, optSubnetMask, mask[:])
	idx = appendOption(buf, idx, optRouter, server[:])
	idx = appendOption(buf, idx, optDNSServer, server[:])
	idx = appendOption(buf, idx, optBroadcast, bcast[:])
	buf[idx] = optEnd
	idx++

	return buf[:idx]
}

func appendOption(buf []byte, idx int, code uint8, payload []byte) int {
	buf[idx] = code
	buf[idx+1] = uint8(len(payload))
	copy(buf[idx+2:], payload)
	return idx + 2 + len(payload)
}

// internal/dhcpd/leases.go
package dhcpd

import (
	"encoding/binary"
	"net/netip"
	"time"
)

// maxLeases bounds the table. The captive portal serves one phone at a
// time in practice; eight leaves headroom for curious neighbors.
const maxLeases = 8

type lease struct {
	mac       [6]byte
	ip        netip.Addr
	expiresAt time.Time
}

// leaseTable owns all MAC→IP state. Expired entries are reclaimed lazily
// on the next ensure call; there is no eviction timer.
type leaseTable struct {
	now       func() time.Time
	leaseTime time.Duration
	poolStart netip.Addr
	poolSize  uint8
	leases    []lease
}

func newLeaseTable(poolStart netip.Addr, poolSize uint8, leaseTime time.Duration, now func() time.Time) *leaseTable {
	if now == nil {
		now = time.Now
	}
	return &leaseTable{
		now:       now,
		leaseTime: leaseTime,
		poolStart: poolStart,
		poolSize:  poolSize,
		leases:    make([]lease, 0, maxLeases),
	}
}

// ensure refreshes or allocates a lease for mac. A validly-requested free
// pool address wins; otherwise an existing lease keeps its address and a
// new client gets the first free one. Returns false when the pool is
// exhausted.
func (t *leaseTable) ensure(mac [6]byte, requested netip.Addr) (netip.Addr, bool) {
	now := t.now()
	t.reclaim(now)

	expiry := now.Add(t.leaseTime)

	desired, haveDesired := t.desiredIP(mac, requested)

	for i := range t.leases {
		if t.leases[i].mac == mac {
			if haveDesired {
				t.leases[i].ip = desired
			}
			t.leases[i].expiresAt = expiry
			return t.leases[i].ip, true
		}
	}

	ip := desired
	if !haveDesired {
		var ok bool
		ip, ok = t.firstFree()
		if !ok {
			return netip.Addr{}, false
		}
	}

	if len(t.leases) >= maxLeases {
		return netip.Addr{}, false
	}
	t.leases = append(t.leases, lease{mac: mac, ip: ip, expiresAt: expiry})
	return ip, true
}

// drop removes mac's lease, if any. Used for Decline and Release.
func (t *leaseTable) drop(mac [6]byte) {
	kept := t.leases[:0]
	for _, l := range t.leases {
		if l.mac != mac {
			kept = append(kept, l)
		}
	}
	t.leases = kept
}

// active is the current table size, for the lease gauge.
func (t *leaseTable) active() int { return len(t.leases) }

func (t *leaseTable) reclaim(now time.Time) {
	kept := t.leases[:0]
	for _, l := range t.leases {
		if l.expiresAt.After(now) {
			kept = append(kept, l)
		}
	}
	t.leases = kept
}

// desiredIP validates a requested address: in the pool and not leased to a
// different MAC.
func (t *leaseTable) desiredIP(mac [6]byte, requested netip.Addr) (netip.Addr, bool) {
	if !requested.IsValid() || !t.inPool(requested) {
		return netip.Addr{}, false
	}
	for _, l := range t.leases {
		if l.ip == requested && l.mac != mac {
			return netip.Addr{}, false
		}
	}
	return requested, true
}

func (t *leaseTable) firstFree() (netip.Addr, bool) {
	base := ipToU32(t.poolStart)
	for offset := uint32(0); offset < uint32(t.poolSize); offset++ {
		candidate := u32ToIP(base + offset)
		taken := false
		for _, l := range t.leases {
			if l.ip == candidate {
				taken = true
				break
			}
		}
		if !taken {
			return candidate, true
		}
	}
	return netip.Addr{}, false
}

func (t *leaseTable) inPool(ip netip.Addr) bool {
	if t.poolSize == 0 {
		return false
	}
	start := ipToU32(t.poolStart)
	v := ipToU32(ip)
	return v >= start && v <= start+uint32(t.poolSize)-1
}

func ipToU32(ip netip.Addr) uint32 {
	b := ip.As4()
	return binary.BigEndian.Uint32(b[:])
}

func u32ToIP(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

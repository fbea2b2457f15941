// internal/config/validate.go
package config

import (
	"fmt"
	"net/netip"

	"github.com/tamzrod/wifi-onboard/internal/credstore"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	o := &cfg.Onboard

	// ------------------------------------------------------------
	// FLASH GEOMETRY
	// ------------------------------------------------------------

	f := o.Flash
	if f.Capacity == 0 || f.EraseSize == 0 {
		return fmt.Errorf("flash: capacity and erase_size must be positive")
	}
	if f.Capacity%f.EraseSize != 0 {
		return fmt.Errorf("flash: capacity %d is not a multiple of erase_size %d", f.Capacity, f.EraseSize)
	}
	// Both zero means timezone_block is unset; Normalize moves it to 1.
	if f.CredentialBlock == f.TimezoneBlock {
		if f.TimezoneBlock != 0 {
			return fmt.Errorf("flash: credential_block and timezone_block must be distinct")
		}
		if 2*f.EraseSize > f.Capacity {
			return fmt.Errorf("flash: device too small for two reserved blocks")
		}
	}
	for _, b := range []struct {
		name string
		id   uint32
	}{
		{"credential_block", f.CredentialBlock},
		{"timezone_block", f.TimezoneBlock},
	} {
		if (b.id+1)*f.EraseSize > f.Capacity {
			return fmt.Errorf("flash: %s %d exceeds device capacity", b.name, b.id)
		}
	}

	// ------------------------------------------------------------
	// ACCESS POINT NETWORK
	// ------------------------------------------------------------

	if o.AP.SSID == "" {
		return fmt.Errorf("ap: ssid is required")
	}
	if len(o.AP.SSID) > credstore.SSIDCapacity {
		return fmt.Errorf("ap: ssid exceeds %d bytes", credstore.SSIDCapacity)
	}

	serverIP, err := parseIPv4("ap.server_ip", o.AP.ServerIP)
	if err != nil {
		return err
	}
	if _, err := parseIPv4("ap.netmask", o.AP.Netmask); err != nil {
		return err
	}
	poolStart, err := parseIPv4("ap.pool_start", o.AP.PoolStart)
	if err != nil {
		return err
	}

	if o.AP.PoolSize < 1 {
		return fmt.Errorf("ap: pool_size must be at least 1")
	}
	if o.AP.LeaseS < 0 {
		return fmt.Errorf("ap: lease_s must not be negative")
	}

	// The server must not sit inside the handout pool.
	s := serverIP.As4()
	p := poolStart.As4()
	if s[0] == p[0] && s[1] == p[1] && s[2] == p[2] {
		if int(s[3]) >= int(p[3]) && int(s[3]) < int(p[3])+o.AP.PoolSize {
			return fmt.Errorf("ap: server_ip %s falls inside the lease pool", o.AP.ServerIP)
		}
	}
	if int(p[3])+o.AP.PoolSize > 255 {
		return fmt.Errorf("ap: lease pool runs past the end of the /24")
	}

	// ------------------------------------------------------------
	// CLIENT CONNECT
	// ------------------------------------------------------------

	if o.Connect.Attempts < 0 {
		return fmt.Errorf("connect: attempts must not be negative")
	}
	if o.Connect.TimeoutMs < 0 || o.Connect.RetryDelayMs < 0 {
		return fmt.Errorf("connect: timeout_ms and retry_delay_ms must not be negative")
	}

	// ------------------------------------------------------------
	// NTP
	// ------------------------------------------------------------

	if o.NTP.TimeoutMs < 0 {
		return fmt.Errorf("ntp: timeout_ms must not be negative")
	}

	return nil
}

func parseIPv4(field, raw string) (netip.Addr, error) {
	if raw == "" {
		return netip.Addr{}, fmt.Errorf("%s is required", field)
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s: %q is not an IPv4 address", field, raw)
	}
	return addr, nil
}

// internal/config/normalize.go
package config

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	o := &cfg.Onboard

	if o.AP.PoolSize == 0 {
		o.AP.PoolSize = 8
	}
	if o.AP.LeaseS == 0 {
		o.AP.LeaseS = 30
	}

	if o.Connect.Attempts == 0 {
		o.Connect.Attempts = 2
	}
	if o.Connect.TimeoutMs == 0 {
		o.Connect.TimeoutMs = 30_000
	}
	if o.Connect.RetryDelayMs == 0 {
		o.Connect.RetryDelayMs = 3_000
	}

	if o.NTP.Server == "" {
		o.NTP.Server = "pool.ntp.org:123"
	}
	if o.NTP.TimeoutMs == 0 {
		o.NTP.TimeoutMs = 5_000
	}

	if o.Listen.DNS == "" {
		o.Listen.DNS = ":53"
	}
	if o.Listen.DHCP == "" {
		o.Listen.DHCP = ":67"
	}
	if o.Listen.Portal == "" {
		o.Listen.Portal = ":80"
	}

	// Timezone block defaults to the block above the credentials.
	if o.Flash.TimezoneBlock == 0 && o.Flash.CredentialBlock == 0 {
		o.Flash.TimezoneBlock = 1
	}
}

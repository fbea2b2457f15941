// internal/config/config.go
package config

type Config struct {
	Onboard OnboardConfig `yaml:"onboard"`
}

type OnboardConfig struct {
	Flash   FlashConfig   `yaml:"flash"`
	AP      APConfig      `yaml:"ap"`
	Connect ConnectConfig `yaml:"connect"`
	NTP     NTPConfig     `yaml:"ntp"`
	Listen  ListenConfig  `yaml:"listen"`
	Radio   RadioConfig   `yaml:"radio"`
}

// ---- FLASH ----

type FlashConfig struct {
	// ImagePath is the backing file for the flash image. Empty means an
	// in-memory image that forgets everything on exit.
	ImagePath string `yaml:"image_path"`
	Capacity  uint32 `yaml:"capacity"`
	EraseSize uint32 `yaml:"erase_size"`

	// Reserved block ids, counted backward from the top of the image.
	CredentialBlock uint32 `yaml:"credential_block"`
	TimezoneBlock   uint32 `yaml:"timezone_block"`
}

// ---- ACCESS POINT ----

type APConfig struct {
	SSID      string `yaml:"ssid"`
	ServerIP  string `yaml:"server_ip"` // also gateway and DNS in DHCP replies
	Netmask   string `yaml:"netmask"`
	PoolStart string `yaml:"pool_start"`
	PoolSize  int    `yaml:"pool_size"`
	LeaseS    int    `yaml:"lease_s"`
}

// ---- CLIENT CONNECT ----

type ConnectConfig struct {
	Attempts     int `yaml:"attempts"`
	TimeoutMs    int `yaml:"timeout_ms"`
	RetryDelayMs int `yaml:"retry_delay_ms"`
}

// ---- NTP ----

type NTPConfig struct {
	Server    string `yaml:"server"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- RADIO HOOKS ----

type RadioConfig struct {
	// Shell commands driving the platform's WiFi stack (hostapd,
	// wpa_cli, nmcli). The join command receives WIFI_SSID and
	// WIFI_PSK in its environment; the AP command receives AP_SSID.
	// Empty commands make the step a successful no-op, which is the
	// development mode on a machine without a managed radio.
	APStartCmd string `yaml:"ap_start_cmd"`
	JoinCmd    string `yaml:"join_cmd"`
}

// ---- LISTEN ADDRESSES ----

type ListenConfig struct {
	DNS     string `yaml:"dns"`
	DHCP    string `yaml:"dhcp"`
	Portal  string `yaml:"portal"`
	Metrics string `yaml:"metrics"` // empty disables the metrics endpoint
}

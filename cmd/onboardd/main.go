// cmd/onboardd/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tamzrod/wifi-onboard/internal/blockstore"
	"github.com/tamzrod/wifi-onboard/internal/clock"
	"github.com/tamzrod/wifi-onboard/internal/config"
	"github.com/tamzrod/wifi-onboard/internal/credstore"
	"github.com/tamzrod/wifi-onboard/internal/dhcpd"
	"github.com/tamzrod/wifi-onboard/internal/dnsd"
	"github.com/tamzrod/wifi-onboard/internal/flash"
	"github.com/tamzrod/wifi-onboard/internal/metrics"
	"github.com/tamzrod/wifi-onboard/internal/onboard"
	"github.com/tamzrod/wifi-onboard/internal/portal"
	"github.com/tamzrod/wifi-onboard/internal/radio"
	"github.com/tamzrod/wifi-onboard/internal/status"
	"github.com/tamzrod/wifi-onboard/internal/timesync"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"onboard.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct{} `cmd:"" help:"Run the onboarding daemon"`

	Wipe struct{} `cmd:"" help:"Erase stored credentials and timezone, forcing setup mode on next run"`

	ShowConfig struct{} `cmd:"" name:"show-config" help:"Print the effective configuration after defaults"`
}

func main() {
	_ = godotenv.Load()

	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		slog.Error("Configuration invalid", "error", err)
		os.Exit(1)
	}
	config.Normalize(cfg)

	switch kctx.Command() {
	case "run":
		if err := runDaemon(cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "wipe":
		if err := runWipe(cfg); err != nil {
			slog.Error("Wipe failed", "error", err)
			os.Exit(1)
		}
	case "show-config":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			slog.Error("Failed to render configuration", "error", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
	}
}

// openDevice builds the flash image named by the config. An empty path
// means a volatile in-memory image, which is the development default.
func openDevice(fc config.FlashConfig) (flash.Device, func() error, error) {
	if fc.ImagePath == "" {
		dev, err := flash.NewMemDevice(fc.Capacity, fc.EraseSize)
		if err != nil {
			return nil, nil, err
		}
		slog.Warn("no flash image_path configured, storage is volatile")
		return dev, func() error { return nil }, nil
	}
	dev, err := flash.OpenFileDevice(fc.ImagePath, fc.Capacity, fc.EraseSize)
	if err != nil {
		return nil, nil, err
	}
	return dev, dev.Close, nil
}

func runWipe(cfg *config.Config) error {
	dev, closeDev, err := openDevice(cfg.Onboard.Flash)
	if err != nil {
		return err
	}
	defer closeDev()

	creds, err := credstore.New(dev, cfg.Onboard.Flash.CredentialBlock)
	if err != nil {
		return err
	}
	blocks, err := blockstore.New(dev)
	if err != nil {
		return err
	}

	if err := creds.Clear(); err != nil {
		return err
	}
	if err := blocks.Clear(cfg.Onboard.Flash.TimezoneBlock); err != nil {
		return err
	}
	slog.Info("stored credentials and timezone erased")
	return nil
}

func runDaemon(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	o := cfg.Onboard

	dev, closeDev, err := openDevice(o.Flash)
	if err != nil {
		return err
	}
	defer closeDev()

	if o.Listen.Metrics != "" {
		go serveMetrics(ctx, o.Listen.Metrics)
	}

	rad := radio.NewScript(o.Radio.APStartCmd, o.Radio.JoinCmd)

	// --------------------
	// Restart loop
	// --------------------
	//
	// Each pass is one full device lifetime: fresh stores, channels, and
	// services, exactly as a reboot would produce. A restart outcome from
	// the machine tears the pass down and begins the next one.

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		restart, err := runPass(ctx, cfg, dev, rad)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
	}
}

func runPass(ctx context.Context, cfg *config.Config, dev flash.Device, rad *radio.ScriptRadio) (restart bool, err error) {
	o := cfg.Onboard

	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	creds, err := credstore.New(dev, o.Flash.CredentialBlock)
	if err != nil {
		return false, err
	}
	blocks, err := blockstore.New(dev)
	if err != nil {
		return false, err
	}

	submissions := make(chan onboard.Submission, 1)
	tzUpdates := make(chan int32, 1)
	syncEvents := make(chan timesync.Event, 4)

	// SIGUSR1 is the reset-button analog: a confirmed clear gesture.
	clears := make(chan struct{}, 1)
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-passCtx.Done():
				return
			case <-usr1:
				select {
				case clears <- struct{}{}:
				default:
				}
			}
		}
	}()

	ntpClient, err := timesync.NewClient(o.NTP.Server, time.Duration(o.NTP.TimeoutMs)*time.Millisecond)
	if err != nil {
		return false, err
	}

	machine, err := onboard.New(onboard.Config{
		APSSID:          o.AP.SSID,
		TimezoneBlock:   o.Flash.TimezoneBlock,
		ConnectAttempts: o.Connect.Attempts,
		ConnectTimeout:  time.Duration(o.Connect.TimeoutMs) * time.Millisecond,
		RetryDelay:      time.Duration(o.Connect.RetryDelayMs) * time.Millisecond,
	}, onboard.Deps{
		Credentials:     creds,
		Blocks:          blocks,
		Radio:           rad,
		Status:          status.NewReporter(),
		Clock:           clock.New(),
		Submissions:     submissions,
		ClearRequests:   clears,
		TimezoneUpdates: tzUpdates,
		SyncEvents:      syncEvents,
		StartCaptiveServices: func(svcCtx context.Context) error {
			return startCaptiveServices(svcCtx, o, submissions)
		},
		StartTimeSync: func(syncCtx context.Context) {
			go timesync.NewRunner(ntpClient).Run(syncCtx, syncEvents)
		},
	})
	if err != nil {
		return false, err
	}

	res, err := machine.Run(passCtx)
	if err != nil {
		return false, err
	}
	return res.Restart, nil
}

// startCaptiveServices binds and launches the DNS responder, the DHCP
// responder, and the portal for one AccessPoint pass. They stop when ctx
// is cancelled.
func startCaptiveServices(ctx context.Context, o config.OnboardConfig, submissions chan onboard.Submission) error {
	serverIP, err := netip.ParseAddr(o.AP.ServerIP)
	if err != nil {
		return fmt.Errorf("ap server_ip: %w", err)
	}
	netmask, err := netip.ParseAddr(o.AP.Netmask)
	if err != nil {
		return fmt.Errorf("ap netmask: %w", err)
	}
	poolStart, err := netip.ParseAddr(o.AP.PoolStart)
	if err != nil {
		return fmt.Errorf("ap pool_start: %w", err)
	}

	dnsConn, err := net.ListenPacket("udp4", o.Listen.DNS)
	if err != nil {
		return fmt.Errorf("bind dns %s: %w", o.Listen.DNS, err)
	}
	dns, err := dnsd.New(dnsConn, serverIP)
	if err != nil {
		dnsConn.Close()
		return err
	}

	dhcpConn, err := net.ListenPacket("udp4", o.Listen.DHCP)
	if err != nil {
		dnsConn.Close()
		return fmt.Errorf("bind dhcp %s: %w", o.Listen.DHCP, err)
	}
	dhcp, err := dhcpd.New(dhcpConn, dhcpd.Config{
		ServerIP:  serverIP,
		Netmask:   netmask,
		PoolStart: poolStart,
		PoolSize:  uint8(o.AP.PoolSize),
		LeaseTime: time.Duration(o.AP.LeaseS) * time.Second,
	})
	if err != nil {
		dnsConn.Close()
		dhcpConn.Close()
		return err
	}

	portalLn, err := net.Listen("tcp", o.Listen.Portal)
	if err != nil {
		dnsConn.Close()
		dhcpConn.Close()
		return fmt.Errorf("bind portal %s: %w", o.Listen.Portal, err)
	}

	go func() {
		if err := dns.Run(ctx); err != nil {
			slog.Error("DNS responder stopped", "error", err)
		}
	}()
	go func() {
		if err := dhcp.Run(ctx); err != nil {
			slog.Error("DHCP responder stopped", "error", err)
		}
	}()
	go func() {
		if err := portal.New(submissions).Run(ctx, portalLn); err != nil {
			slog.Error("Portal stopped", "error", err)
		}
	}()
	return nil
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Metrics server stopped", "error", err)
	}
}

// internal/radio/radio.go
package radio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/tamzrod/wifi-onboard/internal/credstore"
)

// ScriptRadio drives the platform WiFi stack through configured shell
// commands. Credentials travel in the child environment, never on the
// command line, so they do not show up in the process list.
type ScriptRadio struct {
	apStartCmd string
	joinCmd    string
	log        *slog.Logger
}

func NewScript(apStartCmd, joinCmd string) *ScriptRadio {
	return &ScriptRadio{
		apStartCmd: apStartCmd,
		joinCmd:    joinCmd,
		log:        slog.With("component", "radio"),
	}
}

// StartAccessPoint runs the AP hook with AP_SSID set. An empty hook is a
// successful no-op.
func (r *ScriptRadio) StartAccessPoint(ctx context.Context, ssid string) error {
	if r.apStartCmd == "" {
		r.log.Info("no ap_start_cmd configured, skipping radio setup", "ssid", ssid)
		return nil
	}
	if err := r.run(ctx, r.apStartCmd, "AP_SSID="+ssid); err != nil {
		return fmt.Errorf("radio: start access point: %w", err)
	}
	return nil
}

// JoinNetwork runs the join hook with WIFI_SSID and WIFI_PSK set. The
// hook must block until the network is up and exit nonzero on failure.
func (r *ScriptRadio) JoinNetwork(ctx context.Context, creds credstore.Credentials) error {
	if r.joinCmd == "" {
		r.log.Info("no join_cmd configured, treating join as successful", "ssid", creds.SSID)
		return nil
	}
	if err := r.run(ctx, r.joinCmd, "WIFI_SSID="+creds.SSID, "WIFI_PSK="+creds.Password); err != nil {
		return fmt.Errorf("radio: join %q: %w", creds.SSID, err)
	}
	return nil
}

func (r *ScriptRadio) run(ctx context.Context, command string, env ...string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Env = append(cmd.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", command, err, out)
	}
	r.log.Debug("radio hook succeeded", "command", command)
	return nil
}

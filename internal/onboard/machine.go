// internal/onboard/machine.go
package onboard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tamzrod/wifi-onboard/internal/blockstore"
	"github.com/tamzrod/wifi-onboard/internal/clock"
	"github.com/tamzrod/wifi-onboard/internal/credstore"
	"github.com/tamzrod/wifi-onboard/internal/metrics"
	"github.com/tamzrod/wifi-onboard/internal/status"
	"github.com/tamzrod/wifi-onboard/internal/timesync"
)

// Restart reasons, for logs and the restart counter.
const (
	ReasonCredentialsSubmitted = "credentials-submitted"
	ReasonRetryExhausted       = "retry-exhausted"
	ReasonUserClear            = "user-clear"
)

// Result tells the outer loop what to do after Run returns.
type Result struct {
	// Restart means tear everything down and re-enter Start with fresh
	// state, the software stand-in for a full device reset.
	Restart bool
	Reason  string
}

// Radio is the external radio-firmware collaborator.
type Radio interface {
	// StartAccessPoint brings the radio up in AP mode.
	StartAccessPoint(ctx context.Context, ssid string) error
	// JoinNetwork blocks until the client network is up or ctx expires.
	JoinNetwork(ctx context.Context, creds credstore.Credentials) error
}

// Config is the machine's runtime configuration.
type Config struct {
	APSSID          string
	TimezoneBlock   uint32
	ConnectAttempts int
	ConnectTimeout  time.Duration
	RetryDelay      time.Duration
}

// Deps are the machine's collaborators. The machine is the only writer of
// the credential and block stores; everything else reaches it through
// channels.
type Deps struct {
	Credentials *credstore.Store
	Blocks      *blockstore.Store
	Radio       Radio
	Status      *status.Reporter
	Clock       *clock.Clock

	// Submissions delivers parsed captive-portal form tuples.
	Submissions <-chan Submission
	// ClearRequests delivers confirmed user-clear gestures.
	ClearRequests <-chan struct{}
	// TimezoneUpdates delivers display-offset adjustments to persist.
	TimezoneUpdates <-chan int32
	// SyncEvents delivers time synchronization outcomes.
	SyncEvents <-chan timesync.Event

	// StartCaptiveServices brings up the DNS/DHCP responders and the
	// portal for AccessPoint mode. They stop when ctx is cancelled.
	StartCaptiveServices func(ctx context.Context) error
	// StartTimeSync starts the sync runner feeding SyncEvents.
	StartTimeSync func(ctx context.Context)
}

// Machine is the onboarding state machine. Exactly one instance runs at a
// time; transitions are strictly sequential.
type Machine struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

func New(cfg Config, deps Deps) (*Machine, error) {
	if deps.Credentials == nil || deps.Blocks == nil {
		return nil, errors.New("onboard: credential and block stores required")
	}
	if deps.Radio == nil {
		return nil, errors.New("onboard: radio required")
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 2
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	if deps.Status == nil {
		deps.Status = status.NewReporter()
	}
	return &Machine{cfg: cfg, deps: deps, log: slog.With("component", "onboard")}, nil
}

// Run executes one pass from Start until a restart is required or the
// context is cancelled. The caller owns the restart loop.
func (m *Machine) Run(ctx context.Context) (Result, error) {
	res, err := m.start(ctx)
	if err == nil && res.Restart {
		metrics.Restarts.WithLabelValues(res.Reason).Inc()
		m.log.Info("restart requested", "reason", res.Reason)
	}
	return res, err
}

// start is the Start state: read stored configuration and pick a mode.
func (m *Machine) start(ctx context.Context) (Result, error) {
	m.deps.Status.Report(status.Snapshot{State: status.StateStart})

	var tz TimezoneOffset
	ok, err := m.deps.Blocks.Load(m.cfg.TimezoneBlock, &tz)
	switch {
	case errors.Is(err, blockstore.ErrCorrupted):
		// A degraded timezone block is not worth refusing to boot over.
		m.log.Warn("timezone block corrupted, clearing", "block", m.cfg.TimezoneBlock)
		if err := m.deps.Blocks.Clear(m.cfg.TimezoneBlock); err != nil {
			return Result{}, err
		}
	case err != nil:
		return Result{}, err
	case ok && m.deps.Clock != nil:
		m.deps.Clock.SetTimezoneOffset(tz.Minutes)
	}

	creds, haveCreds, err := m.deps.Credentials.Load()
	if errors.Is(err, credstore.ErrCorrupted) {
		// Corrupted credentials behave like bad credentials: clear them
		// and fall back to setup mode rather than hang.
		m.log.Warn("credential block corrupted, clearing")
		if err := m.deps.Credentials.Clear(); err != nil {
			return Result{}, err
		}
		haveCreds = false
	} else if err != nil {
		return Result{}, err
	}

	if !haveCreds {
		return m.accessPoint(ctx)
	}
	return m.tryConnect(ctx, creds)
}

// accessPoint runs the captive portal until a human submits credentials.
// No timeout: there is nobody to time out on.
func (m *Machine) accessPoint(ctx context.Context) (Result, error) {
	m.log.Info("entering access point mode", "ssid", m.cfg.APSSID)

	if err := m.deps.Radio.StartAccessPoint(ctx, m.cfg.APSSID); err != nil {
		return Result{}, err
	}
	if m.deps.StartCaptiveServices != nil {
		if err := m.deps.StartCaptiveServices(ctx); err != nil {
			return Result{}, err
		}
	}

	entered := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	m.reportAccessPoint(entered)

	for {
		select {
		case <-ctx.Done():
			return Result{}, nil
		case <-ticker.C:
			m.reportAccessPoint(entered)
		case sub := <-m.deps.Submissions:
			return m.persistSubmission(sub)
		}
	}
}

func (m *Machine) reportAccessPoint(entered time.Time) {
	m.deps.Status.Report(status.Snapshot{
		State:          status.StateAccessPoint,
		SecondsInState: clampSeconds(time.Since(entered)),
	})
}

// persistSubmission writes the portal tuple and requests the restart that
// moves the device into client mode. No live AP-to-client switching.
func (m *Machine) persistSubmission(sub Submission) (Result, error) {
	creds := credstore.Credentials{SSID: sub.SSID, Password: sub.Password}
	if !creds.Valid() {
		return Result{}, credstore.ErrFormat
	}
	if err := m.deps.Credentials.Save(creds); err != nil {
		return Result{}, err
	}

	tz := TimezoneOffset{Minutes: sub.TimezoneOffsetMinutes}
	if tz.Valid() {
		if err := m.deps.Blocks.Save(m.cfg.TimezoneBlock, &tz); err != nil {
			return Result{}, err
		}
	}

	m.log.Info("credentials persisted", "ssid", sub.SSID)
	return Result{Restart: true, Reason: ReasonCredentialsSubmitted}, nil
}

// tryConnect attempts to join the stored network with a bounded retry
// budget. Exhaustion clears the credentials so the next pass re-enters
// setup mode instead of wedging on stale credentials forever.
func (m *Machine) tryConnect(ctx context.Context, creds credstore.Credentials) (Result, error) {
	for attempt := 1; attempt <= m.cfg.ConnectAttempts; attempt++ {
		m.log.Info("connection attempt", "attempt", attempt, "of", m.cfg.ConnectAttempts, "ssid", creds.SSID)
		m.deps.Status.Report(status.Snapshot{
			State:        status.StateTryConnect,
			Attempt:      uint16(attempt),
			AttemptCount: uint16(m.cfg.ConnectAttempts),
		})

		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		err := m.deps.Radio.JoinNetwork(attemptCtx, creds)
		cancel()
		if err == nil {
			return m.readyToWork(ctx)
		}
		if ctx.Err() != nil {
			return Result{}, nil
		}

		m.log.Warn("connection attempt failed", "attempt", attempt, "error", err)
		if !sleep(ctx, m.cfg.RetryDelay) {
			return Result{}, nil
		}
	}

	m.log.Warn("all connection attempts failed, clearing credentials")
	if err := m.deps.Credentials.Clear(); err != nil {
		return Result{}, err
	}
	return Result{Restart: true, Reason: ReasonRetryExhausted}, nil
}

// readyToWork waits for the first time sync, then serves the application
// until a confirmed clear or shutdown.
func (m *Machine) readyToWork(ctx context.Context) (Result, error) {
	if m.deps.StartTimeSync != nil {
		m.deps.StartTimeSync(ctx)
	}

	// Time must be synchronized at least once before the device counts
	// as ready; sync failures here are the runner's retry problem.
	for synced := false; !synced; {
		select {
		case <-ctx.Done():
			return Result{}, nil
		case ev := <-m.deps.SyncEvents:
			if ev.Err != nil {
				continue
			}
			if m.deps.Clock != nil {
				m.deps.Clock.SetUnixTime(ev.UnixSeconds)
			}
			synced = true
		}
	}

	m.log.Info("ready to work")
	m.deps.Status.Report(status.Snapshot{State: status.StateReadyToWork})

	for {
		select {
		case <-ctx.Done():
			return Result{}, nil

		case <-m.deps.ClearRequests:
			// Same externally observable behavior as retry exhaustion:
			// wipe and restart into setup mode.
			if err := m.deps.Credentials.Clear(); err != nil {
				return Result{}, err
			}
			if err := m.deps.Blocks.Clear(m.cfg.TimezoneBlock); err != nil {
				return Result{}, err
			}
			return Result{Restart: true, Reason: ReasonUserClear}, nil

		case minutes := <-m.deps.TimezoneUpdates:
			if err := m.persistTimezone(minutes); err != nil {
				return Result{}, err
			}

		case ev := <-m.deps.SyncEvents:
			if ev.Err != nil {
				continue
			}
			if m.deps.Clock != nil {
				m.deps.Clock.SetUnixTime(ev.UnixSeconds)
			}
		}
	}
}

// persistTimezone writes the offset only when it changed. Flash blocks
// wear out; redundant erase cycles are not free.
func (m *Machine) persistTimezone(minutes int32) error {
	tz := TimezoneOffset{Minutes: minutes}
	if !tz.Valid() {
		m.log.Warn("timezone update out of range, ignoring", "minutes", minutes)
		return nil
	}

	var current TimezoneOffset
	ok, err := m.deps.Blocks.Load(m.cfg.TimezoneBlock, &current)
	if err != nil && !errors.Is(err, blockstore.ErrCorrupted) {
		return err
	}
	if ok && current.Minutes == minutes {
		return nil
	}

	if err := m.deps.Blocks.Save(m.cfg.TimezoneBlock, &tz); err != nil {
		return err
	}
	if m.deps.Clock != nil {
		m.deps.Clock.SetTimezoneOffset(minutes)
	}
	m.log.Info("timezone offset persisted", "minutes", minutes)
	return nil
}

func clampSeconds(d time.Duration) uint16 {
	s := int64(d / time.Second)
	if s > 65535 {
		return 65535
	}
	return uint16(s)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

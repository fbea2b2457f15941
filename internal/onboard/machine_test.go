// internal/onboard/machine_test.go
package onboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tamzrod/wifi-onboard/internal/blockstore"
	"github.com/tamzrod/wifi-onboard/internal/clock"
	"github.com/tamzrod/wifi-onboard/internal/credstore"
	"github.com/tamzrod/wifi-onboard/internal/flash"
	"github.com/tamzrod/wifi-onboard/internal/status"
	"github.com/tamzrod/wifi-onboard/internal/timesync"
)

// ---- FAKES ----

type fakeRadio struct {
	mu       sync.Mutex
	joinErr  error
	apSSIDs  []string
	joinArgs []credstore.Credentials
}

func (r *fakeRadio) StartAccessPoint(_ context.Context, ssid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apSSIDs = append(r.apSSIDs, ssid)
	return nil
}

func (r *fakeRadio) JoinNetwork(_ context.Context, creds credstore.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinArgs = append(r.joinArgs, creds)
	return r.joinErr
}

func (r *fakeRadio) joins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.joinArgs)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []uint16
}

func (d *stateRecorder) WriteStatus(slots []uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.states)
	if n == 0 || d.states[n-1] != slots[status.SlotState] {
		d.states = append(d.states, slots[status.SlotState])
	}
	return nil
}

func (d *stateRecorder) seen() []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint16(nil), d.states...)
}

// ---- HARNESS ----

type harness struct {
	dev      *flash.MemDevice
	creds    *credstore.Store
	blocks   *blockstore.Store
	radio    *fakeRadio
	recorder *stateRecorder
	clk      *clock.Clock

	submissions chan Submission
	clears      chan struct{}
	tzUpdates   chan int32
	syncEvents  chan timesync.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dev, err := flash.NewMemDevice(16*4096, 4096)
	require.NoError(t, err)
	creds, err := credstore.New(dev, 0)
	require.NoError(t, err)
	blocks, err := blockstore.New(dev)
	require.NoError(t, err)

	return &harness{
		dev:         dev,
		creds:       creds,
		blocks:      blocks,
		radio:       &fakeRadio{},
		recorder:    &stateRecorder{},
		clk:         clock.New(),
		submissions: make(chan Submission, 1),
		clears:      make(chan struct{}, 1),
		tzUpdates:   make(chan int32, 1),
		syncEvents:  make(chan timesync.Event, 4),
	}
}

func (h *harness) machine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(Config{
		APSSID:          "WifiSetup",
		TimezoneBlock:   1,
		ConnectAttempts: 3,
		ConnectTimeout:  50 * time.Millisecond,
		RetryDelay:      time.Millisecond,
	}, Deps{
		Credentials:     h.creds,
		Blocks:          h.blocks,
		Radio:           h.radio,
		Status:          status.NewReporter(h.recorder),
		Clock:           h.clk,
		Submissions:     h.submissions,
		ClearRequests:   h.clears,
		TimezoneUpdates: h.tzUpdates,
		SyncEvents:      h.syncEvents,
	})
	require.NoError(t, err)
	return m
}

func runMachine(t *testing.T, m *Machine) (Result, error) {
	t.Helper()
	type out struct {
		res Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := m.Run(context.Background())
		done <- out{res, err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-time.After(5 * time.Second):
		t.Fatal("machine did not return")
		return Result{}, nil
	}
}

// ---- TESTS ----

// The full lifecycle: blank device into setup mode, submission persists
// and restarts, bad network exhausts retries and wipes, back to setup.
func TestMachine_OnboardingLifecycle(t *testing.T) {
	h := newHarness(t)

	// Pass 1: nothing stored, the machine must open setup mode and wait.
	h.submissions <- Submission{SSID: "Home", Password: "secret123", TimezoneOffsetMinutes: -420}
	res, err := runMachine(t, h.machine(t))
	require.NoError(t, err)
	require.True(t, res.Restart)
	require.Equal(t, ReasonCredentialsSubmitted, res.Reason)
	require.Equal(t, []string{"WifiSetup"}, h.radio.apSSIDs)

	stored, ok, err := h.creds.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, credstore.Credentials{SSID: "Home", Password: "secret123"}, stored)

	var tz TimezoneOffset
	ok, err = h.blocks.Load(1, &tz)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, -420, tz.Minutes)

	// Pass 2: credentials present but the network rejects every attempt.
	h.radio.joinErr = errors.New("auth failure")
	res, err = runMachine(t, h.machine(t))
	require.NoError(t, err)
	require.True(t, res.Restart)
	require.Equal(t, ReasonRetryExhausted, res.Reason)
	require.Equal(t, 3, h.radio.joins())

	_, ok, err = h.creds.Load()
	require.NoError(t, err)
	require.False(t, ok, "failed credentials must be wiped")

	// Pass 3: wiped, so the machine is back in setup mode.
	h.submissions <- Submission{SSID: "Other", Password: "pw", TimezoneOffsetMinutes: 0}
	res, err = runMachine(t, h.machine(t))
	require.NoError(t, err)
	require.Equal(t, ReasonCredentialsSubmitted, res.Reason)

	require.Contains(t, h.recorder.seen(), uint16(status.StateAccessPoint))
	require.Contains(t, h.recorder.seen(), uint16(status.StateTryConnect))
}

func TestMachine_ConnectSuccessReachesReadyToWork(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.creds.Save(credstore.Credentials{SSID: "Home", Password: "secret123"}))

	var syncStarted atomic.Bool
	m := h.machine(t)
	m.deps.StartTimeSync = func(context.Context) { syncStarted.Store(true) }

	h.syncEvents <- timesync.Event{Err: errors.New("ntp timeout")}
	h.syncEvents <- timesync.Event{UnixSeconds: 1_704_067_200}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	var runErr error
	go func() {
		res, err := m.Run(ctx)
		runErr = err
		done <- res
	}()

	require.Eventually(t, func() bool {
		now, ok := h.clk.Unix()
		return ok && now >= 1_704_067_200
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, syncStarted.Load())

	cancel()
	res := <-done
	require.NoError(t, runErr)
	require.False(t, res.Restart)

	require.Equal(t, 1, h.radio.joins())
	require.Contains(t, h.recorder.seen(), uint16(status.StateReadyToWork))
}

func TestMachine_UserClearWipesAndRestarts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.creds.Save(credstore.Credentials{SSID: "Home", Password: "secret123"}))
	require.NoError(t, h.blocks.Save(1, &TimezoneOffset{Minutes: 120}))

	h.syncEvents <- timesync.Event{UnixSeconds: 1_704_067_200}
	h.clears <- struct{}{}

	res, err := runMachine(t, h.machine(t))
	require.NoError(t, err)
	require.True(t, res.Restart)
	require.Equal(t, ReasonUserClear, res.Reason)

	_, ok, err := h.creds.Load()
	require.NoError(t, err)
	require.False(t, ok)

	var tz TimezoneOffset
	ok, err = h.blocks.Load(1, &tz)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMachine_TimezoneUpdatePersistsOnlyOnChange(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.creds.Save(credstore.Credentials{SSID: "Home", Password: "secret123"}))

	m := h.machine(t)
	h.syncEvents <- timesync.Event{UnixSeconds: 1_704_067_200}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Run(ctx)
		done <- err
	}()

	h.tzUpdates <- 60
	require.Eventually(t, func() bool {
		var tz TimezoneOffset
		ok, err := h.blocks.Load(1, &tz)
		return err == nil && ok && tz.Minutes == 60
	}, 2*time.Second, 5*time.Millisecond)
	require.EqualValues(t, 60, h.clk.TimezoneOffset())

	// Out-of-range updates are dropped, not persisted.
	h.tzUpdates <- 9000
	time.Sleep(20 * time.Millisecond)
	var tz TimezoneOffset
	ok, err := h.blocks.Load(1, &tz)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 60, tz.Minutes)

	cancel()
	require.NoError(t, <-done)
}

func TestMachine_CorruptedCredentialsFallBackToSetup(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.creds.Save(credstore.Credentials{SSID: "Home", Password: "secret123"}))
	// Flip a bit inside the stored SSID bytes of credential block 0.
	blockBase := h.dev.Capacity() - h.dev.EraseSize()
	require.NoError(t, h.dev.Corrupt(blockBase+20, 0))

	h.submissions <- Submission{SSID: "Fresh", Password: "pw", TimezoneOffsetMinutes: 0}
	res, err := runMachine(t, h.machine(t))
	require.NoError(t, err)
	require.Equal(t, ReasonCredentialsSubmitted, res.Reason)
	require.Equal(t, 0, h.radio.joins(), "corrupted credentials must not be used to join")
}

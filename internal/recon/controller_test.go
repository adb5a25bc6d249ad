package recon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/radio"
)

const waitFor = 3 * time.Second

type sentFrame struct {
	data []byte
	at   time.Time
}

type fakeRadio struct {
	frames chan radio.Frame

	mu       sync.Mutex
	channels []int
	sent     []sentFrame
	sendErr  error
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{frames: make(chan radio.Frame, 64)}
}

func (r *fakeRadio) Frames() <-chan radio.Frame { return r.frames }

func (r *fakeRadio) SetChannel(_ context.Context, ch int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, ch)
	return nil
}

func (r *fakeRadio) SendFrame(_ context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, sentFrame{data: data, at: time.Now()})
	return nil
}

func (r *fakeRadio) failSends(err error) {
	r.mu.Lock()
	r.sendErr = err
	r.mu.Unlock()
}

func (r *fakeRadio) sentFrames() []sentFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentFrame(nil), r.sent...)
}

func (r *fakeRadio) tuned() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.channels...)
}

func (r *fakeRadio) feed(data []byte) {
	r.frames <- rawFrame(data)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scan.HopInterval = time.Hour
	cfg.Capture.DeauthCount = 3
	cfg.Capture.DeauthInterval = 50 * time.Millisecond
	cfg.Capture.Timeout = time.Minute
	cfg.Controller.SnapshotInterval = 10 * time.Millisecond
	cfg.Controller.SweepInterval = time.Hour
	cfg.Controller.TxRetries = 1
	return cfg
}

func startController(t *testing.T, cfg *config.Config, r Radio) *Controller {
	t.Helper()

	c := NewController(cfg, r)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func waitState(t *testing.T, c *Controller, want models.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Snapshot().State == want
	}, waitFor, 5*time.Millisecond, "state %s, last %s", want, c.Snapshot().State)
}

func waitSnapshot(t *testing.T, c *Controller, cond func(*models.Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(c.Snapshot())
	}, waitFor, 5*time.Millisecond)
}

func waitNotification(t *testing.T, c *Controller, kind models.NotificationKind) models.Notification {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case n, ok := <-c.Notifications():
			require.True(t, ok, "notifications closed")
			if n.Kind == kind {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notification", kind)
		}
	}
}

func knownAP(t *testing.T, c *Controller, r *fakeRadio, ssid string, channel int) {
	t.Helper()
	r.feed(beaconBytes(apMAC, ssid, channel, true))
	waitSnapshot(t, c, func(s *models.Snapshot) bool {
		_, ok := s.AccessPoint(apMAC)
		return ok
	})
}

func TestController_StartsIdle(t *testing.T) {
	c := NewController(testConfig(), newFakeRadio())

	snap := c.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, models.StateIdle, snap.State)
	assert.Equal(t, models.ModeNone, snap.Mode)
	assert.Nil(t, snap.Target)
}

func TestController_CaptureRequiresTarget(t *testing.T) {
	ctx := context.Background()
	c := startController(t, testConfig(), newFakeRadio())

	assert.ErrorIs(t, c.StartCapture(ctx), ErrNoTarget)
	assert.ErrorIs(t, c.SetMode(ctx, models.ModeCapture, nil), ErrNoTarget)
	assert.Equal(t, models.StateIdle, c.Snapshot().State)

	require.NoError(t, c.SetMode(ctx, models.ModePassive, nil))
	assert.Equal(t, models.StateScanning, c.Snapshot().State)
	assert.ErrorIs(t, c.StartCapture(ctx), ErrNoTarget)

	// passive mode stores the target but never transmits
	require.NoError(t, c.SetTarget(ctx, models.Target{BSSID: apMAC}))
	snap := c.Snapshot()
	assert.Equal(t, models.StateScanning, snap.State)
	require.NotNil(t, snap.Target)
	assert.Equal(t, apMAC, snap.Target.BSSID)
	assert.ErrorIs(t, c.StartCapture(ctx), ErrPassiveMode)
}

func TestController_CaptureBurstThenTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Capture.Timeout = 500 * time.Millisecond
	r := newFakeRadio()
	c := startController(t, cfg, r)

	knownAP(t, c, r, "Corp", 6)
	require.NoError(t, c.SetMode(ctx, models.ModeCapture, &models.Target{BSSID: apMAC}))

	snap := c.Snapshot()
	assert.Equal(t, models.StateCapturing, snap.State)
	assert.True(t, snap.Pinned)
	assert.Equal(t, 6, snap.Channel)
	require.NotNil(t, snap.Target)
	assert.Equal(t, "Corp", snap.Target.SSID)

	// half a handshake that will never finish
	r.feed(eapolBytes(apMAC, clientMAC, 1, false))

	require.Eventually(t, func() bool { return len(r.sentFrames()) == 3 }, waitFor, 5*time.Millisecond)
	sent := r.sentFrames()
	assert.GreaterOrEqual(t, sent[2].at.Sub(sent[0].at), 80*time.Millisecond, "steps are spaced by the interval")
	assert.Contains(t, r.tuned(), 6)

	waitState(t, c, models.StateScanning)
	snap = c.Snapshot()
	require.NotNil(t, snap.Target, "target survives a timeout")
	assert.Equal(t, apMAC, snap.Target.BSSID)
	require.NotNil(t, snap.Capture)
	assert.Equal(t, models.OutcomeTimeout, snap.Capture.Outcome)
	assert.Equal(t, 3, snap.Capture.DeauthSent)
	assert.False(t, snap.Pinned)
	assert.Empty(t, snap.Sessions)
	assert.Equal(t, uint64(1), snap.Stats.AbandonedSessions)
	assert.Equal(t, uint64(3), snap.Stats.DeauthSent)
}

func TestController_HandshakeStopsCapture(t *testing.T) {
	ctx := context.Background()
	r := newFakeRadio()
	c := startController(t, testConfig(), r)

	knownAP(t, c, r, "Corp", 6)
	require.NoError(t, c.SetMode(ctx, models.ModeCapture, &models.Target{BSSID: apMAC}))

	for msg := 1; msg <= 4; msg++ {
		r.feed(eapolBytes(apMAC, clientMAC, msg, false))
	}

	n := waitNotification(t, c, models.NotifyHandshake)
	assert.True(t, n.Targeted)
	assert.True(t, n.Complete)
	assert.Equal(t, "Corp", n.SSID)
	assert.Equal(t, models.CaptureHandshake, n.CaptureKind)
	require.NotNil(t, n.BSSID)
	assert.Equal(t, apMAC, *n.BSSID)
	require.NotNil(t, n.ClientMAC)
	assert.Equal(t, clientMAC, *n.ClientMAC)

	waitState(t, c, models.StateStopped)
	waitSnapshot(t, c, func(s *models.Snapshot) bool { return s.Stats.EAPOL == 4 })

	snap := c.Snapshot()
	require.NotNil(t, snap.Capture)
	assert.Equal(t, models.OutcomeCaptured, snap.Capture.Outcome)
	assert.Equal(t, models.CaptureHandshake, snap.Capture.Kind)
	assert.Equal(t, uint64(1), snap.Stats.Handshakes)
	assert.True(t, snap.Captured(apMAC))
	assert.Len(t, snap.Captures, 1)
}

func TestController_HandshakeWithoutAutoStop(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	autoStop := false
	cfg.Capture.AutoStop = &autoStop
	r := newFakeRadio()
	c := startController(t, cfg, r)

	knownAP(t, c, r, "Corp", 6)
	require.NoError(t, c.SetMode(ctx, models.ModeCapture, &models.Target{BSSID: apMAC}))

	r.feed(eapolBytes(apMAC, clientMAC, 1, true))
	n := waitNotification(t, c, models.NotifyHandshake)
	assert.Equal(t, models.CapturePMKID, n.CaptureKind)

	waitSnapshot(t, c, func(s *models.Snapshot) bool { return s.Stats.PMKIDs == 1 })
	assert.Equal(t, models.StateCapturing, c.Snapshot().State)
}

func TestController_TracksNonTargetHandshakes(t *testing.T) {
	ctx := context.Background()
	r := newFakeRadio()
	c := startController(t, testConfig(), r)

	require.NoError(t, c.SetMode(ctx, models.ModePassive, nil))
	r.feed(beaconBytes(apMAC2, "Neighbour", 1, true))
	r.feed(eapolBytes(apMAC2, clientMAC, 2, false))
	r.feed(eapolBytes(apMAC2, clientMAC, 3, false))

	n := waitNotification(t, c, models.NotifyHandshake)
	assert.False(t, n.Targeted)
	assert.Equal(t, "Neighbour", n.SSID)
	assert.Equal(t, models.StateScanning, c.Snapshot().State)
}

func TestController_TrackAllDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	trackAll := false
	cfg.Capture.TrackAll = &trackAll
	r := newFakeRadio()
	c := startController(t, cfg, r)

	require.NoError(t, c.SetMode(ctx, models.ModePassive, nil))
	r.feed(eapolBytes(apMAC2, clientMAC, 1, false))
	r.feed(eapolBytes(apMAC2, clientMAC, 2, false))
	r.feed(eapolBytes(apMAC2, clientMAC, 3, false))

	waitSnapshot(t, c, func(s *models.Snapshot) bool { return s.Stats.EAPOL == 3 })
	snap := c.Snapshot()
	assert.Empty(t, snap.Captures)
	assert.Empty(t, snap.Sessions)
	assert.Len(t, snap.Clients, 1, "EAPOL still proves the client")
}

func TestController_Rejections(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Targets.Ignore = []string{"guest"}
	c := startController(t, cfg, newFakeRadio())

	assert.ErrorIs(t, c.SetMode(ctx, models.Mode("bogus"), nil), ErrInvalidMode)
	assert.ErrorIs(t, c.Reset(ctx), ErrNotInError)
	assert.ErrorIs(t, c.StopCapture(ctx), ErrNotCapturing)
	assert.ErrorIs(t, c.SendDeauth(ctx, DeauthRequest{BSSID: apMAC}), ErrNoMode)

	require.NoError(t, c.SetMode(ctx, models.ModePassive, nil))
	assert.ErrorIs(t, c.SetMode(ctx, models.ModePassive, nil), ErrModeUnchanged)
	assert.ErrorIs(t, c.SendDeauth(ctx, DeauthRequest{BSSID: apMAC}), ErrPassiveMode)

	require.NoError(t, c.SetMode(ctx, models.ModeDrop, nil))
	assert.True(t, c.Snapshot().Drop)
	assert.ErrorIs(t, c.SendDeauth(ctx, DeauthRequest{BSSID: apMAC2, SSID: "Guest-WiFi"}), ErrTargetIgnored)
	assert.ErrorIs(t, c.SetTarget(ctx, models.Target{BSSID: apMAC2, SSID: "guest"}), ErrTargetIgnored)

	require.NoError(t, c.SetMode(ctx, models.ModeCapture, &models.Target{BSSID: apMAC}))
	assert.ErrorIs(t, c.SendDeauth(ctx, DeauthRequest{BSSID: apMAC2}), ErrCaptureBusy)
	assert.ErrorIs(t, c.SetTarget(ctx, models.Target{BSSID: apMAC}), ErrAlreadyCapturing)
	assert.ErrorIs(t, c.StartCapture(ctx), ErrAlreadyCapturing)

	err := c.SetMode(ctx, models.ModeCapture, nil)
	assert.ErrorIs(t, err, ErrModeUnchanged)
	assert.True(t, IsRejected(err))
	assert.Equal(t, models.StateCapturing, c.Snapshot().State, "rejections leave state unchanged")
}

func TestController_StopCaptureRevertsToScanning(t *testing.T) {
	ctx := context.Background()
	r := newFakeRadio()
	c := startController(t, testConfig(), r)

	require.NoError(t, c.SetMode(ctx, models.ModeDrop, nil))
	require.NoError(t, c.SetTarget(ctx, models.Target{BSSID: apMAC}))
	require.NoError(t, c.StartCapture(ctx))
	assert.Equal(t, models.StateCapturing, c.Snapshot().State)

	require.NoError(t, c.StopCapture(ctx))
	snap := c.Snapshot()
	assert.Equal(t, models.StateScanning, snap.State)
	assert.Equal(t, models.OutcomeStopped, snap.Capture.Outcome)
	require.NotNil(t, snap.Target)
	assert.Equal(t, apMAC, snap.Target.BSSID)

	// retargeting in capture mode starts a new attempt
	require.NoError(t, c.SetMode(ctx, models.ModeCapture, nil))
	first := c.Snapshot().Capture.ID
	require.NoError(t, c.SetTarget(ctx, models.Target{BSSID: apMAC2}))
	snap = c.Snapshot()
	assert.Equal(t, models.StateCapturing, snap.State)
	assert.NotEqual(t, first, snap.Capture.ID)
	assert.Equal(t, apMAC2, snap.Capture.Target.BSSID)

	// leaving capture mode ends the attempt and forgets the target
	require.NoError(t, c.SetMode(ctx, models.ModePassive, nil))
	snap = c.Snapshot()
	assert.Equal(t, models.StateScanning, snap.State)
	assert.Nil(t, snap.Target)
	assert.Equal(t, models.OutcomeModeChanged, snap.Capture.Outcome)
}

func TestController_ManualDeauthTargetsKnownClient(t *testing.T) {
	ctx := context.Background()
	r := newFakeRadio()
	c := startController(t, testConfig(), r)

	require.NoError(t, c.SetMode(ctx, models.ModeDrop, nil))
	knownAP(t, c, r, "Corp", 11)
	r.feed(dataBytes(apMAC, clientMAC, true))
	waitSnapshot(t, c, func(s *models.Snapshot) bool { return len(s.Clients) == 1 })

	require.NoError(t, c.SendDeauth(ctx, DeauthRequest{BSSID: apMAC}))
	assert.True(t, c.Snapshot().Pinned)

	require.Eventually(t, func() bool { return len(r.sentFrames()) == 6 }, waitFor, 5*time.Millisecond)
	assert.Contains(t, r.tuned(), 11)

	waitSnapshot(t, c, func(s *models.Snapshot) bool {
		return !s.Pinned && s.Stats.DeauthSent == 6
	})
	assert.Equal(t, models.StateScanning, c.Snapshot().State)
}

func TestController_SourceClosedEntersError(t *testing.T) {
	ctx := context.Background()
	r := newFakeRadio()
	c := startController(t, testConfig(), r)

	require.NoError(t, c.SetMode(ctx, models.ModePassive, nil))
	close(r.frames)

	waitState(t, c, models.StateError)
	assert.NotEmpty(t, c.Snapshot().LastError)

	assert.ErrorIs(t, c.SetMode(ctx, models.ModeDrop, nil), ErrControllerFault)
	assert.ErrorIs(t, c.SendDeauth(ctx, DeauthRequest{BSSID: apMAC}), ErrControllerFault)

	require.NoError(t, c.Reset(ctx))
	snap := c.Snapshot()
	assert.Equal(t, models.StateIdle, snap.State)
	assert.Equal(t, models.ModeNone, snap.Mode)
	assert.Empty(t, snap.LastError)
}

func TestController_TransmitFailuresExhaustBudget(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Capture.DeauthCount = 5
	cfg.Capture.DeauthInterval = 20 * time.Millisecond
	cfg.Controller.DriverErrorBudget = 2
	r := newFakeRadio()
	r.failSends(errors.New("injection refused"))
	c := startController(t, cfg, r)

	require.NoError(t, c.SetMode(ctx, models.ModeDrop, nil))
	require.NoError(t, c.SendDeauth(ctx, DeauthRequest{BSSID: apMAC}))

	n := waitNotification(t, c, models.NotifyWarning)
	assert.Contains(t, n.Message, "injection refused")

	waitState(t, c, models.StateError)
	snap := c.Snapshot()
	assert.GreaterOrEqual(t, snap.Stats.TxErrors, uint64(2))
	assert.Contains(t, snap.LastError, "budget")
}

func TestController_HopsWhileScanning(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Scan.HopInterval = 20 * time.Millisecond
	r := newFakeRadio()
	c := startController(t, cfg, r)

	require.NoError(t, c.SetMode(ctx, models.ModePassive, nil))
	require.Eventually(t, func() bool { return len(r.tuned()) >= 4 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []int{1, 6, 11, 1}, r.tuned()[:4])

	waitSnapshot(t, c, func(s *models.Snapshot) bool { return s.HopCount >= 4 })
}

func TestController_ProbesAndBadFrames(t *testing.T) {
	ctx := context.Background()
	r := newFakeRadio()
	c := startController(t, testConfig(), r)

	require.NoError(t, c.SetMode(ctx, models.ModePassive, nil))
	r.feed(probeRequestBytes(clientMAC, "HomeNet"))
	r.feed([]byte{0x01})

	n := waitNotification(t, c, models.NotifyProbe)
	assert.Equal(t, "HomeNet", n.SSID)

	waitSnapshot(t, c, func(s *models.Snapshot) bool {
		return s.Stats.Frames == 2 && s.Stats.ParseErrors == 1
	})
	snap := c.Snapshot()
	assert.Equal(t, 1, snap.ProbeCount)
	require.Len(t, snap.Probes, 1)
	assert.Equal(t, clientMAC, snap.Probes[0].ClientMAC)
}

func TestController_HiddenSSIDRevealedByProbeResponse(t *testing.T) {
	ctx := context.Background()
	r := newFakeRadio()
	c := startController(t, testConfig(), r)

	require.NoError(t, c.SetMode(ctx, models.ModePassive, nil))
	r.feed(beaconBytes(apMAC, "", 6, true))
	waitSnapshot(t, c, func(s *models.Snapshot) bool {
		ap, ok := s.AccessPoint(apMAC)
		return ok && ap.Hidden
	})

	r.feed(probeResponseBytes(apMAC, clientMAC, "Backstage", 6))
	waitSnapshot(t, c, func(s *models.Snapshot) bool {
		ap, _ := s.AccessPoint(apMAC)
		return !ap.Hidden && ap.SSID == "Backstage"
	})
}

func TestController_AutostartFallsBackToPassive(t *testing.T) {
	cfg := testConfig()
	cfg.Autostart.Enabled = true
	cfg.Autostart.Mode = "capture"
	c := startController(t, cfg, newFakeRadio())

	waitState(t, c, models.StateScanning)
	assert.Equal(t, models.ModePassive, c.Snapshot().Mode)
}

func TestController_CommandsAfterShutdown(t *testing.T) {
	c := NewController(testConfig(), newFakeRadio())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- c.Run(ctx) }()
	require.NoError(t, c.SetMode(context.Background(), models.ModePassive, nil))

	cancel()
	require.NoError(t, <-done)

	assert.ErrorIs(t, c.StopCapture(context.Background()), ErrNotRunning)
	_, ok := <-drain(c.Notifications())
	assert.False(t, ok)
}

// drain empties a notification channel and returns it once closed
func drain(ch <-chan models.Notification) <-chan models.Notification {
	for range ch {
	}
	return ch
}

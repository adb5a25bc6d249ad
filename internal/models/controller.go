package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// Mode is the operational profile
type Mode string

const (
	ModeNone    Mode = ""
	ModePassive Mode = "passive"
	ModeCapture Mode = "capture"
	ModeDrop    Mode = "drop"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModePassive, ModeCapture, ModeDrop:
		return m, true
	}
	return ModeNone, false
}

// Transmits reports whether the mode allows RF transmission
func (m Mode) Transmits() bool {
	return m == ModeCapture || m == ModeDrop
}

// State is the controller state
type State string

const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateCapturing State = "capturing"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// Target is the network selected for capture
type Target struct {
	BSSID dot11.MAC `json:"bssid"`
	SSID  string    `json:"ssid"`
}

// CaptureAttempt describes the running or last capture
type CaptureAttempt struct {
	ID         uuid.UUID   `json:"id"`
	Target     Target      `json:"target"`
	Channel    int         `json:"channel"`
	StartedAt  time.Time   `json:"started_at"`
	Deadline   time.Time   `json:"deadline"`
	EndedAt    *time.Time  `json:"ended_at,omitempty"`
	Outcome    string      `json:"outcome,omitempty"`
	DeauthSent int         `json:"deauth_sent"`
	Bursts     int         `json:"bursts"`
	Kind       CaptureKind `json:"capture_kind,omitempty"`
}

// Capture outcomes
const (
	OutcomeCaptured    = "captured"
	OutcomeStopped     = "stopped"
	OutcomeTimeout     = "timeout"
	OutcomeRetargeted  = "retargeted"
	OutcomeModeChanged = "mode_changed"
	OutcomeError       = "error"
)

// Stats are cumulative engine counters
type Stats struct {
	Frames            uint64 `json:"frames"`
	ParseErrors       uint64 `json:"parse_errors"`
	Unrecognized      uint64 `json:"unrecognized"`
	QueueDrops        uint64 `json:"queue_drops"`
	EAPOL             uint64 `json:"eapol"`
	TxErrors          uint64 `json:"tx_errors"`
	DeauthSent        uint64 `json:"deauth_sent"`
	Hops              uint64 `json:"hops"`
	Handshakes        uint64 `json:"handshakes"`
	PMKIDs            uint64 `json:"pmkids"`
	AbandonedSessions uint64 `json:"abandoned_sessions"`
	NotificationDrops uint64 `json:"notification_drops"`
}

// Snapshot is an immutable view of the engine published by the control loop
type Snapshot struct {
	State     State           `json:"state"`
	Mode      Mode            `json:"mode"`
	Drop      bool            `json:"drop"`
	Target    *Target         `json:"target,omitempty"`
	Capture   *CaptureAttempt `json:"capture,omitempty"`
	LastError string          `json:"last_error,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Channel  int  `json:"channel"`
	Pinned   bool `json:"pinned"`
	HopCount int  `json:"hop_count"`

	Stats Stats `json:"stats"`

	AccessPoints []AccessPoint      `json:"access_points"`
	Clients      []Client           `json:"clients"`
	Probes       []ProbeSighting    `json:"probes"`
	ProbeCount   int                `json:"probe_count"`
	Captures     []HandshakeSession `json:"captures"`
	Sessions     []HandshakeSession `json:"sessions"`
}

// Uptime since the controller started
func (s *Snapshot) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// AccessPoint returns the access point with the given BSSID
func (s *Snapshot) AccessPoint(bssid dot11.MAC) (AccessPoint, bool) {
	for _, ap := range s.AccessPoints {
		if ap.BSSID == bssid {
			return ap, true
		}
	}
	return AccessPoint{}, false
}

// Captured reports whether a complete capture exists for bssid
func (s *Snapshot) Captured(bssid dot11.MAC) bool {
	for _, c := range s.Captures {
		if c.BSSID == bssid {
			return true
		}
	}
	return false
}

// NotificationKind classifies outbound notifications
type NotificationKind string

const (
	NotifyHandshake    NotificationKind = "handshake_captured"
	NotifyStateChanged NotificationKind = "state_changed"
	NotifyWarning      NotificationKind = "warning"
	NotifyProbe        NotificationKind = "probe"
)

// Notification is emitted by the controller for export and persistence collaborators
type Notification struct {
	ID   uuid.UUID        `json:"id"`
	Kind NotificationKind `json:"kind"`
	Time time.Time        `json:"time"`

	// handshake_captured
	BSSID       *dot11.MAC  `json:"bssid,omitempty"`
	SSID        string      `json:"ssid,omitempty"`
	ClientMAC   *dot11.MAC  `json:"client_mac,omitempty"`
	CaptureKind CaptureKind `json:"capture_kind,omitempty"`
	Complete    bool        `json:"complete,omitempty"`
	Messages    []uint8     `json:"messages,omitempty"`
	Targeted    bool        `json:"targeted,omitempty"`

	// state_changed
	State     State  `json:"state,omitempty"`
	PrevState State  `json:"prev_state,omitempty"`
	Mode      Mode   `json:"mode,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// warning and probe
	Message string `json:"message,omitempty"`
	Signal  int    `json:"signal_dbm,omitempty"`
}

// Subject returns the NATS subject for the notification
func (n *Notification) Subject(prefix string) string {
	switch n.Kind {
	case NotifyHandshake:
		if n.BSSID != nil {
			return prefix + ".capture." + macToken(*n.BSSID) + "." + string(n.CaptureKind)
		}
	case NotifyProbe:
		if n.ClientMAC != nil {
			return prefix + ".probe." + macToken(*n.ClientMAC)
		}
	}
	return prefix + "." + string(n.Kind)
}

// macToken renders a MAC without separators so it is a single subject token
func macToken(m dot11.MAC) string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 0, 12)
	for _, octet := range m {
		b = append(b, hexdigits[octet>>4], hexdigits[octet&0x0f])
	}
	return string(b)
}

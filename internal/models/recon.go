package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// AccessPoint represents an observed BSS
type AccessPoint struct {
	BSSID     dot11.MAC      `json:"bssid" db:"bssid"`
	SSID      string         `json:"ssid" db:"ssid"`
	Channel   int            `json:"channel" db:"channel"`
	Signal    int            `json:"signal_dbm" db:"signal_dbm"`
	Security  dot11.Security `json:"security" db:"security"`
	Hidden    bool           `json:"hidden" db:"hidden"`
	Clients   []dot11.MAC    `json:"clients"`
	Beacons   int            `json:"beacons" db:"beacons"`
	FirstSeen time.Time      `json:"first_seen" db:"first_seen"`
	LastSeen  time.Time      `json:"last_seen" db:"last_seen"`
}

// Clone returns a deep copy
func (a *AccessPoint) Clone() AccessPoint {
	c := *a
	c.Clients = append([]dot11.MAC(nil), a.Clients...)
	return c
}

// Client represents an observed station
type Client struct {
	MAC             dot11.MAC  `json:"mac" db:"mac"`
	AssociatedBSSID *dot11.MAC `json:"associated_bssid,omitempty" db:"associated_bssid"`
	ProbedSSIDs     []string   `json:"probed_ssids"`
	Signal          int        `json:"signal_dbm" db:"signal_dbm"`
	Frames          int        `json:"frames" db:"frames"`
	FirstSeen       time.Time  `json:"first_seen" db:"first_seen"`
	LastSeen        time.Time  `json:"last_seen" db:"last_seen"`
}

// Clone returns a deep copy
func (c *Client) Clone() Client {
	out := *c
	if c.AssociatedBSSID != nil {
		bssid := *c.AssociatedBSSID
		out.AssociatedBSSID = &bssid
	}
	out.ProbedSSIDs = append([]string(nil), c.ProbedSSIDs...)
	return out
}

// ProbeSighting is an immutable record of a directed probe request
type ProbeSighting struct {
	ClientMAC dot11.MAC `json:"client_mac" db:"client_mac"`
	SSID      string    `json:"ssid" db:"ssid"`
	Signal    int       `json:"signal_dbm" db:"signal_dbm"`
	Timestamp time.Time `json:"timestamp" db:"seen_at"`
}

// CaptureKind tells a full handshake from a PMKID
type CaptureKind string

const (
	CaptureHandshake CaptureKind = "handshake"
	CapturePMKID     CaptureKind = "pmkid"
)

// HandshakeSession tracks the EAPOL messages of one (bssid, client) pair
type HandshakeSession struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	BSSID        dot11.MAC   `json:"bssid" db:"bssid"`
	ClientMAC    dot11.MAC   `json:"client_mac" db:"client_mac"`
	SSID         string      `json:"ssid" db:"ssid"`
	Messages     []uint8     `json:"messages"`
	Complete     bool        `json:"complete" db:"complete"`
	CaptureKind  CaptureKind `json:"capture_kind,omitempty" db:"capture_kind"`
	StartedAt    time.Time   `json:"started_at" db:"started_at"`
	LastActivity time.Time   `json:"last_activity" db:"last_activity"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a deep copy
func (s *HandshakeSession) Clone() HandshakeSession {
	c := *s
	c.Messages = append([]uint8(nil), s.Messages...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
